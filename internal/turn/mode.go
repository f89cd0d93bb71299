package turn

// Mode is the conversational state of a session.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeListening Mode = "listening"
	ModeSpeaking  Mode = "speaking"
)

// Trigger drives a mode transition.
type Trigger string

const (
	TriggerStreamStart Trigger = "voice_audio_stream_start"
	TriggerStreamEnd   Trigger = "voice_audio_stream_end"
	TriggerTurnDone    Trigger = "turn_done"
	TriggerInterrupt   Trigger = "interrupt"
)

// Next returns the mode reached by firing t in from, or a ProtocolError when
// the transition is not in the table:
//
//	idle      + stream start -> listening
//	listening + stream end   -> speaking
//	speaking  + turn done    -> idle
//	any       + interrupt    -> idle
func Next(from Mode, t Trigger) (Mode, error) {
	if from == "" {
		from = ModeIdle
	}
	switch {
	case t == TriggerInterrupt:
		return ModeIdle, nil
	case from == ModeIdle && t == TriggerStreamStart:
		return ModeListening, nil
	case from == ModeListening && t == TriggerStreamEnd:
		return ModeSpeaking, nil
	case from == ModeSpeaking && t == TriggerTurnDone:
		return ModeIdle, nil
	}
	return from, &ProtocolError{Event: string(t), Mode: from}
}

// Machine holds the current mode. The zero value is idle. It is not safe for
// concurrent use; a session owns its machine.
type Machine struct {
	mode Mode
}

func (m *Machine) Mode() Mode {
	if m.mode == "" {
		return ModeIdle
	}
	return m.mode
}

// Can reports whether t is legal in the current mode without changing it.
func (m *Machine) Can(t Trigger) error {
	_, err := Next(m.Mode(), t)
	return err
}

// Fire applies t. On error the mode is unchanged.
func (m *Machine) Fire(t Trigger) (Mode, error) {
	next, err := Next(m.Mode(), t)
	if err != nil {
		return m.Mode(), err
	}
	m.mode = next
	return next, nil
}
