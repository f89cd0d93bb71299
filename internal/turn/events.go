package turn

import "github.com/ent0n29/voicepipeline/internal/voice"

// EventKind discriminates outbound events.
type EventKind string

const (
	KindModeChanged     EventKind = "mode_changed"
	KindTranscriptReady EventKind = "transcript_ready"
	KindReplyTextReady  EventKind = "reply_text_ready"
	KindSynthesisReady  EventKind = "synthesis_ready"
	KindError           EventKind = "error"
)

// Event reports a state change or a stage result. Events are values and are
// never mutated after emission.
type Event struct {
	Kind   EventKind
	TurnID string
	Mode   Mode
	Text   string
	Audio  []byte
	Final  bool
	Stage  voice.Stage
	Err    error
}

func ModeChanged(m Mode) Event {
	return Event{Kind: KindModeChanged, Mode: m}
}

func TranscriptReady(turnID, text string) Event {
	return Event{Kind: KindTranscriptReady, TurnID: turnID, Text: text, Final: true}
}

func ReplyTextReady(turnID, text string) Event {
	return Event{Kind: KindReplyTextReady, TurnID: turnID, Text: text, Final: true}
}

// SynthesisReady carries the whole synthesized artifact; Final is always true.
func SynthesisReady(turnID string, audio []byte) Event {
	return Event{Kind: KindSynthesisReady, TurnID: turnID, Audio: audio, Final: true}
}

func Failure(turnID string, stage voice.Stage, err error) Event {
	return Event{Kind: KindError, TurnID: turnID, Stage: stage, Err: err}
}

// Emitter receives events in order. Implementations must not block indefinitely.
type Emitter func(Event)
