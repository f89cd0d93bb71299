package turn

import "bytes"

// Buffer assembles the audio stream of one turn. Chunks are appended in
// arrival order and never reordered, deduplicated or size-limited.
type Buffer struct {
	open bool
	data bytes.Buffer
}

func (b *Buffer) IsOpen() bool { return b.open }

// Len returns the number of bytes assembled so far.
func (b *Buffer) Len() int { return b.data.Len() }

func (b *Buffer) Open() error {
	if b.open {
		return &ProtocolError{Event: string(TriggerStreamStart), Reason: "audio stream already open"}
	}
	b.data.Reset()
	b.open = true
	return nil
}

func (b *Buffer) Append(chunk []byte) error {
	if !b.open {
		return &ProtocolError{Event: "voice_audio_chunk", Reason: "no audio stream open"}
	}
	b.data.Write(chunk)
	return nil
}

// Close returns the assembled bytes and clears the buffer.
func (b *Buffer) Close() ([]byte, error) {
	if !b.open {
		return nil, &ProtocolError{Event: string(TriggerStreamEnd), Reason: "no audio stream open"}
	}
	out := bytes.Clone(b.data.Bytes())
	b.data.Reset()
	b.open = false
	return out, nil
}

// Discard drops any open stream.
func (b *Buffer) Discard() {
	b.data.Reset()
	b.open = false
}
