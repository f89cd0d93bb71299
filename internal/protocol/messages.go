package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/voicepipeline/internal/turn"
	"github.com/ent0n29/voicepipeline/internal/voice"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStreamStart MessageType = "voice_audio_stream_start"
	TypeAudioChunk  MessageType = "voice_audio_chunk"
	TypeStreamEnd   MessageType = "voice_audio_stream_end"
	TypeInterrupt   MessageType = "interrupt"
	TypeDisconnect  MessageType = "disconnect"

	TypeModeChange MessageType = "mode_change"
	TypeTranscript MessageType = "transcript"
	TypeAgentText  MessageType = "agent_text"
	TypeAgentAudio MessageType = "agent_audio"
	TypeError      MessageType = "error"
)

// Error codes carried by ErrorMessage.
const (
	CodeProtocolError   = "protocol_error"
	CodeProviderError   = "provider_error"
	CodeValidationError = "validation_error"
	CodeInvalidMessage  = "invalid_message"
	CodeInternalError   = "internal_error"
)

// ErrInvalidMessage wraps every ParseClientMessage failure.
var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidAudio    = errors.New("invalid audio payload")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is a decoded inbound message. Audio is set only for
// voice_audio_chunk and holds the decoded bytes.
type ClientMessage struct {
	Type  MessageType
	Audio []byte
}

type audioChunk struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
}

type ModeChange struct {
	Type MessageType `json:"type"`
	Mode string      `json:"mode"`
}

type TextMessage struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text"`
	Final bool        `json:"final"`
}

type AgentAudio struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
	Final bool        `json:"final"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Stage   string      `json:"stage,omitempty"`
}

func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch env.Type {
	case TypeStreamStart, TypeStreamEnd, TypeInterrupt, TypeDisconnect:
		return ClientMessage{Type: env.Type}, nil
	case TypeAudioChunk:
		var msg audioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return ClientMessage{}, fmt.Errorf("%w: %w: %v", ErrInvalidMessage, ErrInvalidAudio, err)
		}
		return ClientMessage{Type: TypeAudioChunk, Audio: audio}, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %w %q", ErrInvalidMessage, ErrUnsupportedType, env.Type)
	}
}

// InvalidMessage builds the error reply for a frame that could not be parsed.
func InvalidMessage(err error) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: err.Error(), Code: CodeInvalidMessage}
}

// ServerMessageFor converts a turn event into its wire form.
func ServerMessageFor(ev turn.Event) (any, bool) {
	switch ev.Kind {
	case turn.KindModeChanged:
		return ModeChange{Type: TypeModeChange, Mode: string(ev.Mode)}, true
	case turn.KindTranscriptReady:
		return TextMessage{Type: TypeTranscript, Text: ev.Text, Final: true}, true
	case turn.KindReplyTextReady:
		return TextMessage{Type: TypeAgentText, Text: ev.Text, Final: true}, true
	case turn.KindSynthesisReady:
		return AgentAudio{Type: TypeAgentAudio, Audio: base64.StdEncoding.EncodeToString(ev.Audio), Final: true}, true
	case turn.KindError:
		return errorMessageFor(ev), true
	default:
		return nil, false
	}
}

func errorMessageFor(ev turn.Event) ErrorMessage {
	msg := ErrorMessage{Type: TypeError, Stage: string(ev.Stage), Code: CodeInternalError}
	if ev.Err != nil {
		msg.Message = ev.Err.Error()
	}
	var perr *voice.ProviderError
	switch {
	case turn.IsProtocolError(ev.Err):
		msg.Code = CodeProtocolError
	case turn.IsValidationError(ev.Err):
		msg.Code = CodeValidationError
	case errors.As(ev.Err, &perr):
		msg.Code = CodeProviderError
		msg.Stage = string(perr.Stage)
	case errors.Is(ev.Err, ErrInvalidMessage):
		msg.Code = CodeInvalidMessage
	}
	if msg.Message == "" {
		msg.Message = msg.Code
	}
	return msg
}
