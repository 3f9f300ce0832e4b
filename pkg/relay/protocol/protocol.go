// Package protocol defines the ConversationRelay websocket frames.
//
// Inbound frames are decoded into one of the InboundEvent variants; any type
// this package does not know becomes Unknown so callers can log and move on.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeSetup     = "setup"
	TypePrompt    = "prompt"
	TypeInterrupt = "interrupt"
	TypeDTMF      = "dtmf"
	TypeError     = "error"

	TypeText = "text"
)

// ProtocolDecodeError means a frame could not be read as an inbound event.
type ProtocolDecodeError struct {
	Code    string
	Message string
	// Type is the frame's type tag, when it got that far.
	Type string
	Err  error
}

func (e *ProtocolDecodeError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

func badFrame(typ, message string, err error) *ProtocolDecodeError {
	return &ProtocolDecodeError{Code: "bad_frame", Message: message, Type: typ, Err: err}
}

// InboundEvent is implemented by every inbound variant.
type InboundEvent interface {
	EventType() string
	inbound()
}

type Setup struct {
	CallSID          string            `json:"callSid"`
	SessionID        string            `json:"sessionId,omitempty"`
	AccountSID       string            `json:"accountSid,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	Direction        string            `json:"direction,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type Prompt struct {
	VoicePrompt string `json:"voicePrompt"`
	Lang        string `json:"lang,omitempty"`
	Last        *bool  `json:"last,omitempty"`
}

type Interrupt struct {
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt,omitempty"`
	DurationUntilInterruptMs int64  `json:"durationUntilInterruptMs,omitempty"`
}

type DTMF struct {
	Digit string `json:"digit"`
}

// PlatformError is an error the telephony platform reports over the socket.
type PlatformError struct {
	Description string `json:"description"`
}

type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Setup) EventType() string         { return TypeSetup }
func (Prompt) EventType() string        { return TypePrompt }
func (Interrupt) EventType() string     { return TypeInterrupt }
func (DTMF) EventType() string          { return TypeDTMF }
func (PlatformError) EventType() string { return TypeError }
func (u Unknown) EventType() string     { return u.Type }

func (Setup) inbound()         {}
func (Prompt) inbound()        {}
func (Interrupt) inbound()     {}
func (DTMF) inbound()          {}
func (PlatformError) inbound() {}
func (Unknown) inbound()       {}

type envelope struct {
	Type *string `json:"type"`
}

// DecodeInbound parses one text frame.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badFrame("", "frame is not a json object", err)
	}
	if env.Type == nil {
		return nil, badFrame("", "frame has no type", nil)
	}
	typ := strings.TrimSpace(*env.Type)

	switch typ {
	case TypeSetup:
		var s Setup
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, badFrame(typ, "invalid setup frame", err)
		}
		s.CallSID = strings.TrimSpace(s.CallSID)
		if s.CallSID == "" {
			return nil, badFrame(typ, "setup frame is missing callSid", nil)
		}
		return s, nil
	case TypePrompt:
		var p Prompt
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, badFrame(typ, "invalid prompt frame", err)
		}
		if strings.TrimSpace(p.VoicePrompt) == "" {
			return nil, badFrame(typ, "prompt frame has an empty voicePrompt", nil)
		}
		return p, nil
	case TypeInterrupt:
		var i Interrupt
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, badFrame(typ, "invalid interrupt frame", err)
		}
		return i, nil
	case TypeDTMF:
		var d DTMF
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, badFrame(typ, "invalid dtmf frame", err)
		}
		return d, nil
	case TypeError:
		var e PlatformError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, badFrame(typ, "invalid error frame", err)
		}
		return e, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: typ, Raw: raw}, nil
	}
}

// TextToken is the only outbound frame. Last=true marks a complete reply.
type TextToken struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

// NewReply builds a whole, non-streamed reply frame.
func NewReply(text string) TextToken {
	return TextToken{Type: TypeText, Token: text, Last: true}
}

func Encode(t TextToken) ([]byte, error) {
	if t.Type == "" {
		t.Type = TypeText
	}
	return json.Marshal(t)
}
