// Package callevents publishes call lifecycle events on a Watermill topic.
//
// Events are informational: the relay never waits on a consumer and a failed
// publish is only logged.
package callevents

import (
	"context"
	"time"
)

const DefaultTopic = "convrelay.calls"

type Type string

const (
	TypeCallSetup       Type = "call.setup"
	TypeTurnCompleted   Type = "turn.completed"
	TypeTurnFailed      Type = "turn.failed"
	TypePromptUnbound   Type = "prompt.unbound"
	TypeCallInterrupted Type = "call.interrupted"
	TypeCallClosed      Type = "call.closed"
)

type Event struct {
	Type         Type      `json:"type"`
	ConnID       string    `json:"conn_id"`
	CallSID      string    `json:"call_sid,omitempty"`
	Turn         int       `json:"turn,omitempty"`
	LatencyMS    int64     `json:"latency_ms,omitempty"`
	PromptTokens int       `json:"prompt_tokens,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
