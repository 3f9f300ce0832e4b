// Package transcript holds the ordered, role-tagged message history of one call.
//
// A Transcript always starts with exactly one system message and only grows by
// appending. Snapshot returns a copy that later appends cannot touch, which is
// what gets handed to the completion backend.
package transcript

import (
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one conversational entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Transcript is owned by a single call session. The mutex only makes
// Snapshot safe for readers outside the owning handler (debug API).
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns a transcript seeded with the system instruction.
func New(systemPrompt string) *Transcript {
	return &Transcript{
		messages: []Message{System(systemPrompt)},
	}
}

// Append adds a user or assistant message at the end. System messages are
// rejected so the seed stays the only one.
func (t *Transcript) Append(m Message) bool {
	if t == nil || m.Role == RoleSystem || !m.Role.Valid() {
		return false
	}
	t.mu.Lock()
	t.messages = append(t.messages, m)
	t.mu.Unlock()
	return true
}

// Snapshot returns an independent copy of the messages in order.
func (t *Transcript) Snapshot() []Message {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Turns counts the user messages recorded so far.
func (t *Transcript) Turns() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, m := range t.messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
