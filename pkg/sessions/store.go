// Package sessions keeps the process-wide mapping from call SID to transcript.
//
// All methods are safe for concurrent use by independent connection handlers.
// None of them block on anything but the store mutex, so a slow completion on
// one call never holds up another.
package sessions

import (
	"sort"
	"sync"

	"github.com/go-go-golems/convrelay/pkg/transcript"
)

// Store maps call identifiers to transcripts.
type Store struct {
	mu    sync.RWMutex
	calls map[string]*transcript.Transcript
}

func NewStore() *Store {
	return &Store{calls: make(map[string]*transcript.Transcript)}
}

// Put binds t to callID, replacing any transcript already stored for it.
func (s *Store) Put(callID string, t *transcript.Transcript) {
	if s == nil || callID == "" || t == nil {
		return
	}
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]*transcript.Transcript)
	}
	s.calls[callID] = t
	s.mu.Unlock()
}

func (s *Store) Get(callID string) (*transcript.Transcript, bool) {
	if s == nil || callID == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.calls[callID]
	return t, ok
}

func (s *Store) Remove(callID string) {
	if s == nil || callID == "" {
		return
	}
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
}

// RemoveIfCurrent deletes callID only while it still maps to t. A handler
// tearing down uses it so it never drops a newer session that took the id over.
func (s *Store) RemoveIfCurrent(callID string, t *transcript.Transcript) bool {
	if s == nil || callID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.calls[callID]
	if !ok || current != t {
		return false
	}
	delete(s.calls, callID)
	return true
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// CallSummary is a read-only view used by the debug API.
type CallSummary struct {
	CallSID  string `json:"call_sid"`
	Messages int    `json:"messages"`
	Turns    int    `json:"turns"`
}

// List returns a summary of every active call ordered by call SID.
func (s *Store) List() []CallSummary {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]CallSummary, 0, len(s.calls))
	for id, t := range s.calls {
		out = append(out, CallSummary{CallSID: id, Messages: t.Len(), Turns: t.Turns()})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CallSID < out[j].CallSID })
	return out
}
