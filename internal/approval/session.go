package approval

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session holds the tools approved for the rest of one conversation. It is
// never shared between conversations.
type Session struct {
	id string

	mu       sync.Mutex
	approved map[string]struct{}
}

// NewSession creates an empty approval set with a fresh id.
func NewSession() *Session {
	return NewSessionWithID(uuid.NewString())
}

// NewSessionWithID creates an empty approval set for a known conversation
// id, such as a resumed transcript. Approvals always start empty.
func NewSessionWithID(id string) *Session {
	return &Session{
		id:       id,
		approved: make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// IsApproved reports whether tool was approved for this session.
func (s *Session) IsApproved(tool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.approved[normalizeToolName(tool)]
	return ok
}

// Approve records tool for the rest of the session. It reports whether the
// tool was newly added.
func (s *Session) Approve(tool string) bool {
	name := normalizeToolName(tool)
	if name == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approved[name]; ok {
		return false
	}
	s.approved[name] = struct{}{}
	return true
}

// Approved lists session approvals in sorted order.
func (s *Session) Approved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.approved))
	for name := range s.approved {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Clear drops every approval. Called when the conversation ends.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.approved)
}

func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
