package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/MEKXH/farcode/internal/approval"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Message represents a single message in session
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation: its transcript and the tools approved for it.
type Session struct {
	ID        string
	Approvals *approval.Session
	Messages  []*Message
	mu        sync.RWMutex
}

func newSession(id string) *Session {
	var approvals *approval.Session
	if id == "" {
		approvals = approval.NewSession()
	} else {
		approvals = approval.NewSessionWithID(id)
	}
	return &Session{ID: approvals.ID(), Approvals: approvals}
}

// AddMessage adds a message to the session
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, &Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// GetHistory returns the last n messages
func (s *Session) GetHistory(limit int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.Messages) {
		limit = len(s.Messages)
	}
	start := len(s.Messages) - limit

	result := make([]*Message, limit)
	copy(result, s.Messages[start:])
	return result
}

// Clear forgets the transcript and every session approval.
func (s *Session) Clear() {
	s.mu.Lock()
	s.Messages = nil
	s.mu.Unlock()
	s.Approvals.Clear()
}

// Manager tracks live sessions and stores their transcripts under
// <state>/sessions. Approvals are never written to disk.
type Manager struct {
	dir      string
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a session manager. An empty stateDir keeps transcripts
// in memory only.
func NewManager(stateDir string) *Manager {
	dir := ""
	if stateDir != "" {
		dir = filepath.Join(stateDir, "sessions")
	}
	return &Manager{
		dir:      dir,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with a fresh id.
func (m *Manager) Create() *Session {
	sess := newSession("")
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

// Resume returns the live session with id, or loads its transcript from
// disk. Approvals of a resumed session start empty.
func (m *Manager) Resume(id string) (*Session, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}

	sess := newSession(id)
	if err := m.loadFromDisk(sess); err != nil {
		return nil, err
	}
	m.sessions[id] = sess
	return sess, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Close saves the transcript and drops the session with its approvals.
func (m *Manager) Close(sess *Session) error {
	if sess == nil {
		return nil
	}
	err := m.Save(sess)

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
	sess.Approvals.Clear()
	return err
}

// Save persists session to disk
func (m *Manager) Save(sess *Session) error {
	if m.dir == "" {
		return nil
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	if len(sess.Messages) == 0 {
		return nil
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	path := m.sessionPath(sess.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, msg := range sess.Messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) loadFromDisk(sess *Session) error {
	if m.dir == "" {
		return fmt.Errorf("session %s not found", sess.ID)
	}
	f, err := os.Open(m.sessionPath(sess.ID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("session %s not found", sess.ID)
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err == nil {
			sess.Messages = append(sess.Messages, &msg)
		}
	}
	return scanner.Err()
}

func (m *Manager) sessionPath(id string) string {
	return filepath.Join(m.dir, id+".jsonl")
}
