// Package session holds per-session state and the ephemeral transcript
// cache. All state lives in explicit stores handed to their consumers, not
// in package-level variables.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one caller/assistant exchange kept for conversational context.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// State is the mutable per-session state: chat mode and accumulated
// conversation history.
type State struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	chatMode string
	history  []Turn
}

// SetChatMode switches the session's chat mode.
func (s *State) SetChatMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatMode = mode
}

// ChatMode returns the session's current chat mode.
func (s *State) ChatMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatMode
}

// AppendTurn records one exchange in the session history.
func (s *State) AppendTurn(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Text: text})
}

// History returns a copy of the session's accumulated turns.
func (s *State) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// ClearHistory drops the session's accumulated turns.
func (s *State) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Store hands out session state by identity.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*State
	transcripts *TranscriptCache
}

// NewStore creates an empty session store with its transcript cache.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*State),
		transcripts: NewTranscriptCache(),
	}
}

// New creates a session with a fresh identity.
func (s *Store) New() *State {
	st := &State{ID: uuid.NewString(), CreatedAt: time.Now()}
	s.mu.Lock()
	s.sessions[st.ID] = st
	s.mu.Unlock()
	return st
}

// Get returns the session state for id.
func (s *Store) Get(id string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	return st, ok
}

// End removes the session and clears its cached transcripts.
func (s *Store) End(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.transcripts.Clear(id)
}

// Transcripts returns the transcript cache shared by all sessions.
func (s *Store) Transcripts() *TranscriptCache {
	return s.transcripts
}
