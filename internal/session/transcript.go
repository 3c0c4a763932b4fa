package session

import (
	"sync"
	"time"

	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/thread"
)

// Transcript is a fully merged, thread-annotated result held for the
// lifetime of a session.
type Transcript struct {
	Messages []platform.Message
	Groups   []thread.Group

	// FailedChunks is carried over from the fetch that produced this
	// transcript; non-zero means coverage was partial.
	FailedChunks int
	CachedAt     time.Time
}

// Key identifies a transcript. Requests differing in range or processing
// options never alias each other.
type Key struct {
	SessionID      string
	ConversationID string
	StartDate      string
	EndDate        string
	IncludeImages  bool
}

// TranscriptCache is the in-memory per-session result cache. Requests whose
// range includes the current day must bypass it entirely; the engine
// enforces that rule.
type TranscriptCache struct {
	mu      sync.RWMutex
	entries map[Key]*Transcript
}

// NewTranscriptCache creates an empty transcript cache.
func NewTranscriptCache() *TranscriptCache {
	return &TranscriptCache{entries: make(map[Key]*Transcript)}
}

// Get returns the cached transcript for key.
func (c *TranscriptCache) Get(key Key) (*Transcript, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[key]
	return t, ok
}

// Put stores a transcript for key, replacing any previous entry.
func (c *TranscriptCache) Put(key Key, t *Transcript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = t
}

// Clear drops every transcript belonging to the session.
func (c *TranscriptCache) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.SessionID == sessionID {
			delete(c.entries, k)
		}
	}
}

// Purge drops every transcript. The engine calls this when the durable
// cache for a conversation is invalidated.
func (c *TranscriptCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*Transcript)
}

// Len reports the number of cached transcripts.
func (c *TranscriptCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
