// Package daycache persists finalized per-day message sets, one JSON file
// per platform/account/conversation/day.
package daycache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatvault/chatvault/internal/platform"
)

// ErrCacheToday is returned when a caller attempts to persist the current
// day. Only completed past days may be cached.
var ErrCacheToday = errors.New("daycache: refusing to cache the current day")

// Entry is the on-disk record for one cached day. Entries are written once
// and never mutated; a day is either absent or complete.
type Entry struct {
	Platform       string             `json:"platform"`
	Account        string             `json:"account"`
	ConversationID string             `json:"conversation_id"`
	Day            string             `json:"day"` // YYYY-MM-DD in the account's zone
	FetchedAt      time.Time          `json:"fetched_at"`
	Messages       []platform.Message `json:"messages"`
}

// Cache stores day entries under a root directory.
type Cache struct {
	root string
}

// New creates a cache rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Cache {
	return &Cache{root: dir}
}

// Get returns the entry for the given day. ok is false on a miss. corrupt
// is true when a file exists but cannot be parsed; such entries behave as
// misses and are overwritten by the next successful Put.
func (c *Cache) Get(platformKey, account, conversationID, day string) (entry *Entry, ok bool, corrupt bool) {
	path := c.entryPath(platformKey, account, conversationID, day)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, true
	}
	return &e, true, false
}

// Put writes the finalized message list for a past day. An empty list is
// still written: a completed day with no messages is complete knowledge.
// isToday guards the invariant that the current day is never persisted.
func (c *Cache) Put(platformKey, account, conversationID, day string, isToday bool, msgs []platform.Message) error {
	if isToday {
		return fmt.Errorf("%w: %s", ErrCacheToday, day)
	}

	entry := Entry{
		Platform:       platformKey,
		Account:        account,
		ConversationID: conversationID,
		Day:            day,
		FetchedAt:      time.Now().UTC(),
		Messages:       msgs,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := c.entryPath(platformKey, account, conversationID, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	// Write-then-rename so readers never observe a partial entry.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize cache entry: %w", err)
	}
	return nil
}

// Invalidate removes every cached day for the conversation.
func (c *Cache) Invalidate(platformKey, account, conversationID string) error {
	dir := filepath.Join(c.root, sanitize(platformKey), sanitize(account), sanitize(conversationID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

func (c *Cache) entryPath(platformKey, account, conversationID, day string) string {
	return filepath.Join(c.root, sanitize(platformKey), sanitize(account), sanitize(conversationID), day+".json")
}

// sanitize strips path components down to alphanumerics so platform
// identifiers cannot escape the cache root.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
