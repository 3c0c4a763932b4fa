// Package platform defines the backend-agnostic message model and the
// contract every chat platform source implements.
package platform

import (
	"context"
	"time"
)

// ThreadingMode describes how a platform expresses thread membership.
type ThreadingMode int

const (
	// ThreadingNative means the platform supplies a thread identifier
	// directly (e.g. Webex parentId pointing at the thread root), so no
	// reconstruction is needed.
	ThreadingNative ThreadingMode = iota

	// ThreadingReplyChain means the platform only exposes reply-to links
	// and thread roots must be recovered by walking parent chains.
	ThreadingReplyChain
)

// Author identifies who wrote a message.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is the normalized record shared by sources, the day cache, and
// the engine. Timestamp is always an absolute UTC instant; sources must
// treat naive platform timestamps as UTC.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Author         Author    `json:"author"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
	Images         []string  `json:"images,omitempty"`    // ordered image references
	ParentID       string    `json:"parent_id,omitempty"` // reply target, if any
	ThreadID       string    `json:"thread_id,omitempty"` // assigned during thread grouping
}

// Page is one page of results from a Source.
type Page struct {
	Messages []Message

	// NextCursor continues the window when non-empty. An empty cursor
	// means the window is exhausted for this fetch.
	NextCursor string
}

// Source is the capability interface implemented once per chat platform.
type Source interface {
	// Platform returns the platform key used in cache paths ("webex", ...).
	Platform() string

	// Threading reports how the platform expresses thread membership.
	Threading() ThreadingMode

	// Fetch retrieves one page of messages within [windowStart, windowEnd)
	// for the conversation. Pass an empty cursor to start and the returned
	// NextCursor to continue. Implementations page against the window's
	// own boundaries and never drift past windowEnd toward "now".
	Fetch(ctx context.Context, conversationID string, windowStart, windowEnd time.Time, cursor string) (*Page, error)
}
