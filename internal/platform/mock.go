package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockSource is an in-memory Source for testing. It serves messages from a
// fixed set, filtered per requested window and paged by PageSize, with
// per-window error injection and call tracking.
type MockSource struct {
	mu sync.Mutex

	PlatformKey string
	Mode        ThreadingMode
	PageSize    int

	// Messages is the full set served, filtered to each requested window.
	Messages []Message

	// WindowErrors injects a failure for any fetch whose window start
	// matches the given UTC RFC3339 instant.
	WindowErrors map[string]error

	// Call tracking
	FetchCalls int
	Windows    [][2]time.Time
}

// NewMockSource creates a mock source serving the given messages.
func NewMockSource(msgs ...Message) *MockSource {
	return &MockSource{
		PlatformKey:  "mock",
		Mode:         ThreadingReplyChain,
		PageSize:     100,
		Messages:     msgs,
		WindowErrors: make(map[string]error),
	}
}

func (m *MockSource) Platform() string {
	if m.PlatformKey == "" {
		return "mock"
	}
	return m.PlatformKey
}

func (m *MockSource) Threading() ThreadingMode { return m.Mode }

// FailWindow injects err for fetches of the window starting at start.
func (m *MockSource) FailWindow(start time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WindowErrors[start.UTC().Format(time.RFC3339)] = err
}

// Fetch returns one page of the window's messages in insertion order.
// The cursor encodes the offset of the next page.
func (m *MockSource) Fetch(ctx context.Context, conversationID string, windowStart, windowEnd time.Time, cursor string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls++
	m.Windows = append(m.Windows, [2]time.Time{windowStart, windowEnd})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.WindowErrors[windowStart.UTC().Format(time.RFC3339)]; err != nil {
		return nil, err
	}

	var inWindow []Message
	for _, msg := range m.Messages {
		if msg.ConversationID != "" && msg.ConversationID != conversationID {
			continue
		}
		if !msg.Timestamp.Before(windowStart) && msg.Timestamp.Before(windowEnd) {
			inWindow = append(inWindow, msg)
		}
	}

	offset := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "offset_%d", &offset); err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	pageSize := m.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	end := offset + pageSize
	if end > len(inWindow) {
		end = len(inWindow)
	}

	page := &Page{}
	if offset < len(inWindow) {
		page.Messages = append(page.Messages, inWindow[offset:end]...)
	}
	if end < len(inWindow) {
		page.NextCursor = fmt.Sprintf("offset_%d", end)
	}
	return page, nil
}
