package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/plan"
	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/timeday"
)

// funcSource adapts a function to the Source interface for tests that need
// custom per-call behavior.
type funcSource struct {
	fetch func(ctx context.Context, conversationID string, windowStart, windowEnd time.Time, cursor string) (*platform.Page, error)
}

func (f *funcSource) Platform() string                  { return "test" }
func (f *funcSource) Threading() platform.ThreadingMode { return platform.ThreadingReplyChain }
func (f *funcSource) Fetch(ctx context.Context, conversationID string, windowStart, windowEnd time.Time, cursor string) (*platform.Page, error) {
	return f.fetch(ctx, conversationID, windowStart, windowEnd, cursor)
}

func testChunks(t *testing.T, start, end string, maxDays int) []plan.Chunk {
	t.Helper()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ws, err := timeday.Buckets(start, end, "UTC", now)
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	return plan.Chunks(ws, func(string) bool { return false }, maxDays)
}

func TestFetchCollectsAllChunks(t *testing.T) {
	chunks := testChunks(t, "2024-06-01", "2024-06-21", 7)

	src := &funcSource{
		fetch: func(_ context.Context, _ string, start, _ time.Time, _ string) (*platform.Page, error) {
			return &platform.Page{
				Messages: []platform.Message{{ID: start.Format(time.RFC3339), Timestamp: start}},
			}, nil
		},
	}

	results, err := NewOrchestrator(src, 5).Fetch(context.Background(), "room1", chunks)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("chunk %d failed: %v", i, r.Err)
		}
		if len(r.Messages) != 1 {
			t.Errorf("chunk %d has %d messages, want 1", i, len(r.Messages))
		}
		if !r.Chunk.Start.Equal(chunks[i].Start) {
			t.Errorf("chunk %d result out of order", i)
		}
	}
}

func TestFetchBoundsConcurrency(t *testing.T) {
	chunks := testChunks(t, "2024-01-01", "2024-01-20", 1) // 20 chunks

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	src := &funcSource{
		fetch: func(ctx context.Context, _ string, _, _ time.Time, _ string) (*platform.Page, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return &platform.Page{}, nil
		},
	}

	if _, err := NewOrchestrator(src, 3).Fetch(context.Background(), "room1", chunks); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if maxInFlight > 3 {
		t.Errorf("max in-flight fetches = %d, want <= 3", maxInFlight)
	}
}

func TestFetchPartialFailure(t *testing.T) {
	chunks := testChunks(t, "2024-06-01", "2024-06-21", 7)
	failStart := chunks[1].Start
	boom := errors.New("backend unavailable")

	src := &funcSource{
		fetch: func(_ context.Context, _ string, start, _ time.Time, _ string) (*platform.Page, error) {
			if start.Equal(failStart) {
				return nil, boom
			}
			return &platform.Page{Messages: []platform.Message{{ID: start.String(), Timestamp: start}}}, nil
		},
	}

	results, err := NewOrchestrator(src, 5).Fetch(context.Background(), "room1", chunks)
	if err != nil {
		t.Fatalf("one chunk failing must not fail the call: %v", err)
	}

	if !errors.Is(results[1].Err, boom) {
		t.Errorf("chunk 1 err = %v, want %v", results[1].Err, boom)
	}
	if len(results[1].Messages) != 0 {
		t.Errorf("failed chunk contributed %d messages", len(results[1].Messages))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("sibling chunks affected: %v, %v", results[0].Err, results[2].Err)
	}
}

func TestFetchPagesUntilEmptyCursor(t *testing.T) {
	chunks := testChunks(t, "2024-06-01", "2024-06-05", 7)

	var cursors []string
	src := &funcSource{
		fetch: func(_ context.Context, _ string, start, _ time.Time, cursor string) (*platform.Page, error) {
			cursors = append(cursors, cursor)
			switch cursor {
			case "":
				return &platform.Page{
					Messages:   []platform.Message{{ID: "1", Timestamp: start}},
					NextCursor: "p2",
				}, nil
			case "p2":
				// A full page mid-window must still be followed.
				return &platform.Page{
					Messages:   []platform.Message{{ID: "2", Timestamp: start}},
					NextCursor: "p3",
				}, nil
			case "p3":
				return &platform.Page{}, nil
			}
			return nil, fmt.Errorf("unexpected cursor %q", cursor)
		},
	}

	results, err := NewOrchestrator(src, 1).Fetch(context.Background(), "room1", chunks)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(results[0].Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(results[0].Messages))
	}
	if len(cursors) != 3 {
		t.Errorf("made %d page requests, want 3 (%v)", len(cursors), cursors)
	}
}

func TestFetchCancellation(t *testing.T) {
	chunks := testChunks(t, "2024-06-01", "2024-06-21", 7)

	ctx, cancel := context.WithCancel(context.Background())
	src := &funcSource{
		fetch: func(ctx context.Context, _ string, _, _ time.Time, _ string) (*platform.Page, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	_, err := NewOrchestrator(src, 2).Fetch(ctx, "room1", chunks)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFetchNoChunks(t *testing.T) {
	src := &funcSource{
		fetch: func(context.Context, string, time.Time, time.Time, string) (*platform.Page, error) {
			t.Fatal("source must not be called without chunks")
			return nil, nil
		},
	}
	results, err := NewOrchestrator(src, 5).Fetch(context.Background(), "room1", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
}
