package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chatvault/chatvault/internal/daycache"
	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/session"
	"github.com/chatvault/chatvault/internal/store"
	"github.com/chatvault/chatvault/internal/timeday"
)

// Pinned "now" for every test: 2024-06-20 12:00 UTC.
var testNow = time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func newEngine(t *testing.T, src platform.Source) (*Engine, *session.Store) {
	t.Helper()
	sessions := session.NewStore()
	eng := New(src, daycache.New(t.TempDir()), sessions, Options{}).WithClock(clock)
	return eng, sessions
}

func baseRequest() Request {
	return Request{
		Account:        "alice",
		ConversationID: "room1",
		StartDate:      "2024-06-01",
		EndDate:        "2024-06-03",
		Timezone:       "UTC",
		CachingEnabled: true,
	}
}

func mockMsg(id string, day, hour int) platform.Message {
	return platform.Message{
		ID:        id,
		Author:    platform.Author{ID: "u1", Name: "alice@example.com"},
		Timestamp: time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC),
		Text:      "msg " + id,
	}
}

func messageIDs(msgs []platform.Message) []string {
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestFetchBasic(t *testing.T) {
	mock := platform.NewMockSource(
		mockMsg("m1", 1, 9),
		mockMsg("m2", 2, 10),
		mockMsg("m3", 3, 11),
	)
	eng, _ := newEngine(t, mock)

	res, err := eng.Fetch(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, messageIDs(res.Messages)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if res.PartialCoverage() {
		t.Error("unexpected partial coverage")
	}
	if len(res.Groups) != 3 {
		t.Errorf("got %d groups, want 3", len(res.Groups))
	}
}

func TestFetchInvalidTimezone(t *testing.T) {
	eng, _ := newEngine(t, platform.NewMockSource())
	req := baseRequest()
	req.Timezone = "Not/AZone"

	_, err := eng.Fetch(context.Background(), req)
	if !errors.Is(err, timeday.ErrInvalidTimezone) {
		t.Fatalf("err = %v, want ErrInvalidTimezone", err)
	}
}

// overlapSource returns the same boundary message for every requested
// window, simulating platform pages that spill across chunk boundaries.
type overlapSource struct {
	calls int
}

func (s *overlapSource) Platform() string                  { return "mock" }
func (s *overlapSource) Threading() platform.ThreadingMode { return platform.ThreadingReplyChain }
func (s *overlapSource) Fetch(_ context.Context, _ string, start, _ time.Time, _ string) (*platform.Page, error) {
	s.calls++
	return &platform.Page{Messages: []platform.Message{
		mockMsg("boundary", 7, 23),
		mockMsg("stray", 25, 1), // outside any requested window
		{ID: "w-" + start.Format("01-02"), Timestamp: start, Text: "start"},
	}}, nil
}

func TestFetchDeduplicatesChunkOverlap(t *testing.T) {
	src := &overlapSource{}
	eng, _ := newEngine(t, src)

	req := baseRequest()
	req.EndDate = "2024-06-10" // two chunks: 1-7 and 8-10

	res, err := eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("got %d chunk fetches, want 2", src.calls)
	}

	counts := make(map[string]int)
	for _, m := range res.Messages {
		counts[m.ID]++
	}
	if counts["boundary"] != 1 {
		t.Errorf("boundary message appears %d times, want 1", counts["boundary"])
	}
	if counts["stray"] != 0 {
		t.Error("message outside the requested range survived the merge")
	}
}

func TestFetchServesCachedDaysWithoutSource(t *testing.T) {
	mock := platform.NewMockSource(
		mockMsg("m1", 1, 9),
		mockMsg("m2", 2, 10),
	)
	dir := t.TempDir()
	days := daycache.New(dir)

	eng := New(mock, days, session.NewStore(), Options{}).WithClock(clock)
	first, err := eng.Fetch(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	callsAfterFirst := mock.FetchCalls
	if callsAfterFirst == 0 {
		t.Fatal("first fetch should hit the source")
	}

	// Fresh engine and session store over the same durable cache: the
	// repeat request must not touch the platform at all.
	eng2 := New(mock, days, session.NewStore(), Options{}).WithClock(clock)
	second, err := eng2.Fetch(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if mock.FetchCalls != callsAfterFirst {
		t.Errorf("cached request made %d extra source calls", mock.FetchCalls-callsAfterFirst)
	}
	if diff := cmp.Diff(messageIDs(first.Messages), messageIDs(second.Messages)); diff != "" {
		t.Errorf("cached result differs (-first +second):\n%s", diff)
	}
}

func TestFetchCachingDisabled(t *testing.T) {
	mock := platform.NewMockSource(mockMsg("m1", 1, 9))
	eng, _ := newEngine(t, mock)

	req := baseRequest()
	req.CachingEnabled = false

	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	calls := mock.FetchCalls

	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if mock.FetchCalls == calls {
		t.Error("caching disabled but the source was not consulted again")
	}
}

func TestFetchPartialCoverage(t *testing.T) {
	mock := platform.NewMockSource(
		mockMsg("m1", 2, 9),
		mockMsg("m2", 9, 10),
	)
	eng, _ := newEngine(t, mock)

	req := baseRequest()
	req.EndDate = "2024-06-10" // chunks 1-7 and 8-10
	failStart := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	mock.FailWindow(failStart, errors.New("backend unavailable"))

	res, err := eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("partial failure must not fail the call: %v", err)
	}
	if res.FailedChunks != 1 || !res.PartialCoverage() {
		t.Fatalf("FailedChunks = %d, want 1", res.FailedChunks)
	}
	if diff := cmp.Diff([]string{"m1"}, messageIDs(res.Messages)); diff != "" {
		t.Errorf("surviving data mismatch (-want +got):\n%s", diff)
	}

	// The failed chunk's days must not be cached; a retry re-fetches only
	// that chunk.
	delete(mock.WindowErrors, failStart.UTC().Format(time.RFC3339))
	windowsBefore := len(mock.Windows)

	res, err = eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("retry Fetch: %v", err)
	}
	if res.PartialCoverage() {
		t.Error("retry still partial")
	}
	fetched := mock.Windows[windowsBefore:]
	if len(fetched) != 1 || !fetched[0][0].Equal(failStart) {
		t.Errorf("retry fetched %v, want only the failed window", fetched)
	}
	if diff := cmp.Diff([]string{"m1", "m2"}, messageIDs(res.Messages)); diff != "" {
		t.Errorf("retry result mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchSessionCache(t *testing.T) {
	mock := platform.NewMockSource(mockMsg("m1", 1, 9))
	eng, sessions := newEngine(t, mock)

	req := baseRequest()
	req.SessionID = "s1"

	first, err := eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if first.FromSessionCache {
		t.Error("first fetch cannot come from the session cache")
	}
	if sessions.Transcripts().Len() != 1 {
		t.Fatalf("transcript cache has %d entries, want 1", sessions.Transcripts().Len())
	}

	second, err := eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !second.FromSessionCache {
		t.Error("repeat request should come from the session cache")
	}
	if diff := cmp.Diff(messageIDs(first.Messages), messageIDs(second.Messages)); diff != "" {
		t.Errorf("session cache returned different data (-first +second):\n%s", diff)
	}

	// A different range is a different key.
	req.EndDate = "2024-06-04"
	third, err := eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if third.FromSessionCache {
		t.Error("different range must not alias the cached transcript")
	}
}

func TestFetchTodayBypassesSessionCache(t *testing.T) {
	mock := platform.NewMockSource(mockMsg("m1", 19, 9))
	eng, sessions := newEngine(t, mock)

	req := baseRequest()
	req.StartDate = "2024-06-19"
	req.EndDate = "2024-06-20" // includes today
	req.SessionID = "s1"

	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if sessions.Transcripts().Len() != 0 {
		t.Error("range including today must not populate the session cache")
	}

	calls := mock.FetchCalls
	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if mock.FetchCalls == calls {
		t.Error("today's data served stale from a cache")
	}
}

func TestFetchNeverCachesToday(t *testing.T) {
	mock := platform.NewMockSource(
		mockMsg("m1", 19, 9),
		mockMsg("m2", 20, 9),
	)
	dir := t.TempDir()
	days := daycache.New(dir)
	eng := New(mock, days, session.NewStore(), Options{}).WithClock(clock)

	req := baseRequest()
	req.StartDate = "2024-06-19"
	req.EndDate = "2024-06-20"

	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if _, ok, _ := days.Get("mock", "alice", "room1", "2024-06-19"); !ok {
		t.Error("completed past day not cached")
	}
	if _, ok, _ := days.Get("mock", "alice", "room1", "2024-06-20"); ok {
		t.Error("current day must never be cached")
	}
}

func TestFetchCachesEmptyPastDays(t *testing.T) {
	mock := platform.NewMockSource(mockMsg("m1", 2, 9))
	dir := t.TempDir()
	days := daycache.New(dir)
	eng := New(mock, days, session.NewStore(), Options{}).WithClock(clock)

	if _, err := eng.Fetch(context.Background(), baseRequest()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	entry, ok, _ := days.Get("mock", "alice", "room1", "2024-06-03")
	if !ok {
		t.Fatal("empty past day not cached")
	}
	if len(entry.Messages) != 0 {
		t.Errorf("empty day entry holds %d messages", len(entry.Messages))
	}

	// The cached empty day suppresses re-fetching.
	calls := mock.FetchCalls
	if _, err := eng.Fetch(context.Background(), baseRequest()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if mock.FetchCalls != calls {
		t.Error("fully cached range still hit the source")
	}
}

func TestFetchStripsImagesUnlessRequested(t *testing.T) {
	m := mockMsg("m1", 1, 9)
	m.Images = []string{"https://example.com/a.png"}
	mock := platform.NewMockSource(m)
	eng, _ := newEngine(t, mock)

	res, err := eng.Fetch(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Messages[0].Images) != 0 {
		t.Error("images present without IncludeImages")
	}

	req := baseRequest()
	req.CachingEnabled = false
	req.IncludeImages = true
	res, err = eng.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Messages[0].Images) != 1 {
		t.Error("images missing with IncludeImages")
	}
}

func TestFetchNativeThreading(t *testing.T) {
	root := mockMsg("root", 1, 9)
	reply := mockMsg("reply", 1, 10)
	reply.ParentID = "root"
	other := mockMsg("other", 1, 11)

	mock := platform.NewMockSource(root, reply, other)
	mock.Mode = platform.ThreadingNative
	eng, _ := newEngine(t, mock)

	res, err := eng.Fetch(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(res.Groups))
	}
	if res.Groups[0].ThreadID != "root" || len(res.Groups[0].Messages) != 2 {
		t.Errorf("native thread grouping wrong: %+v", res.Groups[0])
	}
}

func TestFetchCancellation(t *testing.T) {
	mock := platform.NewMockSource(mockMsg("m1", 1, 9))
	eng, _ := newEngine(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Fetch(ctx, baseRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestInvalidate(t *testing.T) {
	mock := platform.NewMockSource(mockMsg("m1", 1, 9))
	eng, sessions := newEngine(t, mock)

	req := baseRequest()
	req.SessionID = "s1"
	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if err := eng.Invalidate(req); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if sessions.Transcripts().Len() != 0 {
		t.Error("invalidation left session transcripts behind")
	}

	calls := mock.FetchCalls
	if _, err := eng.Fetch(context.Background(), req); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if mock.FetchCalls == calls {
		t.Error("invalidated range served from cache")
	}
}

func TestFetchRecordsRun(t *testing.T) {
	st, err := store.Open(t.TempDir() + "/chatvault.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	mock := platform.NewMockSource(mockMsg("m1", 1, 9))
	eng, _ := newEngine(t, mock)
	eng = eng.WithStore(st)

	if _, err := eng.Fetch(context.Background(), baseRequest()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	acct, err := st.GetAccount("mock", "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	run, err := st.LastRun(acct.ID, "room1")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run == nil || run.Status != "completed" {
		t.Fatalf("run = %+v, want completed", run)
	}
	if run.ChunksTotal != 1 || run.ChunksFailed != 0 || run.MessagesMerged != 1 {
		t.Errorf("run counters wrong: %+v", run)
	}
}
