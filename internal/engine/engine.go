// Package engine wires the day bucketer, range planner, fetch orchestrator,
// caches, and thread grouping behind a single caller-facing contract.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatvault/chatvault/internal/daycache"
	"github.com/chatvault/chatvault/internal/fetch"
	"github.com/chatvault/chatvault/internal/plan"
	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/session"
	"github.com/chatvault/chatvault/internal/store"
	"github.com/chatvault/chatvault/internal/thread"
	"github.com/chatvault/chatvault/internal/timeday"
)

// Options tunes the retrieval pipeline.
type Options struct {
	MaxChunkDays         int // gap split threshold (default 7)
	MaxConcurrentFetches int // outbound request bound (default 5)
}

// Request asks for the merged, thread-annotated transcript of one
// conversation over an inclusive local-date range.
type Request struct {
	Account        string
	ConversationID string
	StartDate      string // YYYY-MM-DD
	EndDate        string // YYYY-MM-DD
	Timezone       string // IANA zone name
	CachingEnabled bool
	IncludeImages  bool
	SessionID      string // optional; enables the session transcript cache
}

// Result carries the transcript plus coverage information.
type Result struct {
	Messages []platform.Message
	Groups   []thread.Group

	// FailedChunks counts fetch chunks that contributed no data. When
	// non-zero the transcript is complete only for the covered windows.
	FailedChunks int

	// FromSessionCache is true when the result was served without
	// touching the durable cache or the platform.
	FromSessionCache bool
}

// PartialCoverage reports whether some chunks failed.
func (r *Result) PartialCoverage() bool { return r.FailedChunks > 0 }

// Engine is the retrieval pipeline for one platform source.
type Engine struct {
	source   platform.Source
	days     *daycache.Cache
	sessions *session.Store
	store    *store.Store // optional fetch-run audit log
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an engine over the given source and caches.
func New(source platform.Source, days *daycache.Cache, sessions *session.Store, opts Options) *Engine {
	if opts.MaxChunkDays <= 0 {
		opts.MaxChunkDays = plan.DefaultMaxChunkDays
	}
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = fetch.DefaultMaxConcurrent
	}
	return &Engine{
		source:   source,
		days:     days,
		sessions: sessions,
		opts:     opts,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithStore enables per-request fetch-run records.
func (e *Engine) WithStore(s *store.Store) *Engine {
	e.store = s
	return e
}

// WithClock overrides the time source. Tests pin "today" with it.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Fetch retrieves the conversation's messages for the requested range,
// merging cached days with freshly fetched chunks, deduplicating, and
// grouping into threads. Per-chunk source failures surface as partial
// coverage; timezone errors and caller cancellation fail the whole call.
func (e *Engine) Fetch(ctx context.Context, req Request) (*Result, error) {
	windows, err := timeday.Buckets(req.StartDate, req.EndDate, req.Timezone, e.now())
	if err != nil {
		return nil, err
	}

	includesToday := timeday.IncludesCurrentDay(windows)

	key := session.Key{
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		IncludeImages:  req.IncludeImages,
	}
	useSessionCache := req.CachingEnabled && req.SessionID != "" && !includesToday
	if useSessionCache {
		if t, ok := e.sessions.Transcripts().Get(key); ok {
			e.logger.Debug("session cache hit",
				"conversation", req.ConversationID,
				"start", req.StartDate, "end", req.EndDate)
			return &Result{
				Messages:         t.Messages,
				Groups:           t.Groups,
				FailedChunks:     t.FailedChunks,
				FromSessionCache: true,
			}, nil
		}
	}

	platformKey := e.source.Platform()

	// Scan the durable cache for already-complete days. A corrupt entry is
	// a miss; the day is re-fetched and the entry overwritten.
	var cachedMsgs []platform.Message
	cachedDays := make(map[string]bool)
	if req.CachingEnabled {
		for _, w := range windows {
			if !w.Past {
				continue
			}
			entry, ok, corrupt := e.days.Get(platformKey, req.Account, req.ConversationID, w.Day)
			if corrupt {
				e.logger.Warn("corrupt cache entry, re-fetching day",
					"conversation", req.ConversationID, "day", w.Day)
				continue
			}
			if !ok {
				continue
			}
			cachedDays[w.Day] = true
			cachedMsgs = append(cachedMsgs, entry.Messages...)
		}
	}

	chunks := plan.Chunks(windows, func(day string) bool { return cachedDays[day] }, e.opts.MaxChunkDays)
	e.logger.Debug("planned fetch",
		"conversation", req.ConversationID,
		"days", len(windows), "cached_days", len(cachedDays), "chunks", len(chunks))

	runID := e.startRun(req)

	var results []fetch.Result
	if len(chunks) > 0 {
		orch := fetch.NewOrchestrator(e.source, e.opts.MaxConcurrentFetches).WithLogger(e.logger)
		results, err = orch.Fetch(ctx, req.ConversationID, chunks)
		if err != nil {
			e.failRun(runID, err)
			return nil, fmt.Errorf("fetch %s: %w", req.ConversationID, err)
		}
	}

	merged, failed := e.merge(windows, cachedMsgs, results, req)

	var groups []thread.Group
	if e.source.Threading() == platform.ThreadingNative {
		groups = thread.Native(merged)
	} else {
		groups = thread.Reconstruct(merged)
	}
	ordered := thread.Flatten(groups)

	e.completeRun(runID, len(chunks), failed, len(ordered))

	if failed > 0 {
		e.logger.Warn("partial coverage",
			"conversation", req.ConversationID,
			"failed_chunks", failed, "total_chunks", len(chunks))
	}

	res := &Result{Messages: ordered, Groups: groups, FailedChunks: failed}

	if useSessionCache {
		e.sessions.Transcripts().Put(key, &session.Transcript{
			Messages:     ordered,
			Groups:       groups,
			FailedChunks: failed,
			CachedAt:     e.now(),
		})
	}

	return res, nil
}

// Invalidate clears the conversation's durable day cache and every cached
// transcript derived from it.
func (e *Engine) Invalidate(req Request) error {
	if err := e.days.Invalidate(e.source.Platform(), req.Account, req.ConversationID); err != nil {
		return err
	}
	e.sessions.Transcripts().Purge()
	return nil
}

func (e *Engine) startRun(req Request) int64 {
	if e.store == nil {
		return 0
	}
	acct, err := e.store.GetOrCreateAccount(e.source.Platform(), req.Account, req.Timezone)
	if err != nil {
		e.logger.Warn("account lookup failed, skipping run record", "error", err)
		return 0
	}
	runID, err := e.store.StartFetchRun(acct.ID, req.ConversationID, req.StartDate, req.EndDate)
	if err != nil {
		e.logger.Warn("failed to record fetch run", "error", err)
		return 0
	}
	return runID
}

func (e *Engine) completeRun(runID int64, chunks, failed, merged int) {
	if e.store == nil || runID == 0 {
		return
	}
	if err := e.store.CompleteFetchRun(runID, int64(chunks), int64(failed), int64(merged)); err != nil {
		e.logger.Warn("failed to complete fetch run", "run_id", runID, "error", err)
	}
}

func (e *Engine) failRun(runID int64, cause error) {
	if e.store == nil || runID == 0 {
		return
	}
	if err := e.store.FailFetchRun(runID, cause.Error()); err != nil {
		e.logger.Warn("failed to mark fetch run failed", "run_id", runID, "error", err)
	}
}
