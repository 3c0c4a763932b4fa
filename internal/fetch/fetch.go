// Package fetch executes planned chunks against a platform source with
// bounded concurrency.
package fetch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/chatvault/chatvault/internal/plan"
	"github.com/chatvault/chatvault/internal/platform"
)

// DefaultMaxConcurrent bounds simultaneous chunk fetches. Platform APIs
// rate-limit aggressively under unbounded fan-out.
const DefaultMaxConcurrent = 5

// Result holds one chunk's outcome. When Err is set the chunk failed and
// contributes no messages; sibling chunks are unaffected.
type Result struct {
	Chunk    plan.Chunk
	Messages []platform.Message
	Err      error
}

// Orchestrator runs chunk fetches against a Source.
type Orchestrator struct {
	source        platform.Source
	maxConcurrent int
	logger        *slog.Logger
}

// NewOrchestrator creates an orchestrator with the given concurrency bound.
func NewOrchestrator(source platform.Source, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Orchestrator{
		source:        source,
		maxConcurrent: maxConcurrent,
		logger:        slog.Default(),
	}
}

// WithLogger sets the logger for fetch operations.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// Fetch retrieves every chunk with at most maxConcurrent in flight. A
// chunk's failure is recorded in its Result and does not abort siblings.
// Context cancellation abandons in-flight chunks and returns the context
// error; no partial results are returned in that case.
func (o *Orchestrator) Fetch(ctx context.Context, conversationID string, chunks []plan.Chunk) ([]Result, error) {
	results := make([]Result, len(chunks))
	sem := make(chan struct{}, o.maxConcurrent)

	g, ctx := errgroup.WithContext(ctx)

	for i, chunk := range chunks {
		i, chunk := i, chunk

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			msgs, err := o.fetchChunk(ctx, conversationID, chunk)
			if err != nil {
				// Cancellation aborts the whole operation; any other
				// failure stays isolated to this chunk.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.logger.Warn("chunk fetch failed",
					"conversation", conversationID,
					"window_start", chunk.Start,
					"window_end", chunk.End,
					"error", err)
				results[i] = Result{Chunk: chunk, Err: err}
				return nil
			}

			results[i] = Result{Chunk: chunk, Messages: msgs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchChunk pages the chunk's window until the source reports exhaustion
// with an empty continuation cursor. The window end is the chunk's own
// boundary, so pagination never drifts toward the present.
func (o *Orchestrator) fetchChunk(ctx context.Context, conversationID string, chunk plan.Chunk) ([]platform.Message, error) {
	var msgs []platform.Message
	cursor := ""
	for {
		page, err := o.source.Fetch(ctx, conversationID, chunk.Start, chunk.End, cursor)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, page.Messages...)
		if page.NextCursor == "" {
			return msgs, nil
		}
		cursor = page.NextCursor
	}
}
