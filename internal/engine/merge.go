package engine

import (
	"sort"
	"time"

	"github.com/chatvault/chatvault/internal/fetch"
	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/timeday"
)

// merge combines cached-day hits with successful chunk results, keyed by
// message identity. The first occurrence wins, so overlap at chunk
// boundaries collapses to a single copy. Messages outside the requested
// windows are dropped. Returns the merged set and the failed chunk count.
func (e *Engine) merge(windows []timeday.DayWindow, cachedMsgs []platform.Message, results []fetch.Result, req Request) ([]platform.Message, int) {
	seen := make(map[string]bool)
	var merged []platform.Message

	add := func(m platform.Message) {
		if m.ID == "" || seen[m.ID] {
			return
		}
		if !inWindows(windows, m.Timestamp) {
			return
		}
		if m.ConversationID == "" {
			m.ConversationID = req.ConversationID
		}
		if !req.IncludeImages {
			m.Images = nil
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}

	for _, m := range cachedMsgs {
		add(m)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		for _, m := range r.Messages {
			add(m)
		}
	}

	if req.CachingEnabled {
		e.writeBack(results, req)
	}

	return merged, failed
}

// writeBack persists every past day a successful chunk covered. Days with
// no messages are written too: an empty completed day is complete knowledge
// and must not trigger re-fetches. Failed chunks write nothing, so their
// days stay fetchable. Each day is its own file, so concurrent chunk
// completions never contend.
func (e *Engine) writeBack(results []fetch.Result, req Request) {
	platformKey := e.source.Platform()
	for _, r := range results {
		if r.Err != nil {
			continue
		}

		byDay := make(map[string][]platform.Message)
		for _, m := range r.Messages {
			for _, w := range r.Chunk.Days {
				if w.Contains(m.Timestamp) {
					byDay[w.Day] = append(byDay[w.Day], m)
					break
				}
			}
		}

		for _, w := range r.Chunk.Days {
			if !w.Past {
				continue
			}
			msgs := byDay[w.Day]
			sort.Slice(msgs, func(i, j int) bool {
				if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
					return msgs[i].Timestamp.Before(msgs[j].Timestamp)
				}
				return msgs[i].ID < msgs[j].ID
			})
			if err := e.days.Put(platformKey, req.Account, req.ConversationID, w.Day, w.IsToday, msgs); err != nil {
				e.logger.Warn("failed to write day cache",
					"conversation", req.ConversationID, "day", w.Day, "error", err)
			}
		}
	}
}

func inWindows(windows []timeday.DayWindow, t time.Time) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
