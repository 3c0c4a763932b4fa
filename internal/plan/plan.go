// Package plan computes which parts of a requested date range must be
// fetched from the platform, and splits large gaps into bounded chunks.
package plan

import (
	"time"

	"github.com/chatvault/chatvault/internal/timeday"
)

// DefaultMaxChunkDays bounds the number of days a single fetch chunk covers.
const DefaultMaxChunkDays = 7

// Chunk is a contiguous run of uncached days fetched as one unit. Start and
// End are fixed to the run's own day boundaries, never to "now".
type Chunk struct {
	Days  []timeday.DayWindow
	Start time.Time
	End   time.Time
}

// Chunks computes fetch chunks for the requested day windows. cached reports
// whether a calendar day is already in the durable cache. Maximal contiguous
// runs of uncached days form gap ranges; a gap longer than maxChunkDays is
// split into consecutive chunks of at most that many days, so long uncached
// stretches fetch in parallel instead of as one serial crawl.
func Chunks(windows []timeday.DayWindow, cached func(day string) bool, maxChunkDays int) []Chunk {
	if maxChunkDays <= 0 {
		maxChunkDays = DefaultMaxChunkDays
	}

	var chunks []Chunk
	var run []timeday.DayWindow

	flush := func() {
		for len(run) > maxChunkDays {
			chunks = append(chunks, newChunk(run[:maxChunkDays]))
			run = run[maxChunkDays:]
		}
		if len(run) > 0 {
			chunks = append(chunks, newChunk(run))
		}
		run = nil
	}

	for _, w := range windows {
		if cached(w.Day) {
			flush()
			continue
		}
		run = append(run, w)
	}
	flush()

	return chunks
}

func newChunk(days []timeday.DayWindow) Chunk {
	c := Chunk{Days: append([]timeday.DayWindow(nil), days...)}
	c.Start = c.Days[0].Start
	c.End = c.Days[len(c.Days)-1].End
	return c
}
