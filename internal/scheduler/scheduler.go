// Package scheduler provides cron-based scheduling for automated cache
// prefetch, warming recently completed days so interactive requests hit
// the durable cache.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatvault/chatvault/internal/config"
)

// PrefetchFunc is the callback invoked when a scheduled prefetch should
// run. It receives the account declaration and fetches whatever windows
// the implementation decides to warm.
type PrefetchFunc func(ctx context.Context, account config.AccountConfig) error

// JobStatus describes one scheduled account.
type JobStatus struct {
	Platform   string    `json:"platform"`
	Identifier string    `json:"identifier"`
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run"`
	Schedule   string    `json:"schedule"`
	LastError  string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-based prefetch jobs, one per account.
type Scheduler struct {
	cron     *cron.Cron
	prefetch PrefetchFunc
	logger   *slog.Logger

	mu       sync.RWMutex
	jobs     map[string]cron.EntryID         // job key -> cron entry
	accounts map[string]config.AccountConfig // job key -> account
	running  map[string]bool                 // job key -> prefetch in flight
	lastRun  map[string]time.Time            // job key -> last successful run
	lastErr  map[string]error                // job key -> last error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a Scheduler with the given prefetch callback.
func New(prefetch PrefetchFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		prefetch: prefetch,
		logger:   slog.Default(),
		jobs:     make(map[string]cron.EntryID),
		accounts: make(map[string]config.AccountConfig),
		running:  make(map[string]bool),
		lastRun:  make(map[string]time.Time),
		lastErr:  make(map[string]error),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

func jobKey(acc config.AccountConfig) string {
	return acc.Platform + "/" + acc.Identifier
}

// AddAccount schedules prefetch for an account. An existing schedule for
// the same account is replaced. Returns an error for an invalid cron
// expression.
func (s *Scheduler) AddAccount(acc config.AccountConfig) error {
	key := jobKey(acc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[key]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, key)
		delete(s.accounts, key)
	}

	entryID, err := s.cron.AddFunc(acc.Schedule, func() {
		s.mu.Lock()
		if s.stopped || s.running[key] {
			s.mu.Unlock()
			return
		}
		s.running[key] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runPrefetch(key, acc)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", acc.Schedule, err)
	}

	s.jobs[key] = entryID
	s.accounts[key] = acc
	s.logger.Info("scheduled prefetch",
		"account", key,
		"schedule", acc.Schedule,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// AddAccountsFromConfig schedules every enabled account that carries a
// schedule. Returns the number scheduled and any per-account errors.
func (s *Scheduler) AddAccountsFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0

	for _, acc := range cfg.ScheduledAccounts() {
		if err := s.AddAccount(acc); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", acc.Platform, acc.Identifier, err))
		} else {
			scheduled++
		}
	}

	return scheduled, errs
}

// RemoveAccount removes the schedule for an account.
func (s *Scheduler) RemoveAccount(platform, identifier string) {
	key := platform + "/" + identifier

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[key]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, key)
		delete(s.accounts, key)
		s.logger.Info("removed schedule", "account", key)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning reports whether the scheduler is started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops the scheduler, cancels running prefetches, and returns a
// context that is done once all work has drained.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// runPrefetch executes one prefetch. The caller must have called wg.Add(1)
// and set running[key] = true.
func (s *Scheduler) runPrefetch(key string, acc config.AccountConfig) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[key] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled prefetch", "account", key)
	start := time.Now()

	err := s.prefetch(s.ctx, acc)

	s.mu.Lock()
	if err != nil {
		s.lastErr[key] = err
		s.logger.Error("scheduled prefetch failed",
			"account", key,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun[key] = time.Now()
		s.lastErr[key] = nil
		s.logger.Info("scheduled prefetch completed",
			"account", key,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// IsScheduled reports whether the account has been added to the scheduler.
func (s *Scheduler) IsScheduled(platform, identifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[platform+"/"+identifier]
	return exists
}

// TriggerPrefetch manually runs an account's prefetch outside its schedule.
// Returns an error if one is already running, the account is not scheduled,
// or the scheduler has been stopped.
func (s *Scheduler) TriggerPrefetch(platform, identifier string) error {
	key := platform + "/" + identifier

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	acc, exists := s.accounts[key]
	if !exists {
		return fmt.Errorf("account %s is not scheduled", key)
	}
	if s.running[key] {
		return fmt.Errorf("prefetch already running for %s", key)
	}

	s.running[key] = true
	s.wg.Add(1)
	go s.runPrefetch(key, acc)
	return nil
}

// Status returns the current status of all scheduled accounts.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []JobStatus
	for key, entryID := range s.jobs {
		acc := s.accounts[key]
		entry := s.cron.Entry(entryID)
		status := JobStatus{
			Platform:   acc.Platform,
			Identifier: acc.Identifier,
			Running:    s.running[key],
			LastRun:    s.lastRun[key],
			NextRun:    entry.Next,
			Schedule:   acc.Schedule,
		}
		if err := s.lastErr[key]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
