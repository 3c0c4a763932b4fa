package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/engine"
	"github.com/chatvault/chatvault/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled cache prefetch for configured accounts",
	Long: `Schedule runs in the foreground and executes the cron schedules declared
in the [[accounts]] config blocks. Each run warms the day cache for the
account's conversations over yesterday (in the account's timezone), so
interactive requests for recent history never wait on the platform.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		sched := scheduler.New(prefetchFunc(eng)).WithLogger(logger)

		scheduled, errs := sched.AddAccountsFromConfig(cfg)
		for _, err := range errs {
			logger.Error("skipping account", "error", err)
		}
		if scheduled == 0 {
			return fmt.Errorf("no schedulable accounts configured; add [[accounts]] blocks with a schedule to %s", cfg.ConfigFile)
		}

		sched.Start()
		fmt.Printf("Scheduler running with %d account(s). Ctrl-C to stop.\n", scheduled)

		<-cmd.Context().Done()

		stopCtx := sched.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("timed out waiting for running prefetches")
		}
		return nil
	},
}

// prefetchFunc warms yesterday's cache for each of the account's
// conversations. Failures are joined per conversation so one bad room does
// not hide the others.
func prefetchFunc(eng *engine.Engine) scheduler.PrefetchFunc {
	return func(ctx context.Context, acc config.AccountConfig) error {
		tz := acc.Timezone
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("account timezone %q: %w", tz, err)
		}
		yesterday := time.Now().In(loc).AddDate(0, 0, -1).Format("2006-01-02")

		var firstErr error
		for _, conv := range acc.Conversations {
			_, err := eng.Fetch(ctx, engine.Request{
				Account:        acc.Identifier,
				ConversationID: conv,
				StartDate:      yesterday,
				EndDate:        yesterday,
				Timezone:       tz,
				CachingEnabled: true,
			})
			if err != nil {
				logger.Error("prefetch failed",
					"account", acc.Identifier, "conversation", conv, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
