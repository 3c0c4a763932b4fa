package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatvault/chatvault/internal/daycache"
	"github.com/chatvault/chatvault/internal/engine"
	"github.com/chatvault/chatvault/internal/platform"
	"github.com/chatvault/chatvault/internal/platform/webex"
	"github.com/chatvault/chatvault/internal/session"
	"github.com/chatvault/chatvault/internal/store"
)

var (
	fetchAccount      string
	fetchConversation string
	fetchStart        string
	fetchEnd          string
	fetchTimezone     string
	fetchNoCache      bool
	fetchImages       bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a conversation's messages for a date range",
	Long: `Fetch retrieves messages for a conversation over an inclusive local-date
range, merges cached days with fresh data, groups replies into threads, and
prints the transcript. Completed past days are cached locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := eng.Fetch(cmd.Context(), engine.Request{
			Account:        fetchAccount,
			ConversationID: fetchConversation,
			StartDate:      fetchStart,
			EndDate:        fetchEnd,
			Timezone:       fetchTimezone,
			CachingEnabled: !fetchNoCache,
			IncludeImages:  fetchImages,
		})
		if err != nil {
			return err
		}

		printTranscript(res)
		return nil
	},
}

// buildEngine assembles the retrieval pipeline from the loaded config.
// The returned cleanup closes the audit store.
func buildEngine() (*engine.Engine, func(), error) {
	source, err := buildSource()
	if err != nil {
		return nil, nil, err
	}

	days := daycache.New(cfg.CacheDir())
	sessions := session.NewStore()

	eng := engine.New(source, days, sessions, engine.Options{
		MaxChunkDays:         cfg.Fetch.MaxChunkDays,
		MaxConcurrentFetches: cfg.Fetch.MaxConcurrentFetches,
	}).WithLogger(logger)

	cleanup := func() {}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Warn("audit store unavailable", "error", err)
	} else if err := st.InitSchema(); err != nil {
		st.Close()
		logger.Warn("audit store unavailable", "error", err)
	} else {
		eng = eng.WithStore(st)
		cleanup = func() { st.Close() }
	}

	return eng, cleanup, nil
}

func buildSource() (platform.Source, error) {
	if cfg.Webex.Token == "" {
		return nil, fmt.Errorf("no Webex token configured; set [webex] token in %s", cfg.ConfigFile)
	}
	opts := []webex.ClientOption{
		webex.WithLogger(logger),
		webex.WithPageSize(cfg.Fetch.PageSize),
		webex.WithRateLimit(cfg.Fetch.RateLimitQPS),
	}
	if cfg.Webex.APIURL != "" {
		opts = append(opts, webex.WithBaseURL(cfg.Webex.APIURL))
	}
	return webex.NewClient(cfg.Webex.Token, opts...), nil
}

func printTranscript(res *engine.Result) {
	if res.PartialCoverage() {
		fmt.Printf("Warning: %d fetch chunk(s) failed; transcript is incomplete.\n\n", res.FailedChunks)
	}

	for _, g := range res.Groups {
		for i, m := range g.Messages {
			indent := ""
			if i > 0 {
				indent = "    "
			}
			author := m.Author.Name
			if author == "" {
				author = m.Author.ID
			}
			fmt.Printf("%s[%s] %s: %s\n", indent,
				m.Timestamp.Format("2006-01-02 15:04"), author, oneLine(m.Text))
			for _, img := range m.Images {
				fmt.Printf("%s  (image: %s)\n", indent, img)
			}
		}
	}

	fmt.Printf("\n%d messages in %d threads\n", len(res.Messages), len(res.Groups))
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func init() {
	fetchCmd.Flags().StringVar(&fetchAccount, "account", "", "account identifier (required)")
	fetchCmd.Flags().StringVar(&fetchConversation, "conversation", "", "conversation/room ID (required)")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "start date, YYYY-MM-DD (required)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "end date, YYYY-MM-DD (required)")
	fetchCmd.Flags().StringVar(&fetchTimezone, "timezone", "UTC", "IANA timezone for day boundaries")
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "bypass and skip the day cache")
	fetchCmd.Flags().BoolVar(&fetchImages, "images", false, "include image references in output")

	fetchCmd.MarkFlagRequired("account")
	fetchCmd.MarkFlagRequired("conversation")
	fetchCmd.MarkFlagRequired("start")
	fetchCmd.MarkFlagRequired("end")

	rootCmd.AddCommand(fetchCmd)
}
