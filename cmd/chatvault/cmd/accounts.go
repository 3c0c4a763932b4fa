package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatvault/chatvault/internal/store"
	"github.com/chatvault/chatvault/internal/timeday"
)

var (
	addAccountPlatform string
	addAccountTimezone string
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account <identifier>",
	Short: "Register an account in the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := args[0]

		// Reject bad zones at registration rather than at first fetch.
		if _, err := time.LoadLocation(addAccountTimezone); err != nil {
			return fmt.Errorf("%w: %q", timeday.ErrInvalidTimezone, addAccountTimezone)
		}

		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.InitSchema(); err != nil {
			return err
		}

		acct, err := st.GetOrCreateAccount(addAccountPlatform, identifier, addAccountTimezone)
		if err != nil {
			return err
		}

		fmt.Printf("Account %s/%s registered (id %d, timezone %s)\n",
			acct.Platform, acct.Identifier, acct.ID, acct.Timezone)
		return nil
	},
}

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.InitSchema(); err != nil {
			return err
		}

		accounts, err := st.ListAccounts("")
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts registered. Use 'chatvault add-account' to add one.")
			return nil
		}

		for _, a := range accounts {
			lastFetch := "never"
			if a.LastFetchAt.Valid {
				lastFetch = a.LastFetchAt.Time.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-8s %-30s tz=%-20s last fetch: %s\n",
				a.Platform, a.Identifier, a.Timezone, lastFetch)
		}
		return nil
	},
}

func init() {
	addAccountCmd.Flags().StringVar(&addAccountPlatform, "platform", "webex", "chat platform")
	addAccountCmd.Flags().StringVar(&addAccountTimezone, "timezone", "UTC", "IANA timezone for day boundaries")

	rootCmd.AddCommand(addAccountCmd)
	rootCmd.AddCommand(listAccountsCmd)
}
