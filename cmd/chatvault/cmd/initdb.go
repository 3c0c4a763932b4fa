package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatvault/chatvault/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return err
		}

		fmt.Printf("Database initialized at %s\n", st.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
