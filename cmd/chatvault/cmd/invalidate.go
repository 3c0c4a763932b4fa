package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatvault/chatvault/internal/engine"
)

var (
	invalidateAccount      string
	invalidateConversation string
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached days for a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.Invalidate(engine.Request{
			Account:        invalidateAccount,
			ConversationID: invalidateConversation,
		}); err != nil {
			return err
		}

		fmt.Printf("Cache invalidated for conversation %s\n", invalidateConversation)
		return nil
	},
}

func init() {
	invalidateCmd.Flags().StringVar(&invalidateAccount, "account", "", "account identifier (required)")
	invalidateCmd.Flags().StringVar(&invalidateConversation, "conversation", "", "conversation/room ID (required)")

	invalidateCmd.MarkFlagRequired("account")
	invalidateCmd.MarkFlagRequired("conversation")

	rootCmd.AddCommand(invalidateCmd)
}
