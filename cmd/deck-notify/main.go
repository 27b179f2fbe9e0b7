package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/deck-notify/internal/cli"
	"github.com/nhle/deck-notify/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "deck-notify",
		Short:   "Nextcloud Deck to Telegram notification daemon",
		Version: version.String(),
		Long: `deck-notify polls Nextcloud Deck boards, detects card changes, and
delivers notifications and deadline reminders to Telegram.`,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.CheckCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
