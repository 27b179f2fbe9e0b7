package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/deck-notify/internal/config"
	"github.com/nhle/deck-notify/internal/notify"
	"github.com/nhle/deck-notify/internal/source/deck"
)

// CheckCmd returns the check command, which validates connectivity to the
// task source and the chat platform without starting the loops.
func CheckCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and connectivity, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(envPath)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			ok := color.New(color.FgGreen).Sprint("OK")
			fail := color.New(color.FgRed).Sprint("FAIL")
			failed := false

			fetcher := deck.NewAdapter(cfg.BaseURL, cfg.Username, cfg.Password)
			if boards, err := fetcher.Ping(cmd.Context()); err != nil {
				fmt.Printf("Deck API:     %s (%v)\n", fail, err)
				failed = true
			} else {
				fmt.Printf("Deck API:     %s (%d boards)\n", ok, boards)
			}

			transport := notify.NewTelegramClient(cfg.BotToken)
			if username, err := transport.GetMe(cmd.Context()); err != nil {
				fmt.Printf("Telegram bot: %s (%v)\n", fail, err)
				failed = true
			} else {
				fmt.Printf("Telegram bot: %s (@%s)\n", ok, username)
			}

			if failed {
				return fmt.Errorf("connectivity check failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to the env file")
	return cmd
}
