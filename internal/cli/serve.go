package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/deck-notify/internal/config"
	"github.com/nhle/deck-notify/internal/deadline"
	"github.com/nhle/deck-notify/internal/model"
	"github.com/nhle/deck-notify/internal/notify"
	"github.com/nhle/deck-notify/internal/source/deck"
	"github.com/nhle/deck-notify/internal/store"
	"github.com/nhle/deck-notify/internal/version"
	syncengine "github.com/nhle/deck-notify/internal/sync"
)

// Platform-imposed delivery budget: 20 messages per rolling minute overall,
// at most one per second to any single chat.
const (
	globalLimit  = 20
	globalWindow = 60 * time.Second

	recipientLimit  = 1
	recipientWindow = time.Second
)

// ServeCmd returns the serve command, which runs both poll loops until
// SIGINT/SIGTERM.
func ServeCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync and deadline poll loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Optional; deployments may supply everything via the
			// environment directly.
			_ = godotenv.Load(envPath)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to the env file")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Debug)

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	fetcher := deck.NewAdapter(cfg.BaseURL, cfg.Username, cfg.Password)
	transport := notify.NewTelegramClient(cfg.BotToken)

	dispatcher := notify.NewDispatcher(
		transport,
		notify.NewSlidingWindow(globalLimit, globalWindow),
		notify.NewPerRecipient(recipientLimit, recipientWindow),
		st,
		st,
		cfg.ForumChatID,
		cfg.LogTopicID,
		logger,
	)

	syncEng := syncengine.New(fetcher, st, dispatcher, syncengine.Config{
		Interval: cfg.PollInterval,
		Timezone: cfg.Timezone,
		Muted:    cfg.ExcludedIDs,
	}, logger)

	deadlineEng := deadline.New(st, dispatcher, deadline.Config{
		Interval:       cfg.DeadlinesInterval,
		Timezone:       cfg.Timezone,
		Quiet:          cfg.QuietHours,
		RepeatInterval: time.Duration(cfg.RepeatDays) * 24 * time.Hour,
		Muted:          cfg.ExcludedIDs,
		BaseURL:        cfg.BaseURL,
	}, logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	announceStartup(ctx, dispatcher, cfg)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncEng.Run(ctx) })
	g.Go(func() error { return deadlineEng.Run(ctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// announceStartup posts the restart notice to the log thread. Without a
// configured log topic nothing is sent; the forum chat root is never the
// right place for process chatter.
func announceStartup(ctx context.Context, sender notify.Sender, cfg *config.Config) {
	if cfg.LogTopicID == nil {
		return
	}

	text := "🔄 Bot restarted on a local build."
	if version.Commit != "" && version.Commit != "unknown" {
		text = fmt.Sprintf("🔄 Bot restarted at commit `%s`.", version.Commit)
	}
	sender.SendLog(ctx, 0, text, notify.SendOptions{Kind: model.DeliveryKindSystem})
}

// newLogger builds the process-wide structured logger.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
