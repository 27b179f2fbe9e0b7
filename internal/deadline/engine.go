// Package deadline implements the escalation engine: a periodic loop that
// walks every persisted task with a due date and decides, per assignee,
// which reminder stage is newly reachable.
package deadline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nhle/deck-notify/internal/config"
	"github.com/nhle/deck-notify/internal/links"
	"github.com/nhle/deck-notify/internal/model"
	"github.com/nhle/deck-notify/internal/notify"
	"github.com/nhle/deck-notify/internal/store"
)

// Config holds the escalation engine's tunables.
type Config struct {
	Interval time.Duration
	Timezone *time.Location
	Quiet    config.QuietHours

	// RepeatInterval spaces repeating overdue reminders once the last
	// fixed stage has passed. Zero disables repeats.
	RepeatInterval time.Duration

	// Muted lists card ids excluded from reminders entirely.
	Muted map[int64]struct{}

	// BaseURL is the task source root, used to render card links.
	BaseURL string
}

// Engine evaluates the reminder schedule against persisted snapshots. It
// never talks to the task source: the sync loop owns freshness, this loop
// owns time.
type Engine struct {
	store  store.Store
	sender notify.Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an escalation engine.
func New(st store.Store, sender notify.Sender, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes reminder cycles until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("deadlines: poll loop starting", "interval", e.cfg.Interval)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.Cycle(ctx); err != nil {
			e.logger.Error("deadlines: cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pending is one chosen reminder awaiting dispatch in a recipient's batch.
type pending struct {
	stage  model.Stage
	line   string
	cardID int64
}

// Cycle performs one reminder evaluation pass. During quiet hours the pass
// is skipped wholesale, so no reminder is ever recorded inside the window.
func (e *Engine) Cycle(ctx context.Context) error {
	now := e.now().UTC()

	if e.cfg.Quiet.Contains(now.In(e.cfg.Timezone).Hour()) {
		e.logger.Info("deadlines: quiet hours, skipping")
		return nil
	}

	snapshots, err := e.store.GetSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshots: %w", err)
	}
	lastMap, err := e.store.GetLastReminders(ctx)
	if err != nil {
		return fmt.Errorf("loading reminder records: %w", err)
	}
	recipients, err := e.store.GetRecipientMap(ctx)
	if err != nil {
		return fmt.Errorf("loading recipient map: %w", err)
	}

	perRecipient := make(map[string][]pending)
	withDue, active := 0, 0

	for _, task := range snapshots {
		if task.DueDate == nil {
			continue
		}
		withDue++

		if _, muted := e.cfg.Muted[task.CardID]; muted {
			continue
		}
		// Completed cards and cards with no adjacent columns (not an
		// active workflow item) never remind.
		if task.Done != nil || (task.PrevStackID == nil && task.NextStackID == nil) {
			continue
		}
		if len(task.Assignees) == 0 {
			continue
		}
		active++

		e.evaluateTask(ctx, task, now, lastMap, perRecipient)
	}

	total := 0
	for _, entries := range perRecipient {
		total += len(entries)
	}
	e.logger.Info("deadlines: evaluation complete",
		"cards", len(snapshots), "with_due", withDue, "active", active,
		"recipients", len(perRecipient), "reminders", total)

	if total == 0 {
		return nil
	}

	e.dispatchBatches(ctx, perRecipient, recipients)
	return nil
}

// evaluateTask picks, for each assignee, the single stage (if any) that
// should fire now, and queues its rendered line.
func (e *Engine) evaluateTask(ctx context.Context, task model.TaskSnapshot, now time.Time, lastMap map[store.ReminderKey]model.ReminderRecord, perRecipient map[string][]pending) {
	due := task.DueDate.UTC()
	sched := e.fixedSchedule(due)

	repeatZone := e.cfg.RepeatInterval > 0 &&
		!now.Before(sched[model.StagePost24h].Add(e.cfg.RepeatInterval))

	dueRank := model.StageDue.FixedRank()

	for _, login := range task.Assignees {
		last, haveLast := lastMap[store.ReminderKey{CardID: task.CardID, Login: login}]

		lastRank := -1
		if haveLast {
			lastRank = last.Stage.FixedRank()
		}

		// A card due in the future with an at-or-past-due record was
		// reopened; the escalation history restarts from scratch.
		if now.Before(due) && lastRank >= dueRank {
			if err := e.store.ResetReminders(ctx, task.CardID); err != nil {
				e.logger.Error("deadlines: reset failed",
					"card", task.CardID, "error", err)
			}
			haveLast = false
			lastRank = -1
		}

		var chosen model.Stage

		if repeatZone {
			switch {
			case !haveLast || last.Stage != model.StagePostRepeat:
				chosen = model.StagePostRepeat
			case now.Sub(last.SentAt.UTC()) >= e.cfg.RepeatInterval:
				chosen = model.StagePostRepeat
			}
		} else {
			// Highest-ranked fixed stage past its target; skipping
			// intermediate stages is expected with coarse polling.
			for _, s := range model.FixedStages {
				if s.FixedRank() > lastRank && !now.Before(sched[s]) {
					chosen = s
				}
			}
		}

		if chosen == "" {
			continue
		}

		perRecipient[login] = append(perRecipient[login], pending{
			stage:  chosen,
			line:   e.lineForStage(chosen, task, due, now),
			cardID: task.CardID,
		})
	}
}

// dispatchBatches sends one message per recipient and marks every implied
// stage sent only when the dispatch succeeded.
func (e *Engine) dispatchBatches(ctx context.Context, perRecipient map[string][]pending, recipients map[string]int64) {
	for login, entries := range perRecipient {
		chatID, ok := recipients[login]
		if !ok {
			continue
		}

		sort.Slice(entries, func(i, j int) bool {
			pi, pj := entries[i].stage.MessagePriority(), entries[j].stage.MessagePriority()
			if pi != pj {
				return pi < pj
			}
			return entries[i].cardID < entries[j].cardID
		})

		lines := make([]string, len(entries))
		for i, p := range entries {
			lines[i] = p.line
		}

		sent := e.sender.Send(ctx, chatID,
			"⏰ Deadline reminders:\n"+strings.Join(lines, "\n"),
			notify.SendOptions{Kind: model.DeliveryKindReminder})
		if !sent {
			e.logger.Warn("deadlines: delivery failed, stages not marked",
				"login", login, "chat", chatID)
			continue
		}

		for _, p := range entries {
			if err := e.store.MarkReminderSent(ctx, p.cardID, login, p.stage); err != nil {
				e.logger.Error("deadlines: marking stage failed",
					"card", p.cardID, "login", login, "stage", p.stage, "error", err)
			}
		}
	}
}

// fixedSchedule maps each fixed stage to its target instant. The far-out
// stages anchor to 10:00 team-local; the due-adjacent ones are exact
// offsets from the due instant.
func (e *Engine) fixedSchedule(due time.Time) map[model.Stage]time.Time {
	return map[model.Stage]time.Time{
		model.StagePre7d:   e.atTeamTen(due.AddDate(0, 0, -7)),
		model.StagePre24h:  e.atTeamTen(due.AddDate(0, 0, -1)),
		model.StagePre2h:   due.Add(-2 * time.Hour),
		model.StageDue:     due,
		model.StagePost2h:  due.Add(2 * time.Hour),
		model.StagePost24h: e.atTeamTen(due.AddDate(0, 0, 1)),
	}
}

// atTeamTen shifts an instant to 10:00 of the same team-local day.
func (e *Engine) atTeamTen(t time.Time) time.Time {
	local := t.In(e.cfg.Timezone)
	return time.Date(local.Year(), local.Month(), local.Day(),
		10, 0, 0, 0, e.cfg.Timezone).UTC()
}

// lineForStage renders one reminder line. The card id is a pre-rendered
// anchor so it survives the markup pass untouched.
func (e *Engine) lineForStage(stage model.Stage, task model.TaskSnapshot, due, now time.Time) string {
	var prefix string
	switch stage {
	case model.StagePre7d:
		prefix = "📅 Due in a week"
	case model.StagePre24h:
		prefix = "🌝 Due tomorrow"
	case model.StagePre2h:
		prefix = "⏳ Due in ~2 hours"
	case model.StageDue:
		prefix = "🔔 Due now"
	case model.StagePost2h:
		prefix = "⚠️ Overdue by ~2 hours"
	case model.StagePost24h:
		prefix = "🌚 Overdue by a day"
	case model.StagePostRepeat:
		prefix = fmt.Sprintf("🔁 Overdue for %d days", int(now.Sub(due).Hours()/24))
	default:
		prefix = "⏰ Reminder"
	}

	link := fmt.Sprintf(`<a href="%s">%d</a>`,
		links.CardURL(e.cfg.BaseURL, task.BoardID, task.CardID), task.CardID)

	return fmt.Sprintf("— %s: «%s» — ID: %s — %s (Δ %s)",
		prefix, task.Title, link,
		due.In(e.cfg.Timezone).Format("2006-01-02 15:04"),
		formatDelta(now, due))
}

// formatDelta renders the now→due distance as the two most significant
// units ("2d 3h", "4h 10m", "5m"), with a minus when overdue.
func formatDelta(now, due time.Time) string {
	d := due.Sub(now)
	neg := d < 0
	if neg {
		d = -d
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var s string
	switch {
	case days > 0:
		s = fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		s = fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		s = fmt.Sprintf("%dm", minutes)
	}
	if neg {
		return "-" + s
	}
	return s
}
