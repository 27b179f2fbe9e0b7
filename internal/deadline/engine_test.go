package deadline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nhle/deck-notify/internal/config"
	"github.com/nhle/deck-notify/internal/model"
	"github.com/nhle/deck-notify/internal/notify"
	"github.com/nhle/deck-notify/internal/store"
	"github.com/nhle/deck-notify/tests/testutil"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	direct []sentMessage
	ok     bool
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string, opts notify.SendOptions) bool {
	f.direct = append(f.direct, sentMessage{chatID: chatID, text: text})
	return f.ok
}

func (f *fakeSender) SendLog(ctx context.Context, boardID int64, text string, opts notify.SendOptions) bool {
	return f.ok
}

func ptrInt(v int64) *int64   { return &v }
func ptrStr(v string) *string { return &v }

// seedTask persists an active card with a due date and one assignee.
func seedTask(t *testing.T, st *store.SQLiteStore, cardID int64, due time.Time, login string) {
	t.Helper()
	ctx := context.Background()

	task := model.TaskSnapshot{
		CardID:         cardID,
		Title:          "Quarterly report",
		BoardID:        1,
		BoardTitle:     "Main",
		StackID:        20,
		StackTitle:     "In progress",
		PrevStackID:    ptrInt(10),
		PrevStackTitle: ptrStr("Backlog"),
		NextStackID:    ptrInt(30),
		NextStackTitle: ptrStr("Done"),
		DueDate:        &due,
		ETag:           "e1",
	}
	if err := st.UpsertSnapshot(ctx, task); err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}
	if err := st.AddAssigneeLink(ctx, cardID, login); err != nil {
		t.Fatalf("seeding assignee: %v", err)
	}
}

func newTestEngine(t *testing.T, st *store.SQLiteStore, sender *fakeSender, now time.Time, cfg Config) *Engine {
	t.Helper()
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Quiet == (config.QuietHours{}) {
		cfg.Quiet = config.QuietHours{Start: 0, End: 8}
	}
	cfg.Interval = time.Minute
	cfg.BaseURL = "https://cloud.example.com/index.php/apps/deck/api/v1.0"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(st, sender, cfg, logger)
	eng.now = func() time.Time { return now }
	return eng
}

func TestCyclePre7dEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	seedTask(t, st, 42, due, "alice")
	if err := st.SaveRecipient(ctx, 555, "alice"); err != nil {
		t.Fatalf("seeding recipient: %v", err)
	}

	sender := &fakeSender{ok: true}
	now := time.Date(2024, 1, 3, 10, 0, 1, 0, time.UTC)
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(sender.direct) != 1 {
		t.Fatalf("expected 1 reminder message, got %d", len(sender.direct))
	}
	msg := sender.direct[0]
	if msg.chatID != 555 {
		t.Errorf("expected delivery to 555, got %d", msg.chatID)
	}
	if !strings.Contains(msg.text, "Due in a week") {
		t.Errorf("expected a pre-week line, got %q", msg.text)
	}
	if !strings.Contains(msg.text, `<a href="https://cloud.example.com/apps/deck/board/1/card/42">42</a>`) {
		t.Errorf("expected a card link, got %q", msg.text)
	}

	last, err := st.GetLastReminders(ctx)
	if err != nil {
		t.Fatalf("loading reminders: %v", err)
	}
	rec, ok := last[store.ReminderKey{CardID: 42, Login: "alice"}]
	if !ok {
		t.Fatal("expected a reminder record for (42, alice)")
	}
	if rec.Stage != model.StagePre7d {
		t.Errorf("expected stage pre_7d, got %q", rec.Stage)
	}
}

func TestCycleQuietHoursSuppressEverything(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	due := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	seedTask(t, st, 42, due, "alice")
	st.SaveRecipient(ctx, 555, "alice")

	sender := &fakeSender{ok: true}
	// 03:00 local, due instant already passed, quiet range 0-8.
	now := time.Date(2024, 1, 10, 3, 0, 5, 0, time.UTC)
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(sender.direct) != 0 {
		t.Errorf("expected no messages during quiet hours, got %d", len(sender.direct))
	}
	last, _ := st.GetLastReminders(ctx)
	if len(last) != 0 {
		t.Errorf("expected no reminder records during quiet hours, got %d", len(last))
	}
}

func TestCycleSkipsAheadToHighestStage(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	due := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	seedTask(t, st, 42, due, "alice")
	st.SaveRecipient(ctx, 555, "alice")

	sender := &fakeSender{ok: true}
	// First evaluation ever, ten minutes past due: every pre stage and the
	// due stage are eligible; only the highest fires.
	now := due.Add(10 * time.Minute)
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(sender.direct) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.direct))
	}
	if !strings.Contains(sender.direct[0].text, "Due now") {
		t.Errorf("expected the due line, got %q", sender.direct[0].text)
	}
	if strings.Contains(sender.direct[0].text, "Due in a week") {
		t.Error("intermediate stages must not fire alongside the highest one")
	}

	last, _ := st.GetLastReminders(ctx)
	if rec := last[store.ReminderKey{CardID: 42, Login: "alice"}]; rec.Stage != model.StageDue {
		t.Errorf("expected stage due, got %q", rec.Stage)
	}
}

func TestCycleFailedSendMarksNothing(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	seedTask(t, st, 42, due, "alice")
	st.SaveRecipient(ctx, 555, "alice")

	sender := &fakeSender{ok: false}
	now := time.Date(2024, 1, 3, 10, 0, 1, 0, time.UTC)
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	last, _ := st.GetLastReminders(ctx)
	if len(last) != 0 {
		t.Errorf("a failed send must not mark stages sent, got %d records", len(last))
	}
}

func TestCycleResetsAfterReopen(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	// Due pushed into the future after the card went overdue.
	due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	seedTask(t, st, 42, due, "alice")
	st.SaveRecipient(ctx, 555, "alice")
	if err := st.MarkReminderSent(ctx, 42, "alice", model.StagePost2h); err != nil {
		t.Fatalf("seeding reminder: %v", err)
	}

	sender := &fakeSender{ok: true}
	now := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	// History restarted: the escalation begins again from pre_7d.
	last, _ := st.GetLastReminders(ctx)
	rec, ok := last[store.ReminderKey{CardID: 42, Login: "alice"}]
	if !ok {
		t.Fatal("expected a fresh reminder record")
	}
	if rec.Stage != model.StagePre7d {
		t.Errorf("expected stage pre_7d after the reset, got %q", rec.Stage)
	}
	if len(sender.direct) != 1 || !strings.Contains(sender.direct[0].text, "Due in a week") {
		t.Errorf("expected a pre-week reminder, got %+v", sender.direct)
	}
}

func TestCycleRepeatZone(t *testing.T) {
	tests := []struct {
		name       string
		lastSentAt time.Time
		expectSend bool
	}{
		{
			name:       "repeat interval elapsed",
			lastSentAt: time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC),
			expectSend: true,
		},
		{
			name:       "repeat interval not yet elapsed",
			lastSentAt: time.Date(2024, 1, 19, 10, 0, 0, 0, time.UTC),
			expectSend: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := testutil.NewTestStore(t)
			due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
			seedTask(t, st, 42, due, "alice")
			st.SaveRecipient(ctx, 555, "alice")
			if err := st.MarkReminderSentAt(ctx, 42, "alice", model.StagePostRepeat, tt.lastSentAt); err != nil {
				t.Fatalf("seeding reminder: %v", err)
			}

			sender := &fakeSender{ok: true}
			now := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
			eng := newTestEngine(t, st, sender, now, Config{
				RepeatInterval: 48 * time.Hour,
			})

			if err := eng.Cycle(ctx); err != nil {
				t.Fatalf("Cycle failed: %v", err)
			}

			if tt.expectSend {
				if len(sender.direct) != 1 || !strings.Contains(sender.direct[0].text, "Overdue for") {
					t.Errorf("expected a repeat reminder, got %+v", sender.direct)
				}
			} else if len(sender.direct) != 0 {
				t.Errorf("expected no reminder, got %+v", sender.direct)
			}
		})
	}
}

func TestCycleSkipsInactiveTasks(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	done := due.Add(-time.Hour)

	// Completed card.
	completed := model.TaskSnapshot{
		CardID:      1,
		Title:       "Done already",
		BoardID:     1,
		StackID:     30,
		PrevStackID: ptrInt(20),
		DueDate:     &due,
		Done:        &done,
		ETag:        "e1",
	}
	// Card outside the active workflow: no adjacent columns.
	parked := model.TaskSnapshot{
		CardID:  2,
		Title:   "Parked",
		BoardID: 1,
		StackID: 40,
		DueDate: &due,
		ETag:    "e2",
	}
	for _, task := range []model.TaskSnapshot{completed, parked} {
		if err := st.UpsertSnapshot(ctx, task); err != nil {
			t.Fatalf("seeding snapshot: %v", err)
		}
		if err := st.AddAssigneeLink(ctx, task.CardID, "alice"); err != nil {
			t.Fatalf("seeding assignee: %v", err)
		}
	}
	st.SaveRecipient(ctx, 555, "alice")

	sender := &fakeSender{ok: true}
	now := due.Add(10 * time.Minute)
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(sender.direct) != 0 {
		t.Errorf("expected no reminders for inactive tasks, got %+v", sender.direct)
	}
}

func TestCycleMutedTaskSkipped(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	seedTask(t, st, 42, due, "alice")
	st.SaveRecipient(ctx, 555, "alice")

	sender := &fakeSender{ok: true}
	now := due.Add(10 * time.Minute)
	eng := newTestEngine(t, st, sender, now, Config{
		Muted: map[int64]struct{}{42: {}},
	})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(sender.direct) != 0 {
		t.Errorf("expected no reminders for a muted task, got %+v", sender.direct)
	}
}

func TestCycleBatchesAndOrdersPerRecipient(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	// Card 1 just hit its due instant; card 2's week-ahead anchor passed.
	seedTask(t, st, 1, now.Add(-10*time.Minute), "alice")
	seedTask(t, st, 2, now.AddDate(0, 0, 5), "alice")
	st.SaveRecipient(ctx, 555, "alice")

	sender := &fakeSender{ok: true}
	eng := newTestEngine(t, st, sender, now, Config{})

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(sender.direct) != 1 {
		t.Fatalf("expected a single batched message, got %d", len(sender.direct))
	}
	text := sender.direct[0].text
	duePos := strings.Index(text, "Due now")
	weekPos := strings.Index(text, "Due in a week")
	if duePos == -1 || weekPos == -1 {
		t.Fatalf("expected both stage lines, got %q", text)
	}
	if duePos > weekPos {
		t.Error("due-adjacent lines must come before far-future ones")
	}
}
