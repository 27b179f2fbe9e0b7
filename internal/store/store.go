package store

import (
	"context"

	"github.com/nhle/deck-notify/internal/model"
)

// ReminderKey identifies the reminder history for one (card, login) pair.
type ReminderKey struct {
	CardID int64
	Login  string
}

// Store defines the persistence interface for task snapshots, assignee
// links, reminder records, stats, channel bindings, and the identity map.
// All methods are simple keyed reads and writes; each statement commits
// independently.
type Store interface {
	// === Task snapshots ===

	// GetSnapshots loads every persisted snapshot keyed by card id, with
	// the append-only assignee set populated.
	GetSnapshots(ctx context.Context) (map[int64]model.TaskSnapshot, error)
	UpsertSnapshot(ctx context.Context, t model.TaskSnapshot) error

	// === Assignee links (append-only within a poll) ===

	GetAssigneeLinks(ctx context.Context) (map[int64]map[string]struct{}, error)
	AddAssigneeLink(ctx context.Context, cardID int64, login string) error

	// === Stats ===

	GetStats(ctx context.Context) (map[int64]model.TaskStats, error)
	UpsertStats(ctx context.Context, s model.TaskStats) error

	// === Labels ===

	GetLabels(ctx context.Context) (map[int64][]string, error)
	SetLabels(ctx context.Context, cardID int64, labels []string) error

	// === Deadline reminders ===

	// GetLastReminders returns the semantically current record per
	// (card, login) pair.
	GetLastReminders(ctx context.Context) (map[ReminderKey]model.ReminderRecord, error)
	// MarkReminderSent supersedes any previous record for the pair.
	MarkReminderSent(ctx context.Context, cardID int64, login string, stage model.Stage) error
	// ResetReminders clears all records for a card (due date reset).
	ResetReminders(ctx context.Context, cardID int64) error

	// === Identity ===

	// GetRecipientMap returns login -> chat recipient id.
	GetRecipientMap(ctx context.Context) (map[string]int64, error)
	SaveRecipient(ctx context.Context, chatID int64, login string) error

	// === Channel bindings ===

	// GetBoardThread returns the bound thread id, or nil when unbound.
	GetBoardThread(ctx context.Context, boardID int64) (*int64, error)
	SaveBoardThread(ctx context.Context, boardID, threadID int64) error

	// === Delivery audit ===

	RecordDelivery(ctx context.Context, d model.Delivery) error
}
