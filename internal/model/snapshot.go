package model

import "time"

// TaskSnapshot is the normalized representation of a single board card as
// seen by one poll. The persisted copy of a snapshot is the engine's only
// memory of "last seen": absence of a row means the card was never observed.
type TaskSnapshot struct {
	// CardID is the stable numeric identifier from the task source.
	CardID int64

	Title       string
	Description string

	BoardID    int64
	BoardTitle string

	StackID    int64
	StackTitle string

	// Adjacent columns, used to render move affordances. Nil at either end
	// of the board.
	PrevStackID    *int64
	PrevStackTitle *string
	NextStackID    *int64
	NextStackTitle *string

	// DoneStackID is the board's terminal column, resolved by the fetcher.
	// Nil when the board has a single column.
	DoneStackID    *int64
	DoneStackTitle *string

	// DueDate is the card's due instant in UTC, nil when unset.
	DueDate *time.Time

	// Done is set once the card entered a terminal state.
	Done *time.Time

	// ETag is the opaque change fingerprint supplied by the source. An
	// empty string means no fingerprint was recorded.
	ETag string

	// Assignees holds the external login identifiers assigned to the card.
	Assignees []string

	Labels []string

	CommentsCount    int
	AttachmentsCount int
}

// HasAssignee reports whether login is currently assigned to the card.
func (t *TaskSnapshot) HasAssignee(login string) bool {
	for _, a := range t.Assignees {
		if a == login {
			return true
		}
	}
	return false
}

// TaskStats holds the last observed per-card counters, used solely to
// compute deltas between polls.
type TaskStats struct {
	CardID           int64
	CommentsCount    int
	AttachmentsCount int
}

// ReminderRecord marks that a reminder stage was delivered to a login.
type ReminderRecord struct {
	CardID int64
	Login  string
	Stage  Stage
	SentAt time.Time
}

// Delivery is an audit row appended after every successful dispatch. It
// makes the at-least-once boundary between persistence and the chat
// platform observable after the fact.
type Delivery struct {
	ID     string
	ChatID int64
	Kind   string
	CardID int64
	SentAt time.Time
}

// Delivery kinds recorded in the audit log.
const (
	DeliveryKindNewTask  = "new_task"
	DeliveryKindUpdate   = "update"
	DeliveryKindStats    = "stats"
	DeliveryKindReminder = "reminder"
	DeliveryKindSystem   = "system"
)
