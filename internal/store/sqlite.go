package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/deck-notify/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// GetSnapshots loads all persisted task snapshots with their append-only
// assignee sets.
func (s *SQLiteStore) GetSnapshots(ctx context.Context) (map[int64]model.TaskSnapshot, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT card_id, title, description,
		       board_id, board_title, stack_id, stack_title,
		       prev_stack_id, prev_stack_title,
		       next_stack_id, next_stack_title,
		       done_stack_id, done_stack_title,
		       duedate, done, etag
		FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.TaskSnapshot)
	for rows.Next() {
		t, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out[t.CardID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}

	links, err := s.GetAssigneeLinks(ctx)
	if err != nil {
		return nil, err
	}
	for cardID, logins := range links {
		t, ok := out[cardID]
		if !ok {
			continue
		}
		for login := range logins {
			t.Assignees = append(t.Assignees, login)
		}
		sort.Strings(t.Assignees)
		out[cardID] = t
	}

	return out, nil
}

// UpsertSnapshot inserts or updates a single task snapshot.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, t model.TaskSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			card_id, title, description,
			board_id, board_title, stack_id, stack_title,
			prev_stack_id, prev_stack_title,
			next_stack_id, next_stack_title,
			done_stack_id, done_stack_title,
			duedate, done, etag, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(card_id) DO UPDATE SET
			title            = excluded.title,
			description      = excluded.description,
			board_id         = excluded.board_id,
			board_title      = excluded.board_title,
			stack_id         = excluded.stack_id,
			stack_title      = excluded.stack_title,
			prev_stack_id    = excluded.prev_stack_id,
			prev_stack_title = excluded.prev_stack_title,
			next_stack_id    = excluded.next_stack_id,
			next_stack_title = excluded.next_stack_title,
			done_stack_id    = excluded.done_stack_id,
			done_stack_title = excluded.done_stack_title,
			duedate          = excluded.duedate,
			done             = excluded.done,
			etag             = excluded.etag,
			updated_at       = CURRENT_TIMESTAMP`,
		t.CardID, t.Title, t.Description,
		t.BoardID, t.BoardTitle, t.StackID, t.StackTitle,
		intPtrValue(t.PrevStackID), strPtrValue(t.PrevStackTitle),
		intPtrValue(t.NextStackID), strPtrValue(t.NextStackTitle),
		intPtrValue(t.DoneStackID), strPtrValue(t.DoneStackTitle),
		timePtrValue(t.DueDate), timePtrValue(t.Done), t.ETag,
	)
	if err != nil {
		return fmt.Errorf("upserting task %d: %w", t.CardID, err)
	}
	return nil
}

// GetAssigneeLinks loads the full (card, login) link set.
func (s *SQLiteStore) GetAssigneeLinks(ctx context.Context) (map[int64]map[string]struct{}, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT card_id, login FROM task_assignees")
	if err != nil {
		return nil, fmt.Errorf("querying task assignees: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]struct{})
	for rows.Next() {
		var cardID int64
		var login string
		if err := rows.Scan(&cardID, &login); err != nil {
			return nil, fmt.Errorf("scanning assignee row: %w", err)
		}
		if out[cardID] == nil {
			out[cardID] = make(map[string]struct{})
		}
		out[cardID][login] = struct{}{}
	}
	return out, rows.Err()
}

// AddAssigneeLink records a (card, login) pair; existing pairs are kept.
func (s *SQLiteStore) AddAssigneeLink(ctx context.Context, cardID int64, login string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO task_assignees (card_id, login) VALUES (?, ?)",
		cardID, login,
	)
	if err != nil {
		return fmt.Errorf("adding assignee link (%d, %s): %w", cardID, login, err)
	}
	return nil
}

// GetStats loads all per-card counters.
func (s *SQLiteStore) GetStats(ctx context.Context) (map[int64]model.TaskStats, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT card_id, comments_count, attachments_count FROM task_stats")
	if err != nil {
		return nil, fmt.Errorf("querying task stats: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.TaskStats)
	for rows.Next() {
		var st model.TaskStats
		if err := rows.Scan(&st.CardID, &st.CommentsCount, &st.AttachmentsCount); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		out[st.CardID] = st
	}
	return out, rows.Err()
}

// UpsertStats inserts or updates the counters for one card.
func (s *SQLiteStore) UpsertStats(ctx context.Context, st model.TaskStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_stats (card_id, comments_count, attachments_count)
		VALUES (?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			comments_count    = excluded.comments_count,
			attachments_count = excluded.attachments_count`,
		st.CardID, st.CommentsCount, st.AttachmentsCount,
	)
	if err != nil {
		return fmt.Errorf("upserting stats for card %d: %w", st.CardID, err)
	}
	return nil
}

// GetLabels loads all card labels, sorted per card.
func (s *SQLiteStore) GetLabels(ctx context.Context) (map[int64][]string, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT card_id, label FROM task_labels ORDER BY card_id, label")
	if err != nil {
		return nil, fmt.Errorf("querying task labels: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var cardID int64
		var label string
		if err := rows.Scan(&cardID, &label); err != nil {
			return nil, fmt.Errorf("scanning label row: %w", err)
		}
		out[cardID] = append(out[cardID], label)
	}
	return out, rows.Err()
}

// SetLabels replaces the label set for one card.
func (s *SQLiteStore) SetLabels(ctx context.Context, cardID int64, labels []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM task_labels WHERE card_id = ?", cardID); err != nil {
		return fmt.Errorf("clearing labels for card %d: %w", cardID, err)
	}
	for _, label := range labels {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO task_labels (card_id, label) VALUES (?, ?)",
			cardID, label); err != nil {
			return fmt.Errorf("inserting label for card %d: %w", cardID, err)
		}
	}

	return tx.Commit()
}

// GetLastReminders returns the most recent reminder record per (card, login).
func (s *SQLiteStore) GetLastReminders(ctx context.Context) (map[ReminderKey]model.ReminderRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT t.card_id, t.login, t.stage, t.sent_at
		FROM deadline_reminders AS t
		JOIN (
			SELECT card_id, login, MAX(sent_at) AS last_ts
			FROM deadline_reminders
			GROUP BY card_id, login
		) AS m
		  ON m.card_id = t.card_id
		 AND m.login   = t.login
		 AND m.last_ts = t.sent_at`)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer rows.Close()

	out := make(map[ReminderKey]model.ReminderRecord)
	for rows.Next() {
		var rec model.ReminderRecord
		var stage string
		if err := rows.Scan(&rec.CardID, &rec.Login, &stage, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("scanning reminder row: %w", err)
		}
		rec.Stage = model.Stage(stage)
		out[ReminderKey{CardID: rec.CardID, Login: rec.Login}] = rec
	}
	return out, rows.Err()
}

// MarkReminderSent supersedes any previous record for the pair with the
// given stage, stamped now.
func (s *SQLiteStore) MarkReminderSent(ctx context.Context, cardID int64, login string, stage model.Stage) error {
	return s.MarkReminderSentAt(ctx, cardID, login, stage, time.Now())
}

// MarkReminderSentAt is MarkReminderSent with an explicit timestamp.
func (s *SQLiteStore) MarkReminderSentAt(ctx context.Context, cardID int64, login string, stage model.Stage, sentAt time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM deadline_reminders WHERE card_id = ? AND login = ?",
		cardID, login); err != nil {
		return fmt.Errorf("clearing reminders (%d, %s): %w", cardID, login, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO deadline_reminders (card_id, login, stage, sent_at) VALUES (?, ?, ?, ?)",
		cardID, login, string(stage), sentAt.UTC()); err != nil {
		return fmt.Errorf("marking reminder (%d, %s, %s): %w", cardID, login, stage, err)
	}

	return tx.Commit()
}

// ResetReminders clears all reminder records for a card.
func (s *SQLiteStore) ResetReminders(ctx context.Context, cardID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM deadline_reminders WHERE card_id = ?", cardID)
	if err != nil {
		return fmt.Errorf("resetting reminders for card %d: %w", cardID, err)
	}
	return nil
}

// GetRecipientMap returns login -> chat id for all known users.
func (s *SQLiteStore) GetRecipientMap(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT chat_id, login FROM users")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var chatID int64
		var login string
		if err := rows.Scan(&chatID, &login); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		out[login] = chatID
	}
	return out, rows.Err()
}

// SaveRecipient stores or updates the login bound to a chat id.
func (s *SQLiteStore) SaveRecipient(ctx context.Context, chatID int64, login string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, login) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET login = excluded.login`,
		chatID, login,
	)
	if err != nil {
		return fmt.Errorf("saving recipient %d: %w", chatID, err)
	}
	return nil
}

// GetBoardThread returns the delivery thread bound to a board, nil when
// unbound.
func (s *SQLiteStore) GetBoardThread(ctx context.Context, boardID int64) (*int64, error) {
	var threadID int64
	err := s.db.GetContext(ctx, &threadID,
		"SELECT message_thread_id FROM board_topics WHERE board_id = ?", boardID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying board topic %d: %w", boardID, err)
	}
	return &threadID, nil
}

// SaveBoardThread binds a board to a delivery thread.
func (s *SQLiteStore) SaveBoardThread(ctx context.Context, boardID, threadID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_topics (board_id, message_thread_id) VALUES (?, ?)
		ON CONFLICT(board_id) DO UPDATE SET message_thread_id = excluded.message_thread_id`,
		boardID, threadID,
	)
	if err != nil {
		return fmt.Errorf("saving board topic %d: %w", boardID, err)
	}
	return nil
}

// RecordDelivery appends one audit row.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d model.Delivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, chat_id, kind, card_id, sent_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.ChatID, d.Kind, d.CardID, d.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording delivery %s: %w", d.ID, err)
	}
	return nil
}

// scanSnapshot scans one tasks row, converting SQL NULLs to nil pointers.
func scanSnapshot(rows *sqlx.Rows) (model.TaskSnapshot, error) {
	var (
		t              model.TaskSnapshot
		prevID         sql.NullInt64
		prevTitle      sql.NullString
		nextID         sql.NullInt64
		nextTitle      sql.NullString
		doneStackID    sql.NullInt64
		doneStackTitle sql.NullString
		duedate        sql.NullTime
		done           sql.NullTime
	)

	err := rows.Scan(
		&t.CardID, &t.Title, &t.Description,
		&t.BoardID, &t.BoardTitle, &t.StackID, &t.StackTitle,
		&prevID, &prevTitle, &nextID, &nextTitle,
		&doneStackID, &doneStackTitle,
		&duedate, &done, &t.ETag,
	)
	if err != nil {
		return model.TaskSnapshot{}, fmt.Errorf("scanning task row: %w", err)
	}

	t.PrevStackID = nullInt(prevID)
	t.PrevStackTitle = nullStr(prevTitle)
	t.NextStackID = nullInt(nextID)
	t.NextStackTitle = nullStr(nextTitle)
	t.DoneStackID = nullInt(doneStackID)
	t.DoneStackTitle = nullStr(doneStackTitle)
	t.DueDate = nullTime(duedate)
	t.Done = nullTime(done)

	return t, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func intPtrValue(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func strPtrValue(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func timePtrValue(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return p.UTC()
}
