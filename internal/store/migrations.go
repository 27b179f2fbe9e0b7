package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	card_id          INTEGER PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	board_id         INTEGER NOT NULL,
	board_title      TEXT NOT NULL,
	stack_id         INTEGER NOT NULL,
	stack_title      TEXT NOT NULL,
	prev_stack_id    INTEGER,
	prev_stack_title TEXT,
	next_stack_id    INTEGER,
	next_stack_title TEXT,
	done_stack_id    INTEGER,
	done_stack_title TEXT,
	duedate          DATETIME,
	done             DATETIME,
	etag             TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_assignees (
	card_id INTEGER NOT NULL,
	login   TEXT NOT NULL,
	PRIMARY KEY (card_id, login)
);

CREATE TABLE IF NOT EXISTS task_stats (
	card_id           INTEGER PRIMARY KEY,
	comments_count    INTEGER NOT NULL DEFAULT 0,
	attachments_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_labels (
	card_id INTEGER NOT NULL,
	label   TEXT NOT NULL,
	PRIMARY KEY (card_id, label)
);

CREATE TABLE IF NOT EXISTS deadline_reminders (
	card_id INTEGER NOT NULL,
	login   TEXT NOT NULL,
	stage   TEXT NOT NULL,
	sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (card_id, login, stage)
);

CREATE TABLE IF NOT EXISTS users (
	chat_id INTEGER PRIMARY KEY,
	login   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS board_topics (
	board_id          INTEGER PRIMARY KEY,
	message_thread_id INTEGER NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deliveries (
	id      TEXT PRIMARY KEY,
	chat_id INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	card_id INTEGER NOT NULL DEFAULT 0,
	sent_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_duedate ON tasks(duedate);
CREATE INDEX IF NOT EXISTS idx_tasks_board_id ON tasks(board_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_sent_at ON deliveries(sent_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
