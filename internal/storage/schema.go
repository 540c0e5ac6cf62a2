package storage

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                text PRIMARY KEY,
	url               text NOT NULL,
	dest_path         text NOT NULL,
	status            text NOT NULL,
	priority          int  NOT NULL DEFAULT 0,
	total_bytes       int  NOT NULL DEFAULT 0,
	downloaded_bytes  int  NOT NULL DEFAULT 0,
	created_at        int  NOT NULL,
	updated_at        int  NOT NULL,
	error             text NOT NULL DEFAULT '',
	checksum_type     text NOT NULL DEFAULT '',
	checksum_hex      text NOT NULL DEFAULT '',
	proxy_url         text NOT NULL DEFAULT '',
	auth_user         text NOT NULL DEFAULT '',
	auth_pass         text NOT NULL DEFAULT '',
	speed_cap_bps     int  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS segments (
	id                integer PRIMARY KEY AUTOINCREMENT,
	task_id           text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	segment_index     int  NOT NULL,
	range_start       int  NOT NULL,
	range_end         int  NOT NULL,
	downloaded_bytes  int  NOT NULL DEFAULT 0,
	status            text NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_task ON segments(task_id);

CREATE TABLE IF NOT EXISTS headers (
	id       integer PRIMARY KEY AUTOINCREMENT,
	task_id  text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	name     text NOT NULL,
	value    text NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_headers_task ON headers(task_id);

CREATE TABLE IF NOT EXISTS cookies (
	id       integer PRIMARY KEY AUTOINCREMENT,
	task_id  text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	name     text NOT NULL,
	value    text NOT NULL,
	domain   text NOT NULL DEFAULT '',
	path     text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cookies_task ON cookies(task_id);

CREATE TABLE IF NOT EXISTS mirrors (
	id       integer PRIMARY KEY AUTOINCREMENT,
	task_id  text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	url      text NOT NULL,
	rank     int  NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_mirrors_task ON mirrors(task_id);

CREATE TABLE IF NOT EXISTS events (
	id          integer PRIMARY KEY AUTOINCREMENT,
	task_id     text NOT NULL,
	event_type  text NOT NULL,
	payload     text NOT NULL DEFAULT '',
	created_at  int  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
`
