package sqlitepool

// Schema is the full newsletter schema. Each repository could own its own
// tables, but tokens reference subscribers, so one script keeps creation
// order correct.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	subscribed_at TEXT NOT NULL,
	status        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscription_tokens (
	subscription_token TEXT PRIMARY KEY,
	subscriber_id      TEXT NOT NULL REFERENCES subscriptions (id)
);

CREATE INDEX IF NOT EXISTS subscription_tokens_subscriber
	ON subscription_tokens (subscriber_id);

CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency (
	actor_id             TEXT NOT NULL,
	idempotency_key      TEXT NOT NULL,
	status               TEXT NOT NULL,
	response_status_code INTEGER,
	response_headers     BLOB,
	response_body        BLOB,
	created_at           TEXT NOT NULL,
	completed_at         TEXT,
	PRIMARY KEY (actor_id, idempotency_key)
);
`
