package storage

// schema is the single source of truth for the relational layout. Invariants
// the database enforces itself: unique emails and asset tags, FK integrity,
// non-negative stock counts, and the asset-xor-stock shape of loan lines.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('ADMIN', 'MANAGER', 'READER')),
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS employees (
	id              TEXT PRIMARY KEY,
	first_name      TEXT NOT NULL,
	last_name       TEXT NOT NULL,
	email           TEXT UNIQUE,
	department      TEXT,
	manager_user_id TEXT REFERENCES users(id),
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_models (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	brand      TEXT NOT NULL,
	model_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_items (
	id             TEXT PRIMARY KEY,
	asset_model_id TEXT NOT NULL REFERENCES asset_models(id),
	asset_tag      TEXT UNIQUE,
	serial         TEXT,
	status         TEXT NOT NULL CHECK (status IN ('IN_STOCK', 'LENT', 'BROKEN', 'REPAIR')),
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_items (
	id             TEXT PRIMARY KEY,
	asset_model_id TEXT NOT NULL UNIQUE REFERENCES asset_models(id),
	quantity       INTEGER NOT NULL CHECK (quantity >= 0),
	loaned         INTEGER NOT NULL DEFAULT 0 CHECK (loaned >= 0 AND loaned <= quantity),
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
	id                   TEXT PRIMARY KEY,
	employee_id          TEXT NOT NULL REFERENCES employees(id),
	status               TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
	opened_at            TIMESTAMP NOT NULL,
	closed_at            TIMESTAMP,
	pickup_signature_url TEXT,
	pickup_signed_at     TIMESTAMP,
	return_signature_url TEXT,
	return_signed_at     TIMESTAMP,
	created_by_id        TEXT NOT NULL REFERENCES users(id),
	deleted_at           TIMESTAMP,
	deleted_by_id        TEXT REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS loan_lines (
	id            TEXT PRIMARY KEY,
	loan_id       TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
	asset_item_id TEXT REFERENCES asset_items(id),
	stock_item_id TEXT REFERENCES stock_items(id),
	quantity      INTEGER,
	added_at      TIMESTAMP NOT NULL,
	CHECK (
		(asset_item_id IS NOT NULL AND stock_item_id IS NULL AND quantity IS NULL)
		OR
		(asset_item_id IS NULL AND stock_item_id IS NOT NULL AND quantity >= 1)
	)
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	actor_id    TEXT NOT NULL REFERENCES users(id),
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	old_values  TEXT,
	new_values  TEXT,
	ip          TEXT,
	user_agent  TEXT,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_employees_manager ON employees(manager_user_id);
CREATE INDEX IF NOT EXISTS idx_asset_items_model ON asset_items(asset_model_id);
CREATE INDEX IF NOT EXISTS idx_loans_employee ON loans(employee_id);
CREATE INDEX IF NOT EXISTS idx_loans_creator ON loans(created_by_id);
CREATE INDEX IF NOT EXISTS idx_loan_lines_loan ON loan_lines(loan_id);
CREATE INDEX IF NOT EXISTS idx_loan_lines_asset ON loan_lines(asset_item_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_entries(entity_type, entity_id);
`
