package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS positions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    x           INTEGER NOT NULL,
    y           INTEGER NOT NULL,
    z           INTEGER NOT NULL,
    created_at  TEXT NOT NULL,
    UNIQUE (x, y, z)
);

CREATE TABLE IF NOT EXISTS buckets (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id INTEGER UNIQUE REFERENCES positions(id),
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    priority    INTEGER NOT NULL,
    order_type  TEXT NOT NULL CHECK (order_type IN ('loading', 'unloading', 'place_changing')),
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bucket_actions (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id           INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    seq                INTEGER NOT NULL,
    bucket_id          INTEGER NOT NULL REFERENCES buckets(id),
    source_position_id INTEGER REFERENCES positions(id),
    target_position_id INTEGER REFERENCES positions(id),
    created_at         TEXT NOT NULL,
    UNIQUE (order_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_bucket_actions_bucket ON bucket_actions(bucket_id);

CREATE TABLE IF NOT EXISTS outbox_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    topic           TEXT NOT NULL,
    key             TEXT,
    value           TEXT NOT NULL,
    headers         TEXT,
    sent            INTEGER NOT NULL DEFAULT 0,
    sent_at         TEXT,
    attempts        INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
    last_error      TEXT,
    created_at      TEXT NOT NULL,
    CHECK ((sent = 1 AND sent_at IS NOT NULL) OR (sent = 0 AND sent_at IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_outbox_sent_created ON outbox_events(sent, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id   INTEGER NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
