package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS positions (
    id          BIGSERIAL PRIMARY KEY,
    x           BIGINT NOT NULL,
    y           BIGINT NOT NULL,
    z           BIGINT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    UNIQUE (x, y, z)
);

CREATE TABLE IF NOT EXISTS buckets (
    id          BIGSERIAL PRIMARY KEY,
    position_id BIGINT UNIQUE REFERENCES positions(id),
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id          BIGSERIAL PRIMARY KEY,
    priority    BIGINT NOT NULL,
    order_type  TEXT NOT NULL CHECK (order_type IN ('loading', 'unloading', 'place_changing')),
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bucket_actions (
    id                 BIGSERIAL PRIMARY KEY,
    order_id           BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    seq                INTEGER NOT NULL,
    bucket_id          BIGINT NOT NULL REFERENCES buckets(id),
    source_position_id BIGINT REFERENCES positions(id),
    target_position_id BIGINT REFERENCES positions(id),
    created_at         TIMESTAMPTZ NOT NULL,
    UNIQUE (order_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_bucket_actions_bucket ON bucket_actions(bucket_id);

CREATE TABLE IF NOT EXISTS outbox_events (
    id              BIGSERIAL PRIMARY KEY,
    topic           TEXT NOT NULL,
    key             TEXT,
    value           TEXT NOT NULL,
    headers         TEXT,
    sent            BOOLEAN NOT NULL DEFAULT FALSE,
    sent_at         TIMESTAMPTZ,
    attempts        INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
    last_error      TEXT,
    created_at      TIMESTAMPTZ NOT NULL,
    CHECK ((sent AND sent_at IS NOT NULL) OR (NOT sent AND sent_at IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_outbox_sent_created ON outbox_events(sent, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   BIGINT NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
