package storage

const schemaVersion = 1

// schemaDDL creates the tables of spec §3/§6. The logical `message`
// and `timestamp` tables share one physical table: both are defined
// over the exact same key set (ownerId, timestamp), so the primary
// key's own btree index already is the "timestamp index enabling fast
// range queries and fingerprint computation" spec §3 describes as a
// separate table — duplicating it as a second SQL table would only
// double the write amplification for no query the index doesn't
// already answer (see DESIGN.md, Open Questions). The `history` view
// spec §3 describes is not materialized here: it requires decrypting
// every Change, which only a client holding the owner key can do (the
// relay never decrypts, spec §4.C) — it is built by package view over
// a Store's plaintext-free Message stream.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS message (
	owner_id BLOB NOT NULL,
	ts       BLOB NOT NULL,
	change   BLOB NOT NULL,
	PRIMARY KEY (owner_id, ts)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS write_key (
	owner_id   BLOB PRIMARY KEY,
	write_key  BLOB NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
