package groups

// SchemaVersion is the current schema version of the SQLite directory.
const SchemaVersion = 1

// Schema creates the SQLite directory tables.
const Schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS accounts (
    id       TEXT PRIMARY KEY,
    username TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS account_groups (
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    group_name TEXT NOT NULL,
    position   INTEGER NOT NULL,
    PRIMARY KEY (account_id, group_name)
);

CREATE INDEX IF NOT EXISTS idx_account_groups_account ON account_groups(account_id, position);
`

const (
	insertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`
	getSchemaVersion    = `SELECT MAX(version) FROM schema_version`

	selectGroups   = `SELECT group_name FROM account_groups WHERE account_id = ? ORDER BY position`
	selectUsername = `SELECT username FROM accounts WHERE id = ? AND username IS NOT NULL`
	selectID       = `SELECT id FROM accounts WHERE username = ?`

	upsertAccount = `INSERT INTO accounts (id, username) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET username = excluded.username`
	deleteGroups  = `DELETE FROM account_groups WHERE account_id = ?`
	insertGroup   = `INSERT INTO account_groups (account_id, group_name, position) VALUES (?, ?, ?)`
	deleteAccount = `DELETE FROM accounts WHERE id = ?`
)
