package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/packlimit/pkg/limits/policy"
)

// SQLiteConfig configures the SQLite directory.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLite is a directory backed by a SQLite database shared with the account
// provisioning tooling. Lookups are read-only; Upsert and Remove exist for
// provisioning and tests.
type SQLite struct {
	db        *sql.DB
	logger    *slog.Logger
	closeOnce sync.Once

	groupsStmt   *sql.Stmt
	usernameStmt *sql.Stmt
	idStmt       *sql.Stmt
}

// OpenSQLite opens or creates the database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig, logger *slog.Logger) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("groups: sqlite path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("groups: create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("groups: open database: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, logger: logger.With("component", "groups.sqlite")}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("groups: initialize schema: %w", err)
	}
	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("groups: prepare statements: %w", err)
	}

	s.logger.Info("SQLite group directory opened", "path", cfg.Path)
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertSchemaVersion, SchemaVersion); err != nil {
		return err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, getSchemaVersion).Scan(&version); err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version)
	}
	return nil
}

func (s *SQLite) prepareStatements(ctx context.Context) error {
	var err error
	if s.groupsStmt, err = s.db.PrepareContext(ctx, selectGroups); err != nil {
		return fmt.Errorf("groups statement: %w", err)
	}
	if s.usernameStmt, err = s.db.PrepareContext(ctx, selectUsername); err != nil {
		return fmt.Errorf("username statement: %w", err)
	}
	if s.idStmt, err = s.db.PrepareContext(ctx, selectID); err != nil {
		return fmt.Errorf("id statement: %w", err)
	}
	return nil
}

// Groups returns the effective groups of key. Unknown accounts have the
// implicit groups only.
func (s *SQLite) Groups(ctx context.Context, key string) ([]policy.GroupID, error) {
	rows, err := s.groupsStmt.QueryContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var explicit []policy.GroupID
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		explicit = append(explicit, policy.GroupID(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return effective(explicit), nil
}

func (s *SQLite) IsAnonymous(key string) bool { return isAnonymous(key) }

// UserName returns the username of an account.
func (s *SQLite) UserName(ctx context.Context, key string) (string, bool) {
	var name string
	if err := s.usernameStmt.QueryRowContext(ctx, key).Scan(&name); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("cannot look up username", "key", key, "error", err)
		}
		return "", false
	}
	return name, true
}

// AccountKey returns the account id of username.
func (s *SQLite) AccountKey(ctx context.Context, username string) (string, bool) {
	var id string
	if err := s.idStmt.QueryRowContext(ctx, username).Scan(&id); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("cannot look up account", "username", username, "error", err)
		}
		return "", false
	}
	return id, true
}

// Upsert creates or replaces an account and its groups.
func (s *SQLite) Upsert(ctx context.Context, a Account) error {
	if !policy.IsAccountKey(a.ID) {
		return fmt.Errorf("groups: account id %q is not numeric", a.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var username any
	if a.Username != "" {
		username = a.Username
	}
	if _, err := tx.ExecContext(ctx, upsertAccount, a.ID, username); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteGroups, a.ID); err != nil {
		return fmt.Errorf("clear groups: %w", err)
	}
	for i, g := range a.Groups {
		if _, err := tx.ExecContext(ctx, insertGroup, a.ID, string(g), i); err != nil {
			return fmt.Errorf("insert group %q: %w", g, err)
		}
	}
	return tx.Commit()
}

// Remove deletes an account and its groups.
func (s *SQLite) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteAccount, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the prepared statements and the database.
func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, st := range []*sql.Stmt{s.groupsStmt, s.usernameStmt, s.idStmt} {
			if st != nil {
				st.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
