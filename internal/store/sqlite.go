package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/distill-cli/internal/db"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	upsert string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "distill.db"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	upsert, err := db.UpsertSQL(flagsUpsert, db.Question)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}
	return &SQLiteStore{db: conn, upsert: upsert}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS provider_flags (
	provider   TEXT PRIMARY KEY,
	allowed    INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProviderFlags(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, allowed FROM provider_flags`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query provider flags")
	}
	defer rows.Close() //nolint:errcheck

	flags := make(map[string]bool)
	for rows.Next() {
		var (
			provider string
			allowed  bool
		)
		if err := rows.Scan(&provider, &allowed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider flag")
		}
		flags[provider] = allowed
	}
	return flags, eris.Wrap(rows.Err(), "sqlite: iterate provider flags")
}

func (s *SQLiteStore) SetProviderFlags(ctx context.Context, flags map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, p := range sortedProviders(flags) {
		if _, err := tx.ExecContext(ctx, s.upsert, p, flags[p], now); err != nil {
			return eris.Wrapf(err, "sqlite: upsert provider flag %s", p)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit provider flags")
}
