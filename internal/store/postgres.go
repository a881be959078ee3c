package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	if connString == "" {
		return nil, eris.New("postgres: database url is required")
	}
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS provider_flags (
	provider   TEXT PRIMARY KEY,
	allowed    BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetProviderFlags(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT provider, allowed FROM provider_flags`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query provider flags")
	}
	defer rows.Close()

	flags := make(map[string]bool)
	for rows.Next() {
		var (
			provider string
			allowed  bool
		)
		if err := rows.Scan(&provider, &allowed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider flag")
		}
		flags[provider] = allowed
	}
	return flags, eris.Wrap(rows.Err(), "postgres: iterate provider flags")
}

func (s *PostgresStore) SetProviderFlags(ctx context.Context, flags map[string]bool) error {
	upsert, err := db.UpsertSQL(flagsUpsert, db.Dollar)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, p := range sortedProviders(flags) {
		if _, err := tx.Exec(ctx, upsert, p, flags[p], now); err != nil {
			return eris.Wrapf(err, "postgres: upsert provider flag %s", p)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit provider flags")
}
