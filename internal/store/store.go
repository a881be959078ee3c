// Package store persists the kill-switch provider flags.
package store

import (
	"context"
	"maps"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/db"
	"github.com/sells-group/distill-cli/internal/governor"
)

// Store is a settings store holding provider flags.
type Store interface {
	governor.FlagStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a store driver.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, memory
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// Open creates the configured store and runs its migration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.SQLitePath)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns})
	case "memory":
		st = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

var flagsUpsert = db.UpsertConfig{
	Table:        "provider_flags",
	Columns:      []string{"provider", "allowed", "updated_at"},
	ConflictKeys: []string{"provider"},
}

// sortedProviders orders flag writes so they are deterministic.
func sortedProviders(flags map[string]bool) []string {
	return slices.Sorted(maps.Keys(flags))
}
