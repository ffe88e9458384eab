// Package dbconn holds the database flags shared by the CLI commands.
package dbconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/upem-wims/wims-lti/platform/go/persistence"
)

// Flags are read from the command line, falling back to DATABASE_URL and DATABASE_SCHEMA.
type Flags struct {
	URL    string `env:"DATABASE_URL"`
	Schema string `env:"DATABASE_SCHEMA" envDefault:"wimslti"`
}

// Register adds --database-url and --schema to cmd.
func (f *Flags) Register(cmd *cobra.Command) {
	var defaults Flags
	_ = env.Parse(&defaults)

	cmd.Flags().StringVar(&f.URL, "database-url", defaults.URL, "PostgreSQL connection string (env DATABASE_URL)")
	cmd.Flags().StringVar(&f.Schema, "schema", defaults.Schema, "Schema holding the bridge tables (env DATABASE_SCHEMA)")
}

// Open connects to the configured database with search_path set to the schema.
func (f *Flags) Open(ctx context.Context) (*pgxpool.Pool, error) {
	if f.URL == "" {
		return nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      f.URL,
		Schema:          f.Schema,
		ApplicationName: "wimslti-cli",
	})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	return pool, nil
}
