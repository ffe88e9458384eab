package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/upem-wims/wims-lti/database"
)

// Bootstrap creates the target schema (if missing) and applies the bridge DDL in a
// single transaction with search_path set to that schema, in this order:
//  1. credentials.sql (lms, wims)
//  2. classes.sql (wims_classes, wims_activities, wims_outcomes)
//
// Every statement is idempotent so the helper is safe to run on each deploy and from tests.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("bootstrap: pool is required")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return fmt.Errorf("bootstrap: schema is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.CredentialsSQL)...)
	statements = append(statements, splitStatements(sqlassets.ClassesSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, schema); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks an SQL script on ';' and drops blank and comment-only chunks.
func splitStatements(script string) []string {
	raw := strings.Split(script, ";")
	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		var kept []string
		for _, line := range strings.Split(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, strings.TrimSpace(strings.Join(kept, "\n")))
	}
	return out
}
