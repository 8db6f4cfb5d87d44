package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/rulewire/rulewire/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migrationInitial string

// Ordered migration scripts. Script i brings the database from schema
// revision i to revision i+1.
var migrationScripts = []string{migrationInitial}

// runMigrations brings the rule-set schema up to date. The current
// revision lives in SQLite's user_version pragma; each pending script
// runs in its own transaction and bumps the revision on commit, so a
// failed script leaves the database at the last good revision.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"read schema revision: %s", err.Error()).WithCause(err)
	}

	for rev := current; rev < len(migrationScripts); rev++ {
		if err := applyMigration(ctx, db, rev); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, rev int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"begin migration to revision %d: %s", rev+1, err.Error()).WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(migrationScripts[rev]) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore,
				"migration to revision %d: %s", rev+1, err.Error()).WithCause(err)
		}
	}

	// PRAGMA does not take placeholders.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", rev+1)); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"record schema revision %d: %s", rev+1, err.Error()).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"commit migration to revision %d: %s", rev+1, err.Error()).WithCause(err)
	}
	return nil
}

// sqlStatements splits an embedded script into executable statements.
// Comment lines are dropped first so a trailing comment never turns into
// a statement of its own.
func sqlStatements(script string) []string {
	var clean strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		clean.WriteString(line)
		clean.WriteByte('\n')
	}

	var stmts []string
	for _, raw := range strings.Split(clean.String(), ";") {
		if s := strings.TrimSpace(raw); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
