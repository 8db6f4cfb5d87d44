package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rulewire/rulewire/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// PutRuleSet inserts or replaces a rule set row. The version is bumped on
// replacement.
func (s *LibSQLStore) PutRuleSet(ctx context.Context, rec *RuleSetRecord) error {
	if rec == nil {
		return schema.NewError(schema.ErrCodeValidation, "rule set record is nil")
	}
	if rec.APICode == "" {
		return schema.NewError(schema.ErrCodeValidation, "rule set record has no api_code")
	}
	if len(rec.Document) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "rule set record has no document")
	}
	if !json.Valid(rec.Document) {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"rule set %s/%s document is not valid JSON", rec.APICode, rec.Region)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_sets (id, api_code, region, version, document, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(api_code, region) DO UPDATE SET
		   version = rule_sets.version + 1,
		   document = excluded.document,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.APICode, rec.Region, maxInt(rec.Version, 1), string(rec.Document),
		boolToInt(rec.Enabled), timeOrNow(rec.CreatedAt), timeOrNow(rec.UpdatedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "put rule set %s/%s: %s",
			rec.APICode, rec.Region, err.Error()).WithCause(err)
	}
	return nil
}

// GetRuleSet fetches one rule set row by api_code and region.
func (s *LibSQLStore) GetRuleSet(ctx context.Context, apiCode, region string) (*RuleSetRecord, error) {
	rec := &RuleSetRecord{}
	var document string
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_code, region, version, document, enabled, created_at, updated_at
		 FROM rule_sets WHERE api_code = ? AND region = ?`, apiCode, region,
	).Scan(&rec.ID, &rec.APICode, &rec.Region, &rec.Version, &document, &enabled,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(apiCode, region)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get rule set %s/%s: %s",
			apiCode, region, err.Error()).WithCause(err)
	}
	rec.Document = []byte(document)
	rec.Enabled = enabled != 0
	return rec, nil
}

// ListRuleSets returns rule set rows matching the filter, newest first.
func (s *LibSQLStore) ListRuleSets(ctx context.Context, filter RuleSetFilter) ([]*RuleSetRecord, error) {
	query := `SELECT id, api_code, region, version, document, enabled, created_at, updated_at
	          FROM rule_sets WHERE 1=1`
	var args []any
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	if filter.EnabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list rule sets: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var records []*RuleSetRecord
	for rows.Next() {
		rec := &RuleSetRecord{}
		var document string
		var enabled int
		if err := rows.Scan(&rec.ID, &rec.APICode, &rec.Region, &rec.Version,
			&document, &enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan rule set: %s", err.Error()).WithCause(err)
		}
		rec.Document = []byte(document)
		rec.Enabled = enabled != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRuleSet removes one rule set row.
func (s *LibSQLStore) DeleteRuleSet(ctx context.Context, apiCode, region string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_sets WHERE api_code = ? AND region = ?`, apiCode, region)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete rule set %s/%s: %s",
			apiCode, region, err.Error()).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storeNotFound(apiCode, region)
	}
	return nil
}

var _ Store = (*LibSQLStore)(nil)

// --- Helpers ---

func storeNotFound(apiCode, region string) *schema.RulewireError {
	return schema.NewErrorf(schema.ErrCodeConfigNotFound,
		"rule set %s/%s not found", apiCode, region)
}

func decodeRuleSet(document []byte) (*schema.InterfaceRuleSet, error) {
	var rs schema.InterfaceRuleSet
	if err := json.Unmarshal(document, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
