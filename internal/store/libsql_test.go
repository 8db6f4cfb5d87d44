package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulewire/rulewire/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRuleSet(t *testing.T, s *LibSQLStore, apiCode, region string) *RuleSetRecord {
	t.Helper()
	rec := &RuleSetRecord{
		APICode:  apiCode,
		Region:   region,
		Document: []byte(`{"api_code": "` + apiCode + `", "required_fields": ["psn_no"]}`),
		Enabled:  true,
	}
	require.NoError(t, s.PutRuleSet(context.Background(), rec))
	return rec
}

// --- Rule set CRUD ---

func TestPutAndGetRuleSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRuleSet(t, s, "FSI01", "110000")

	got, err := s.GetRuleSet(ctx, "FSI01", "110000")
	require.NoError(t, err)
	assert.Equal(t, "FSI01", got.APICode)
	assert.Equal(t, "110000", got.Region)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Enabled)
	assert.NotEmpty(t, got.ID)

	rs, err := got.RuleSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"psn_no"}, rs.RequiredFields)
}

func TestPutRuleSet_UpsertBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRuleSet(t, s, "FSI01", "")
	require.NoError(t, s.PutRuleSet(ctx, &RuleSetRecord{
		APICode:  "FSI01",
		Document: []byte(`{"api_code": "FSI01"}`),
		Enabled:  false,
	}))

	got, err := s.GetRuleSet(ctx, "FSI01", "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.False(t, got.Enabled)
}

func TestPutRuleSet_Rejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.PutRuleSet(ctx, nil))
	assert.Error(t, s.PutRuleSet(ctx, &RuleSetRecord{Document: []byte(`{}`)}))
	assert.Error(t, s.PutRuleSet(ctx, &RuleSetRecord{APICode: "A"}))
	assert.Error(t, s.PutRuleSet(ctx, &RuleSetRecord{APICode: "A", Document: []byte(`{not json`)}))
}

func TestGetRuleSet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRuleSet(context.Background(), "GHOST", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfigNotFound, schema.CodeOf(err))
}

func TestListRuleSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRuleSet(t, s, "FSI01", "110000")
	seedRuleSet(t, s, "FSI02", "110000")
	seedRuleSet(t, s, "FSI03", "310000")
	require.NoError(t, s.PutRuleSet(ctx, &RuleSetRecord{
		APICode:  "FSI04",
		Document: []byte(`{"api_code": "FSI04"}`),
		Enabled:  false,
	}))

	t.Run("all", func(t *testing.T) {
		records, err := s.ListRuleSets(ctx, RuleSetFilter{})
		require.NoError(t, err)
		assert.Len(t, records, 4)
	})

	t.Run("by region", func(t *testing.T) {
		records, err := s.ListRuleSets(ctx, RuleSetFilter{Region: "110000"})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("enabled only", func(t *testing.T) {
		records, err := s.ListRuleSets(ctx, RuleSetFilter{EnabledOnly: true})
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("limit", func(t *testing.T) {
		records, err := s.ListRuleSets(ctx, RuleSetFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestDeleteRuleSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRuleSet(t, s, "FSI01", "")
	require.NoError(t, s.DeleteRuleSet(ctx, "FSI01", ""))

	_, err := s.GetRuleSet(ctx, "FSI01", "")
	require.Error(t, err)

	err = s.DeleteRuleSet(ctx, "FSI01", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfigNotFound, schema.CodeOf(err))
}

func TestRuleSetRecord_CorruptDocument(t *testing.T) {
	rec := &RuleSetRecord{APICode: "A", Document: []byte(`{"api_code": 42}`)}
	_, err := rec.RuleSet()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

// --- Maintenance ---

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	// The schema revision matches the number of applied scripts.
	var revision int
	require.NoError(t, s.DB().QueryRow("PRAGMA user_version").Scan(&revision))
	assert.Equal(t, 1, revision)
}

func TestSQLStatements_DropsComments(t *testing.T) {
	script := "-- header\nCREATE TABLE t (id TEXT);\n-- trailing note\n"
	assert.Equal(t, []string{"CREATE TABLE t (id TEXT)"}, sqlStatements(script))
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}

// --- Provider ---

func TestProvider_GetValidatesAndDecodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRuleSet(t, s, "FSI01", "")

	p, err := NewProvider(s, nil)
	require.NoError(t, err)

	rs, err := p.Get(ctx, "FSI01", "")
	require.NoError(t, err)
	assert.Equal(t, "FSI01", rs.APICode)
}

func TestProvider_RegionFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRuleSet(t, s, "FSI01", "")

	p, err := NewProvider(s, nil)
	require.NoError(t, err)

	rs, err := p.Get(ctx, "FSI01", "310000")
	require.NoError(t, err)
	assert.Equal(t, "FSI01", rs.APICode)
}

func TestProvider_DisabledIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRuleSet(ctx, &RuleSetRecord{
		APICode:  "FSI01",
		Document: []byte(`{"api_code": "FSI01"}`),
		Enabled:  false,
	}))

	p, err := NewProvider(s, nil)
	require.NoError(t, err)

	_, err = p.Get(ctx, "FSI01", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfigNotFound, schema.CodeOf(err))
}

func TestProvider_RejectsStructurallyInvalidDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRuleSet(ctx, &RuleSetRecord{
		APICode:  "FSI01",
		Document: []byte(`{"api_code": "FSI01", "rules": {}}`),
		Enabled:  true,
	}))

	p, err := NewProvider(s, nil)
	require.NoError(t, err)

	_, err = p.Get(ctx, "FSI01", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
