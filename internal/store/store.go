package store

import (
	"context"
	"time"

	"github.com/rulewire/rulewire/pkg/schema"
)

// Store defines the rule-set persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Rule sets
	PutRuleSet(ctx context.Context, rec *RuleSetRecord) error
	GetRuleSet(ctx context.Context, apiCode, region string) (*RuleSetRecord, error)
	ListRuleSets(ctx context.Context, filter RuleSetFilter) ([]*RuleSetRecord, error)
	DeleteRuleSet(ctx context.Context, apiCode, region string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RuleSetRecord is a persisted rule set row. The document column holds the
// serialized InterfaceRuleSet; api_code+region identify it.
type RuleSetRecord struct {
	ID        string    `json:"id"`
	APICode   string    `json:"api_code"`
	Region    string    `json:"region,omitempty"`
	Version   int       `json:"version"`
	Document  []byte    `json:"document"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleSetFilter narrows ListRuleSets.
type RuleSetFilter struct {
	Region      string
	EnabledOnly bool
	Limit       int
}

// RuleSet deserializes the record's document.
func (r *RuleSetRecord) RuleSet() (*schema.InterfaceRuleSet, error) {
	rs, err := decodeRuleSet(r.Document)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"rule set %s/%s has a corrupt document", r.APICode, r.Region).WithCause(err)
	}
	return rs, nil
}
