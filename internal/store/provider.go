package store

import (
	"context"
	"log/slog"

	"github.com/rulewire/rulewire/internal/validation"
	"github.com/rulewire/rulewire/pkg/schema"
)

// RuleSetValidator is the build-time validation hook the provider runs on
// every loaded document. Satisfied by the pipeline (avoids import cycle).
type RuleSetValidator interface {
	ValidateRuleSet(rs *schema.InterfaceRuleSet) error
}

// Provider serves rule sets straight from the store, validating each
// document structurally (and semantically, when a validator is attached)
// before handing it to the caller. Lookups fall back from the requested
// region to the default region.
type Provider struct {
	store      Store
	structural *validation.StructuralValidator
	semantic   RuleSetValidator
	logger     *slog.Logger
}

// NewProvider builds a store-backed provider.
func NewProvider(s Store, logger *slog.Logger) (*Provider, error) {
	structural, err := validation.NewStructuralValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{store: s, structural: structural, logger: logger}, nil
}

// AttachValidator sets the semantic validation hook. Call before serving.
func (p *Provider) AttachValidator(v RuleSetValidator) { p.semantic = v }

// Get fetches, validates and decodes the rule set for an interface code.
func (p *Provider) Get(ctx context.Context, apiCode, region string) (*schema.InterfaceRuleSet, error) {
	rec, err := p.store.GetRuleSet(ctx, apiCode, region)
	if err != nil && region != "" && schema.CodeOf(err) == schema.ErrCodeConfigNotFound {
		rec, err = p.store.GetRuleSet(ctx, apiCode, "")
	}
	if err != nil {
		return nil, err
	}
	if !rec.Enabled {
		return nil, schema.NewErrorf(schema.ErrCodeConfigNotFound,
			"rule set %s/%s is disabled", apiCode, region)
	}
	return p.decode(rec)
}

func (p *Provider) decode(rec *RuleSetRecord) (*schema.InterfaceRuleSet, error) {
	if err := p.structural.ValidateRaw(rec.Document); err != nil {
		return nil, err
	}
	rs, err := rec.RuleSet()
	if err != nil {
		return nil, err
	}
	if p.semantic != nil {
		if err := p.semantic.ValidateRuleSet(rs); err != nil {
			return nil, err
		}
	}
	return rs, nil
}
