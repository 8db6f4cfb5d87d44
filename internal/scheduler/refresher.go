package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rulewire/rulewire/internal/store"
	"github.com/rulewire/rulewire/internal/validation"
	"github.com/rulewire/rulewire/pkg/schema"
)

// ruleSetKey identifies one rule set within a snapshot.
type ruleSetKey struct {
	apiCode string
	region  string
}

// snapshot is an immutable view of all enabled rule sets. Replaced
// wholesale on refresh, never mutated.
type snapshot struct {
	ruleSets map[ruleSetKey]*schema.InterfaceRuleSet
	loadedAt time.Time
}

// Refresher keeps an in-memory snapshot of all enabled rule sets and
// reloads it from the store on a cron schedule. It satisfies the
// pipeline's provider contract, so invocations read from the snapshot
// instead of hitting the database.
type Refresher struct {
	store      store.Store
	structural *validation.StructuralValidator
	schedule   cron.Schedule
	logger     *slog.Logger

	current atomic.Pointer[snapshot]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher builds a Refresher reloading on the given cron expression
// (standard five-field syntax, e.g. "*/5 * * * *").
func NewRefresher(s store.Store, cronExpr string, logger *slog.Logger) (*Refresher, error) {
	structural, err := validation.NewStructuralValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	r := &Refresher{
		store:      s,
		structural: structural,
		schedule:   schedule,
		logger:     logger,
	}
	r.current.Store(&snapshot{ruleSets: map[ruleSetKey]*schema.InterfaceRuleSet{}})
	return r, nil
}

// Get serves the rule set for an interface code from the current snapshot,
// falling back from the requested region to the default region.
func (r *Refresher) Get(_ context.Context, apiCode, region string) (*schema.InterfaceRuleSet, error) {
	snap := r.current.Load()
	if rs, ok := snap.ruleSets[ruleSetKey{apiCode, region}]; ok {
		return rs, nil
	}
	if region != "" {
		if rs, ok := snap.ruleSets[ruleSetKey{apiCode, ""}]; ok {
			return rs, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeConfigNotFound,
		"rule set %s/%s not found", apiCode, region)
}

// Refresh reloads all enabled rule sets from the store and swaps the
// snapshot. Records that fail validation or decoding are skipped so one
// bad document never takes down the rest of the catalog.
func (r *Refresher) Refresh(ctx context.Context) error {
	records, err := r.store.ListRuleSets(ctx, store.RuleSetFilter{EnabledOnly: true})
	if err != nil {
		return err
	}

	ruleSets := make(map[ruleSetKey]*schema.InterfaceRuleSet, len(records))
	skipped := 0
	for _, rec := range records {
		if err := r.structural.ValidateRaw(rec.Document); err != nil {
			r.logger.WarnContext(ctx, "skipping invalid rule set",
				slog.String("api_code", rec.APICode),
				slog.String("region", rec.Region),
				slog.String("error", err.Error()))
			skipped++
			continue
		}
		rs, err := rec.RuleSet()
		if err != nil {
			r.logger.WarnContext(ctx, "skipping corrupt rule set",
				slog.String("api_code", rec.APICode),
				slog.String("region", rec.Region),
				slog.String("error", err.Error()))
			skipped++
			continue
		}
		ruleSets[ruleSetKey{rec.APICode, rec.Region}] = rs
	}

	r.current.Store(&snapshot{ruleSets: ruleSets, loadedAt: time.Now().UTC()})
	r.logger.InfoContext(ctx, "rule set snapshot refreshed",
		slog.Int("loaded", len(ruleSets)),
		slog.Int("skipped", skipped))
	return nil
}

// Size reports how many rule sets the current snapshot holds.
func (r *Refresher) Size() int {
	return len(r.current.Load().ruleSets)
}

// LoadedAt reports when the current snapshot was built. Zero before the
// first refresh.
func (r *Refresher) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Start performs an initial refresh, then launches the background loop
// that refreshes on the cron schedule.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("refresher already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		r.logger.ErrorContext(ctx, "initial rule set refresh failed",
			slog.String("error", err.Error()))
	}

	go r.loop(loopCtx)
	r.logger.Info("rule set refresher started")
	return nil
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.ErrorContext(ctx, "rule set refresh failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Stop gracefully shuts down the background loop.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("rule set refresher stopped")
	return nil
}

// NextRun computes the next refresh time after from.
func (r *Refresher) NextRun(from time.Time) time.Time {
	return r.schedule.Next(from)
}
