// Package scheduler dispatches overdue recurrence rules to their handlers.
//
// A pass has two phases run in one transaction. Handler-class dispatch
// picks one representative overdue rule per handler name and lets the
// handler decide which of its rules to advance. Related-entity dispatch
// calls a method on the entity each overdue rule points at. Both phases
// favour the least recently handled work so that a limit per pass still
// reaches every handler over successive passes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/metrics"
	"github.com/watzon/cadence/internal/rules"
)

// Options bound a single pass.
type Options struct {
	// HandlerLimit caps the handler names invoked per pass (0 = unlimited).
	HandlerLimit int
	// RelatedLimit caps the related-entity rules considered per pass (0 = unlimited).
	RelatedLimit int
	// HandlerFilter restricts dispatch to matching handler names.
	HandlerFilter Filter
	// RelatedFilter restricts dispatch to matching related entity types.
	RelatedFilter Filter
}

// Report describes what a pass did.
type Report struct {
	Handlers []string
	Related  []string
	Advanced int
	Skipped  int
}

// Dispatcher runs overdue handling passes.
type Dispatcher struct {
	db       *database.DB
	registry *Registry
}

func NewDispatcher(db *database.DB, registry *Registry) *Dispatcher {
	return &Dispatcher{db: db, registry: registry}
}

// HandleOverdue runs one pass at now. Any error from a handler or the store
// rolls back the whole pass. Unresolvable handler references are skipped.
func (d *Dispatcher) HandleOverdue(ctx context.Context, now time.Time, opts Options) (*Report, error) {
	start := time.Now()
	now = now.UTC().Truncate(time.Second)
	report := &Report{}

	err := d.db.Transaction(ctx, func(tx *database.Tx) error {
		store := rules.NewStore(tx)
		if err := d.processHandlers(ctx, store, now, opts, report); err != nil {
			return err
		}
		return d.processRelated(ctx, store, now, opts, report)
	})

	metrics.RecordPass(err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("handling overdue rules: %w", err)
	}

	metrics.AddRulesAdvanced(report.Advanced)

	log.Debug().
		Time("now", now).
		Strs("handlers", report.Handlers).
		Int("related", len(report.Related)).
		Int("advanced", report.Advanced).
		Int("skipped", report.Skipped).
		Dur("duration", time.Since(start)).
		Msg("Overdue pass complete")

	return report, nil
}

func (d *Dispatcher) processHandlers(ctx context.Context, store *rules.Store, now time.Time, opts Options, report *Report) error {
	representatives, err := store.OverdueHandlerRepresentatives(ctx, now)
	if err != nil {
		return err
	}

	var toAdvance []*rules.Rule
	for _, rep := range representatives {
		if opts.HandlerLimit > 0 && len(report.Handlers) >= opts.HandlerLimit {
			break
		}
		if !opts.HandlerFilter.Match(rep.HandlerName) {
			continue
		}

		handler, ok := d.registry.Handler(rep.HandlerName).Get()
		if !ok {
			log.Warn().
				Str("handler", rep.HandlerName).
				Str("rule_id", rep.ID).
				Msg("No handler registered, skipping")
			metrics.RecordHandlerSkipped("handler")
			report.Skipped++
			continue
		}

		returned, err := handler.Handle(ctx, store, now)
		metrics.RecordHandlerInvocation("handler", err)
		if err != nil {
			return fmt.Errorf("handler %s: %w", rep.HandlerName, err)
		}

		report.Handlers = append(report.Handlers, rep.HandlerName)
		toAdvance = append(toAdvance, returned...)
	}

	advanced, err := advance(ctx, store, toAdvance, now)
	if err != nil {
		return err
	}
	report.Advanced += advanced

	return store.MarkHandlersHandled(ctx, report.Handlers, now)
}

func (d *Dispatcher) processRelated(ctx context.Context, store *rules.Store, now time.Time, opts Options, report *Report) error {
	overdue, err := store.OverdueRelated(ctx, now)
	if err != nil {
		return err
	}

	var toAdvance []*rules.Rule
	for _, rule := range overdue {
		if opts.RelatedLimit > 0 && len(report.Related) >= opts.RelatedLimit {
			break
		}
		if !opts.RelatedFilter.Match(rule.RelatedType) {
			continue
		}

		fn, ok, err := d.resolveMethod(ctx, rule)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug().
				Str("rule_id", rule.ID).
				Str("related_type", rule.RelatedType).
				Str("related_id", rule.RelatedID).
				Str("method", rule.RelatedMethod).
				Msg("Related entity has no such handler, skipping")
			metrics.RecordHandlerSkipped("related")
			report.Skipped++
			continue
		}

		report.Related = append(report.Related, rule.ID)

		next, err := fn(ctx, rule)
		metrics.RecordHandlerInvocation("related", err)
		if err != nil {
			return fmt.Errorf("%s %s.%s: %w", rule.RelatedType, rule.RelatedID, rule.RelatedMethod, err)
		}
		if next != nil {
			toAdvance = append(toAdvance, next)
		}
	}

	advanced, err := advance(ctx, store, toAdvance, now)
	if err != nil {
		return err
	}
	report.Advanced += advanced

	return store.MarkRulesHandled(ctx, report.Related, now)
}

func (d *Dispatcher) resolveMethod(ctx context.Context, rule *rules.Rule) (OccurrenceFunc, bool, error) {
	resolver, ok := d.registry.Resolver(rule.RelatedType).Get()
	if !ok {
		return nil, false, nil
	}

	entity, err := resolver(ctx, rule.RelatedID)
	if err != nil {
		return nil, false, fmt.Errorf("resolving %s %s: %w", rule.RelatedType, rule.RelatedID, err)
	}
	if entity == nil {
		return nil, false, nil
	}

	receiver, ok := entity.(OccurrenceReceiver)
	if !ok {
		return nil, false, nil
	}
	fn, ok := receiver.OccurrenceHandler(rule.RelatedMethod)
	if !ok || fn == nil {
		return nil, false, nil
	}
	return fn, true, nil
}

// advance moves each distinct rule forward once and reports how many moved.
func advance(ctx context.Context, store *rules.Store, candidates []*rules.Rule, now time.Time) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(candidates))
	unique := make([]*rules.Rule, 0, len(candidates))
	before := make(map[string]*time.Time, len(candidates))
	for _, r := range candidates {
		if r == nil || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		unique = append(unique, r)
		before[r.ID] = r.NextOccurrence
	}

	if _, err := store.UpdateNextOccurrences(ctx, unique, now); err != nil {
		return 0, err
	}

	moved := 0
	for _, r := range unique {
		prev := before[r.ID]
		if prev != nil && (r.NextOccurrence == nil || !r.NextOccurrence.Equal(*prev)) {
			moved++
		}
	}
	return moved, nil
}
