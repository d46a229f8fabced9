// Package engine is the correlation engine: it evaluates active
// correlation rules over a resident's signal facts and emits compound
// intelligence events with full evidence attached.
//
// Evaluation is deterministic and idempotent. The same facts and the same
// rules always produce the same events, and re-evaluating an unchanged
// window converges on the already-stored event through the dedup key.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/rules"
	"github.com/caregraph/sentinel/internal/store"
)

// EventOutcome reports one rule firing. Created=false means the dedup key
// was already present and the stored event is returned instead.
type EventOutcome struct {
	Event   fact.CompoundEvent
	Created bool
}

// Engine evaluates correlation rules.
type Engine struct {
	store  *store.Store
	logger *slog.Logger

	// deriveConfidence switches from the rule's fixed confidence constant
	// to a data-derived score. Off by default; rule authors own confidence
	// unless a deployment opts in.
	deriveConfidence bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDerivedConfidence makes the engine adjust the rule's confidence
// constant by evidence volume and recency instead of using it as-is.
func WithDerivedConfidence() Option {
	return func(e *Engine) { e.deriveConfidence = true }
}

// New builds an engine over the store.
func New(st *store.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{store: st, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every active correlation rule for one resident at time
// now (unix seconds). windowHours overrides each rule's own window when
// positive; pass 0 to use the rule windows.
//
// Returns one outcome per rule that fired. Rules whose requirements are
// not met produce nothing - absence of an event is not an error.
// Returns RESIDENT_NOT_FOUND when the resident has no recorded facts.
func (e *Engine) Evaluate(ctx context.Context, residentID string, windowHours int64, now int64) ([]EventOutcome, error) {
	hasFacts, err := e.store.ResidentHasFacts(ctx, residentID)
	if err != nil {
		return nil, err
	}
	if !hasFacts {
		return nil, store.NewResidentNotFound(residentID)
	}

	active, err := e.store.ActiveCorrelationRules(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := []EventOutcome{}
	for _, rule := range active {
		outcome, fired, err := e.evaluateRule(ctx, residentID, rule, windowHours, now)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %q: %w", rule.Name, err)
		}
		if fired {
			outcomes = append(outcomes, outcome)
		}
	}

	return outcomes, nil
}

// EvaluateAll sweeps every resident with recorded facts. Residents are
// evaluated concurrently; the store serializes writes underneath, so the
// group bounds in-flight evaluations rather than database writers.
func (e *Engine) EvaluateAll(ctx context.Context, windowHours int64, now int64, concurrency int) (map[string][]EventOutcome, error) {
	residents, err := e.store.ResidentIDs(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	results := make(map[string][]EventOutcome, len(residents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, residentID := range residents {
		g.Go(func() error {
			outcomes, err := e.Evaluate(gctx, residentID, windowHours, now)
			if err != nil {
				return fmt.Errorf("resident %s: %w", residentID, err)
			}
			mu.Lock()
			results[residentID] = outcomes
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// evaluateRule checks one rule's requirements and persists the event on a
// match. fired=false when any requirement is unmet.
func (e *Engine) evaluateRule(ctx context.Context, residentID string, rule rules.CorrelationRule, windowHours int64, now int64) (EventOutcome, bool, error) {
	hours := rule.WindowHours
	if windowHours > 0 {
		hours = windowHours
	}

	windowEnd := now
	windowStart := now - hours*3600
	// Truncate to the hour so periodic re-evaluation inside the same hour
	// derives the same dedup key.
	windowStart -= windowStart % 3600

	matched := map[fact.SignalType][]fact.SignalFact{}
	for _, req := range rule.Requirements {
		facts, err := e.store.FactsInWindow(ctx, residentID, req.SignalType, windowStart, windowEnd, true)
		if err != nil {
			return EventOutcome{}, false, err
		}
		if int64(len(facts)) < req.MinAbnormal {
			return EventOutcome{}, false, nil
		}
		matched[req.SignalType] = facts
	}

	dedupKey, err := fact.EventDedupKey(rule.Name, residentID, windowStart)
	if err != nil {
		return EventOutcome{}, false, err
	}

	contributions, total := buildContributions(rule, matched)

	eventID, err := fact.EventID(dedupKey, rule.ID, total)
	if err != nil {
		return EventOutcome{}, false, err
	}
	for i := range contributions {
		contributions[i].EventID = eventID
	}

	confidenceBP := rule.ConfidenceBP
	if e.deriveConfidence {
		confidenceBP = derivedConfidenceBP(rule, matched, windowStart, windowEnd)
	}

	reasoning, detail := renderReasoning(rule, matched, hours)

	event := fact.CompoundEvent{
		ID:                  eventID,
		DedupKey:            dedupKey,
		ResidentID:          residentID,
		RuleID:              rule.Name,
		RuleVersion:         rule.ID,
		CorrelationType:     rule.CorrelationType,
		Severity:            rule.Severity,
		ConfidenceBP:        confidenceBP,
		Reasoning:           reasoning,
		ReasoningDetail:     detail,
		WindowStart:         windowStart,
		WindowEnd:           windowEnd,
		ContributingSignals: total,
		RequiresHumanAction: rule.RequiresHumanAction,
		CreatedAt:           now,
	}

	stored, created, err := e.store.InsertCompoundEvent(ctx, event, contributions)
	if err != nil {
		return EventOutcome{}, false, err
	}

	if created {
		e.logger.Info("compound event created",
			"resident", residentID,
			"rule", rule.Name,
			"severity", rule.Severity,
			"signals", total,
		)
	} else {
		e.logger.Debug("compound event deduplicated",
			"resident", residentID,
			"rule", rule.Name,
		)
	}

	return EventOutcome{Event: stored, Created: created}, true, nil
}

// buildContributions snapshots every matched fact as evidence, weighted by
// the rule's per-type weights, in requirement declaration order.
func buildContributions(rule rules.CorrelationRule, matched map[fact.SignalType][]fact.SignalFact) ([]fact.SignalContribution, int64) {
	contributions := []fact.SignalContribution{}
	var total int64

	for _, req := range rule.Requirements {
		weight := rule.WeightBP(req.SignalType)
		for _, f := range matched[req.SignalType] {
			contributions = append(contributions, fact.SignalContribution{
				SignalID:   f.ID,
				SignalType: f.Type,
				Source:     f.Source,
				Timestamp:  f.Timestamp,
				Snapshot:   f.Payload,
				WeightBP:   weight,
			})
			total++
		}
	}

	return contributions, total
}

// derivedConfidenceBP adjusts the rule constant by evidence volume and
// recency: +100bp per abnormal signal beyond the required minimum (capped
// at +1000), -500bp when the newest evidence sits in the older half of the
// window. Clamped to [0, 10000].
func derivedConfidenceBP(rule rules.CorrelationRule, matched map[fact.SignalType][]fact.SignalFact, windowStart, windowEnd int64) int64 {
	var required, found, newest int64
	for _, req := range rule.Requirements {
		required += req.MinAbnormal
		for _, f := range matched[req.SignalType] {
			found++
			if f.Timestamp > newest {
				newest = f.Timestamp
			}
		}
	}

	bp := rule.ConfidenceBP

	bonus := (found - required) * 100
	if bonus > 1000 {
		bonus = 1000
	}
	bp += bonus

	if newest < windowStart+(windowEnd-windowStart)/2 {
		bp -= 500
	}

	if bp < 0 {
		bp = 0
	}
	if bp > 10000 {
		bp = 10000
	}
	return bp
}

// renderReasoning builds the human-readable explanation and its structured
// counterpart. Deterministic: counts follow requirement declaration order.
func renderReasoning(rule rules.CorrelationRule, matched map[fact.SignalType][]fact.SignalFact, windowHours int64) (string, fact.Object) {
	parts := make([]string, 0, len(rule.Requirements))
	counts := fact.Object{}

	for _, req := range rule.Requirements {
		n := len(matched[req.SignalType])
		parts = append(parts, fmt.Sprintf("%d abnormal %s", n, req.SignalType))
		counts[string(req.SignalType)] = fact.Int(int64(n))
	}

	reasoning := fmt.Sprintf("%s within %dh window: %s",
		rule.CorrelationType, windowHours, strings.Join(parts, ", "))

	detail := fact.Object{
		"rule":         fact.Str(rule.Name),
		"window_hours": fact.Int(windowHours),
		"counts":       counts,
	}

	return reasoning, detail
}
