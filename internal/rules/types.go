package rules

import (
	"github.com/caregraph/sentinel/internal/fact"
)

// Requirement is one leg of a correlation rule's threshold predicate:
// at least MinAbnormal ABNORMAL facts of SignalType inside the window.
type Requirement struct {
	SignalType  fact.SignalType `json:"signal_type"`
	MinAbnormal int64           `json:"min_abnormal"`
}

// CorrelationRule is a versioned, named predicate over signal-fact counts.
//
// ID is content-addressed over the definition, so the same definition
// always carries the same id and catalog reloads are idempotent. Events
// reference the id immutably; deactivating a rule never invalidates the
// explanations it already produced.
type CorrelationRule struct {
	ID                  string                    `json:"id"`
	Name                string                    `json:"name"`
	CorrelationType     string                    `json:"correlation_type"`
	Severity            fact.Severity             `json:"severity"`
	WindowHours         int64                     `json:"window_hours"`
	ConfidenceBP        int64                     `json:"confidence_bp"`
	RequiresHumanAction bool                      `json:"requires_human_action"`
	Requirements        []Requirement             `json:"requirements"` // declaration order
	WeightsBP           map[fact.SignalType]int64 `json:"weights_bp"`
}

// Definition returns the canonical value the rule id is hashed over.
// Requirements keep declaration order; weights are keyed so map order
// is irrelevant after canonical sorting.
func (r CorrelationRule) Definition() fact.Object {
	reqs := make(fact.Array, len(r.Requirements))
	for i, req := range r.Requirements {
		reqs[i] = fact.Object{
			"signal_type":  fact.Str(req.SignalType),
			"min_abnormal": fact.Int(req.MinAbnormal),
		}
	}

	weights := make(fact.Object, len(r.WeightsBP))
	for st, w := range r.WeightsBP {
		weights[string(st)] = fact.Int(w)
	}

	return fact.Object{
		"name":                  fact.Str(r.Name),
		"correlation_type":      fact.Str(r.CorrelationType),
		"severity":              fact.Str(r.Severity),
		"window_hours":          fact.Int(r.WindowHours),
		"confidence_bp":         fact.Int(r.ConfidenceBP),
		"requires_human_action": fact.Bool(r.RequiresHumanAction),
		"requirements":          reqs,
		"weights_bp":            weights,
	}
}

// WeightBP returns the configured contribution weight for a signal type,
// defaulting to an even 10000/len split when the rule names no weight.
func (r CorrelationRule) WeightBP(st fact.SignalType) int64 {
	if w, ok := r.WeightsBP[st]; ok {
		return w
	}
	if len(r.Requirements) == 0 {
		return 10000
	}
	return 10000 / int64(len(r.Requirements))
}

// RiskType names a projected risk dimension and the signal types that
// feed its daily density series.
type RiskType struct {
	Name    string            `json:"name"`
	Signals []fact.SignalType `json:"signals"`
}

// LevelBoundary is one rung of the risk-level ladder: the level applies
// from MinDailyMilli abnormal signals per day (milli-counts, scaled 1000).
type LevelBoundary struct {
	Level         string `json:"level"`
	MinDailyMilli int64  `json:"min_daily_milli"`
}

// ConfidenceWeights are the basis-point weights of the three projection
// confidence factors. They must sum to 10000.
type ConfidenceWeights struct {
	DataPointsBP  int64 `json:"data_points_bp"`
	ConsistencyBP int64 `json:"consistency_bp"`
	RecencyBP     int64 `json:"recency_bp"`
}

// TrajectoryRuleSet is the versioned threshold/confidence configuration
// the projector runs under. Every projection stores the exact ID used, so
// a past projection can always be audited against the rule set that was
// active at the time.
type TrajectoryRuleSet struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	MinDataPoints     int64             `json:"min_data_points"`
	LookbackHours     int64             `json:"lookback_hours"`
	RiskTypes         []RiskType        `json:"risk_types"` // declaration order
	Levels            []LevelBoundary   `json:"levels"`     // ascending by MinDailyMilli
	ConfidenceWeights ConfidenceWeights `json:"confidence_weights"`
}

// Definition returns the canonical value the rule set id is hashed over.
func (s TrajectoryRuleSet) Definition() fact.Object {
	risks := make(fact.Array, len(s.RiskTypes))
	for i, rt := range s.RiskTypes {
		sigs := make(fact.Array, len(rt.Signals))
		for j, st := range rt.Signals {
			sigs[j] = fact.Str(st)
		}
		risks[i] = fact.Object{
			"name":    fact.Str(rt.Name),
			"signals": sigs,
		}
	}

	levels := make(fact.Array, len(s.Levels))
	for i, lb := range s.Levels {
		levels[i] = fact.Object{
			"level":           fact.Str(lb.Level),
			"min_daily_milli": fact.Int(lb.MinDailyMilli),
		}
	}

	return fact.Object{
		"name":            fact.Str(s.Name),
		"min_data_points": fact.Int(s.MinDataPoints),
		"lookback_hours":  fact.Int(s.LookbackHours),
		"risk_types":      risks,
		"levels":          levels,
		"confidence_weights": fact.Object{
			"data_points_bp":  fact.Int(s.ConfidenceWeights.DataPointsBP),
			"consistency_bp":  fact.Int(s.ConfidenceWeights.ConsistencyBP),
			"recency_bp":      fact.Int(s.ConfidenceWeights.RecencyBP),
		},
	}
}

// RiskTypeByName returns the risk type spec, or false if the rule set
// does not model it.
func (s TrajectoryRuleSet) RiskTypeByName(name string) (RiskType, bool) {
	for _, rt := range s.RiskTypes {
		if rt.Name == name {
			return rt, true
		}
	}
	return RiskType{}, false
}

// Catalog is a compiled rule catalog: the correlation rules in declaration
// order plus the trajectory rule sets.
type Catalog struct {
	Correlation []CorrelationRule
	Trajectory  []TrajectoryRuleSet
}
