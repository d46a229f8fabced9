// Package trajectory is the risk projector: it turns a resident's recent
// abnormal-signal density into a forward-looking risk estimate under a
// versioned rule set.
//
// A projection is an extrapolation, never a diagnosis. Sparse data is
// reported as INSUFFICIENT with no escalation horizon rather than padded
// into a guess.
package trajectory

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/rules"
	"github.com/caregraph/sentinel/internal/store"
)

const (
	secondsPerDay = 24 * 3600

	// currentLevelDays is the trailing span the current risk level is read
	// from. A short average smooths single-day spikes without hiding a
	// sustained shift.
	currentLevelDays = 3
)

// Projector computes and persists risk projections.
type Projector struct {
	store  *store.Store
	logger *slog.Logger
	newID  func() string
}

// New builds a projector over the store.
func New(st *store.Store, logger *slog.Logger) *Projector {
	return &Projector{store: st, logger: logger, newID: uuid.NewString}
}

// WithIDGenerator overrides projection-id generation. Test hook.
func (p *Projector) WithIDGenerator(gen func() string) *Projector {
	p.newID = gen
	return p
}

// Project computes a projection for one resident and risk type at time
// now (unix seconds) and persists it.
//
// The active trajectory rule set modeling the risk type supplies every
// threshold and weight; the projection records that rule set's version id
// so it can always be audited against the exact configuration used.
//
// With fewer data points than the rule set's minimum the projection is
// persisted as INSUFFICIENT: zero confidence, no escalation horizon, and
// levels reported from what little data exists.
// Returns RESIDENT_NOT_FOUND when the resident has no recorded facts and
// RULE_NOT_FOUND when no active rule set models the risk type.
func (p *Projector) Project(ctx context.Context, residentID, riskType string, now int64) (fact.Projection, error) {
	hasFacts, err := p.store.ResidentHasFacts(ctx, residentID)
	if err != nil {
		return fact.Projection{}, err
	}
	if !hasFacts {
		return fact.Projection{}, store.NewResidentNotFound(residentID)
	}

	ruleSet, riskSpec, err := p.ruleSetFor(ctx, riskType)
	if err != nil {
		return fact.Projection{}, err
	}

	from := now - ruleSet.LookbackHours*3600
	facts, err := p.store.AbnormalFactsInWindow(ctx, residentID, riskSpec.Signals, from, now)
	if err != nil {
		return fact.Projection{}, err
	}

	series := dailySeries(facts, from, now)
	dataPoints := int64(len(facts))

	projection := fact.Projection{
		ID:            p.newID(),
		ResidentID:    residentID,
		RiskType:      riskType,
		RuleVersionID: ruleSet.ID,
		DataPoints:    dataPoints,
		ComputedAt:    now,
	}

	currentMilli := trailingDailyMilli(series, currentLevelDays)
	projection.CurrentLevel = levelFor(ruleSet.Levels, currentMilli)
	projection.VelocityMilliPerDay = velocityMilliPerDay(series)
	projection.PersistenceHours = persistenceHours(series, ruleSet.Levels, projection.CurrentLevel)

	if dataPoints < ruleSet.MinDataPoints {
		projection.DataSufficiency = fact.Insufficient
		projection.ProjectedNextLevel = projection.CurrentLevel
		projection.ConfidenceBP = 0
	} else {
		projection.DataSufficiency = fact.Sufficient
		projection.ProjectedNextLevel, projection.EscalationHorizonHours =
			escalation(ruleSet.Levels, projection.CurrentLevel, currentMilli, projection.VelocityMilliPerDay)
		projection.ConfidenceBP = confidenceBP(ruleSet, series, facts, now)
	}

	if err := p.store.InsertProjection(ctx, projection); err != nil {
		return fact.Projection{}, err
	}

	p.logger.Info("projection computed",
		"resident", residentID,
		"risk_type", riskType,
		"level", projection.CurrentLevel,
		"sufficiency", projection.DataSufficiency,
		"data_points", dataPoints,
	)

	return projection, nil
}

// ruleSetFor finds the active rule set modeling a risk type. Rule sets are
// scanned in name order; the first match wins.
func (p *Projector) ruleSetFor(ctx context.Context, riskType string) (rules.TrajectoryRuleSet, rules.RiskType, error) {
	active, err := p.store.ActiveTrajectoryRuleSets(ctx)
	if err != nil {
		return rules.TrajectoryRuleSet{}, rules.RiskType{}, err
	}
	for _, rs := range active {
		if spec, ok := rs.RiskTypeByName(riskType); ok {
			return rs, spec, nil
		}
	}
	return rules.TrajectoryRuleSet{}, rules.RiskType{}, store.NewRuleNotFound(riskType)
}

// dailySeries buckets abnormal facts into whole days, oldest first. Days
// with no signals are zero entries; gaps carry information.
func dailySeries(facts []fact.SignalFact, from, to int64) []int64 {
	days := (to - from + secondsPerDay - 1) / secondsPerDay
	if days <= 0 {
		days = 1
	}
	series := make([]int64, days)
	for _, f := range facts {
		idx := (f.Timestamp - from) / secondsPerDay
		if idx < 0 {
			idx = 0
		}
		if idx >= days {
			idx = days - 1
		}
		series[idx]++
	}
	return series
}

// trailingDailyMilli averages the last n days of the series in
// milli-counts per day.
func trailingDailyMilli(series []int64, n int) int64 {
	if len(series) == 0 {
		return 0
	}
	if n > len(series) {
		n = len(series)
	}
	var sum int64
	for _, c := range series[len(series)-n:] {
		sum += c
	}
	return sum * 1000 / int64(n)
}

// velocityMilliPerDay fits a least-squares line through the daily counts
// and returns its slope in milli-counts per day. Integer arithmetic
// throughout; a series shorter than two days has no slope.
func velocityMilliPerDay(series []int64) int64 {
	n := int64(len(series))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX int64
	for i, c := range series {
		x := int64(i)
		sumX += x
		sumY += c
		sumXY += x * c
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) * 1000 / denom
}

// levelFor maps a daily milli-count onto the ladder: the highest rung
// whose boundary is at or below the value. The ladder is validated
// ascending, so the scan runs top-down.
func levelFor(levels []rules.LevelBoundary, dailyMilli int64) string {
	for i := len(levels) - 1; i >= 0; i-- {
		if dailyMilli >= levels[i].MinDailyMilli {
			return levels[i].Level
		}
	}
	if len(levels) > 0 {
		return levels[0].Level
	}
	return ""
}

// persistenceHours counts how long the current level has held: consecutive
// days from the newest backwards whose density stayed at or above the
// level's boundary, in hours.
func persistenceHours(series []int64, levels []rules.LevelBoundary, level string) int64 {
	var boundary int64
	for _, lb := range levels {
		if lb.Level == level {
			boundary = lb.MinDailyMilli
			break
		}
	}

	var days int64
	for i := len(series) - 1; i >= 0; i-- {
		if series[i]*1000 < boundary {
			break
		}
		days++
	}
	return days * 24
}

// escalation projects the next level and the hours until the density
// trend crosses its boundary. A flat or improving trend projects the
// current level with no horizon - a horizon is never fabricated.
func escalation(levels []rules.LevelBoundary, current string, currentMilli, velocityMilli int64) (string, *int64) {
	if velocityMilli <= 0 {
		return current, nil
	}

	next := -1
	for i, lb := range levels {
		if lb.Level == current && i+1 < len(levels) {
			next = i + 1
			break
		}
	}
	if next == -1 {
		// Already at the top rung.
		return current, nil
	}

	deltaMilli := levels[next].MinDailyMilli - currentMilli
	if deltaMilli <= 0 {
		h := int64(0)
		return levels[next].Level, &h
	}

	// hours = delta / velocity_per_day * 24, rounded up.
	hours := (deltaMilli*24 + velocityMilli - 1) / velocityMilli
	return levels[next].Level, &hours
}

// confidenceBP combines the three configured factors, each on the 0-10000
// scale, by the rule set's weights:
//   - data points: saturates at twice the rule set minimum
//   - consistency: fraction of lookback days with any signal
//   - recency: age of the newest signal scaled over the lookback
func confidenceBP(ruleSet rules.TrajectoryRuleSet, series []int64, facts []fact.SignalFact, now int64) int64 {
	var dataFactor, consistencyFactor, recencyFactor int64

	saturation := 2 * ruleSet.MinDataPoints
	if saturation > 0 {
		dataFactor = int64(len(facts)) * 10000 / saturation
		if dataFactor > 10000 {
			dataFactor = 10000
		}
	}

	if len(series) > 0 {
		var nonZero int64
		for _, c := range series {
			if c > 0 {
				nonZero++
			}
		}
		consistencyFactor = nonZero * 10000 / int64(len(series))
	}

	if len(facts) > 0 && ruleSet.LookbackHours > 0 {
		newest := facts[len(facts)-1].Timestamp
		ageHours := (now - newest) / 3600
		if ageHours < 0 {
			ageHours = 0
		}
		if ageHours < ruleSet.LookbackHours {
			recencyFactor = (ruleSet.LookbackHours - ageHours) * 10000 / ruleSet.LookbackHours
		}
	}

	w := ruleSet.ConfidenceWeights
	bp := (dataFactor*w.DataPointsBP + consistencyFactor*w.ConsistencyBP + recencyFactor*w.RecencyBP) / 10000
	if bp > 10000 {
		bp = 10000
	}
	if bp < 0 {
		bp = 0
	}
	return bp
}
