package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caregraph/sentinel/internal/fact"
)

func validRule(name string) CorrelationRule {
	return CorrelationRule{
		Name:            name,
		CorrelationType: "test",
		Severity:        fact.SeverityLow,
		WindowHours:     24,
		ConfidenceBP:    5000,
		Requirements:    []Requirement{{SignalType: fact.SignalVitalSign, MinAbnormal: 1}},
	}
}

func validSet(name string) TrajectoryRuleSet {
	return TrajectoryRuleSet{
		Name:          name,
		MinDataPoints: 5,
		LookbackHours: 336,
		RiskTypes:     []RiskType{{Name: "health_decline", Signals: []fact.SignalType{fact.SignalVitalSign}}},
		Levels: []LevelBoundary{
			{Level: "stable", MinDailyMilli: 0},
			{Level: "watch", MinDailyMilli: 500},
		},
		ConfidenceWeights: ConfidenceWeights{DataPointsBP: 4000, ConsistencyBP: 3000, RecencyBP: 3000},
	}
}

func TestValidate_CleanCatalog(t *testing.T) {
	c := &Catalog{
		Correlation: []CorrelationRule{validRule("a"), validRule("b")},
		Trajectory:  []TrajectoryRuleSet{validSet("baseline")},
	}
	assert.Empty(t, Validate(c))
}

func TestValidate_DuplicateRuleName(t *testing.T) {
	c := &Catalog{Correlation: []CorrelationRule{validRule("dup"), validRule("dup")}}

	errs := Validate(c)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeDuplicateRule)
}

func TestValidate_ConfidenceRange(t *testing.T) {
	r := validRule("over")
	r.ConfidenceBP = 10001
	c := &Catalog{Correlation: []CorrelationRule{r}}

	errs := Validate(c)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeConfidenceRange)
}

func TestValidate_NonPositiveWindow(t *testing.T) {
	r := validRule("zero")
	r.WindowHours = 0
	c := &Catalog{Correlation: []CorrelationRule{r}}

	errs := Validate(c)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeWindowRange)
}

func TestValidate_LadderNotAscending(t *testing.T) {
	s := validSet("baseline")
	s.Levels = []LevelBoundary{
		{Level: "stable", MinDailyMilli: 0},
		{Level: "watch", MinDailyMilli: 500},
		{Level: "elevated", MinDailyMilli: 500}, // not above previous
	}
	c := &Catalog{Trajectory: []TrajectoryRuleSet{s}}

	errs := Validate(c)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeLadderOrder)
}

func TestValidate_WeightSum(t *testing.T) {
	s := validSet("baseline")
	s.ConfidenceWeights.RecencyBP = 2000
	c := &Catalog{Trajectory: []TrajectoryRuleSet{s}}

	errs := Validate(c)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeWeightSum)
}
