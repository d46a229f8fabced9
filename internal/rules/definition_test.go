package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregraph/sentinel/internal/fact"
)

func TestCorrelationRuleDefinition_RoundTrip(t *testing.T) {
	r := CorrelationRule{
		ID:                  "rule-id",
		Name:                "adherence_vitals_pattern",
		CorrelationType:     "adherence_vitals_decline",
		Severity:            fact.SeverityHigh,
		WindowHours:         168,
		ConfidenceBP:        8500,
		RequiresHumanAction: true,
		Requirements: []Requirement{
			{SignalType: fact.SignalMedicationAdmin, MinAbnormal: 2},
			{SignalType: fact.SignalVitalSign, MinAbnormal: 1},
		},
		WeightsBP: map[fact.SignalType]int64{
			fact.SignalMedicationAdmin: 6000,
			fact.SignalVitalSign:       4000,
		},
	}

	got, err := CorrelationRuleFromDefinition("rule-id", r.Definition())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestTrajectoryRuleSetDefinition_RoundTrip(t *testing.T) {
	s := TrajectoryRuleSet{
		ID:            "set-id",
		Name:          "baseline",
		MinDataPoints: 5,
		LookbackHours: 336,
		RiskTypes: []RiskType{
			{Name: "health_decline", Signals: []fact.SignalType{fact.SignalVitalSign, fact.SignalMedicationAdmin}},
			{Name: "care_gap", Signals: []fact.SignalType{fact.SignalTaskCompletion}},
		},
		Levels: []LevelBoundary{
			{Level: "stable", MinDailyMilli: 0},
			{Level: "watch", MinDailyMilli: 500},
			{Level: "critical", MinDailyMilli: 3000},
		},
		ConfidenceWeights: ConfidenceWeights{DataPointsBP: 4000, ConsistencyBP: 3000, RecencyBP: 3000},
	}

	got, err := TrajectoryRuleSetFromDefinition("set-id", s.Definition())
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestDefinition_IDStableUnderWeightMapOrder(t *testing.T) {
	// Weights live in a map; the canonical form must not depend on
	// iteration order.
	r := CorrelationRule{
		Name:            "stable",
		CorrelationType: "x",
		Severity:        fact.SeverityLow,
		WindowHours:     24,
		ConfidenceBP:    5000,
		Requirements:    []Requirement{{SignalType: fact.SignalVitalSign, MinAbnormal: 1}},
		WeightsBP: map[fact.SignalType]int64{
			fact.SignalVitalSign:        7000,
			fact.SignalMedicationAdmin:  2000,
			fact.SignalTaskCompletion:   1000,
		},
	}

	id1, err := fact.RuleVersionID(r.Definition())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		id2, err := fact.RuleVersionID(r.Definition())
		require.NoError(t, err)
		assert.Equal(t, id1, id2)
	}
}

func TestCorrelationRuleFromDefinition_MissingField(t *testing.T) {
	def := fact.Object{
		"name": fact.Str("incomplete"),
	}
	_, err := CorrelationRuleFromDefinition("id", def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation_type")
}
