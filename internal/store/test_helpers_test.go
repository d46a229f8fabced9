package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/rules"
)

// createTestStore creates a store backed by a temp database that is
// cleaned up with the test.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// testFact builds a minimal signal fact. The source id mirrors the fact
// id so every fact gets a distinct source pointer unless a test reuses
// one deliberately.
func testFact(id, residentID string, st fact.SignalType, ts int64, ab fact.Abnormality) fact.SignalFact {
	return fact.SignalFact{
		ID:          id,
		ResidentID:  residentID,
		Type:        st,
		Timestamp:   ts,
		Source:      fact.SourceRef{Table: "gateway", ID: id},
		Abnormality: ab,
		Payload:     fact.Object{"recorded_at": fact.Int(ts)},
	}
}

// testCorrelationRule builds a rule with a content-addressed id, the same
// way the compiler assigns ids.
func testCorrelationRule(t *testing.T, name string, windowHours int64) rules.CorrelationRule {
	t.Helper()

	r := rules.CorrelationRule{
		Name:                name,
		CorrelationType:     "test_correlation",
		Severity:            fact.SeverityHigh,
		WindowHours:         windowHours,
		ConfidenceBP:        8000,
		RequiresHumanAction: true,
		Requirements: []rules.Requirement{
			{SignalType: fact.SignalMedicationAdmin, MinAbnormal: 2},
			{SignalType: fact.SignalVitalSign, MinAbnormal: 1},
		},
		WeightsBP: map[fact.SignalType]int64{
			fact.SignalMedicationAdmin: 6000,
			fact.SignalVitalSign:       4000,
		},
	}

	id, err := fact.RuleVersionID(r.Definition())
	if err != nil {
		t.Fatalf("failed to compute rule id: %v", err)
	}
	r.ID = id
	return r
}

// testTrajectorySet builds a rule set with a content-addressed id.
func testTrajectorySet(t *testing.T, name string, minDataPoints int64) rules.TrajectoryRuleSet {
	t.Helper()

	ts := rules.TrajectoryRuleSet{
		Name:          name,
		MinDataPoints: minDataPoints,
		LookbackHours: 336,
		RiskTypes: []rules.RiskType{
			{Name: "health_decline", Signals: []fact.SignalType{fact.SignalVitalSign, fact.SignalMedicationAdmin}},
		},
		Levels: []rules.LevelBoundary{
			{Level: "stable", MinDailyMilli: 0},
			{Level: "watch", MinDailyMilli: 500},
			{Level: "critical", MinDailyMilli: 3000},
		},
		ConfidenceWeights: rules.ConfidenceWeights{
			DataPointsBP:  4000,
			ConsistencyBP: 3000,
			RecencyBP:     3000,
		},
	}

	id, err := fact.RuleVersionID(ts.Definition())
	if err != nil {
		t.Fatalf("failed to compute rule set id: %v", err)
	}
	ts.ID = id
	return ts
}

// seedCatalog persists a catalog, failing the test on error.
func seedCatalog(t *testing.T, s *Store, cat *rules.Catalog) {
	t.Helper()

	if err := s.SaveCatalog(context.Background(), cat); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
}
