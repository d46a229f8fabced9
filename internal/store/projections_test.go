package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/rules"
)

func testProjection(id string, ruleVersionID string, computedAt int64) fact.Projection {
	return fact.Projection{
		ID:                  id,
		ResidentID:          "resident-1",
		RiskType:            "health_decline",
		CurrentLevel:        "watch",
		VelocityMilliPerDay: 120,
		PersistenceHours:    48,
		ProjectedNextLevel:  "elevated",
		ConfidenceBP:        6500,
		DataSufficiency:     fact.Sufficient,
		DataPoints:          9,
		RuleVersionID:       ruleVersionID,
		ComputedAt:          computedAt,
	}
}

func TestInsertProjection_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	set := testTrajectorySet(t, "baseline", 5)
	seedCatalog(t, s, &rules.Catalog{Trajectory: []rules.TrajectoryRuleSet{set}})

	p := testProjection("proj-1", set.ID, 1000)
	horizon := int64(96)
	p.EscalationHorizonHours = &horizon

	if err := s.InsertProjection(ctx, p); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.LatestProjection(ctx, "resident-1", "health_decline")
	if err != nil {
		t.Fatalf("latest query failed: %v", err)
	}
	if got.ID != "proj-1" || got.VelocityMilliPerDay != 120 {
		t.Errorf("decoded projection: %+v", got)
	}
	if got.EscalationHorizonHours == nil || *got.EscalationHorizonHours != 96 {
		t.Errorf("horizon = %v, want 96", got.EscalationHorizonHours)
	}
	if got.RuleVersionID != set.ID {
		t.Errorf("rule version id = %q, want %q", got.RuleVersionID, set.ID)
	}
}

func TestInsertProjection_NilHorizon(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	set := testTrajectorySet(t, "baseline", 5)
	seedCatalog(t, s, &rules.Catalog{Trajectory: []rules.TrajectoryRuleSet{set}})

	p := testProjection("proj-1", set.ID, 1000)
	p.DataSufficiency = fact.Insufficient
	p.ConfidenceBP = 0

	if err := s.InsertProjection(ctx, p); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.LatestProjection(ctx, "resident-1", "health_decline")
	if err != nil {
		t.Fatalf("latest query failed: %v", err)
	}
	if got.EscalationHorizonHours != nil {
		t.Errorf("horizon = %v, want nil", got.EscalationHorizonHours)
	}
	if got.DataSufficiency != fact.Insufficient {
		t.Errorf("sufficiency = %s", got.DataSufficiency)
	}
}

func TestLatestProjection_PicksNewest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	set := testTrajectorySet(t, "baseline", 5)
	seedCatalog(t, s, &rules.Catalog{Trajectory: []rules.TrajectoryRuleSet{set}})

	for _, p := range []fact.Projection{
		testProjection("proj-old", set.ID, 1000),
		testProjection("proj-new", set.ID, 2000),
	} {
		if err := s.InsertProjection(ctx, p); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	got, err := s.LatestProjection(ctx, "resident-1", "health_decline")
	if err != nil {
		t.Fatalf("latest query failed: %v", err)
	}
	if got.ID != "proj-new" {
		t.Errorf("latest = %q, want proj-new", got.ID)
	}
}

func TestLatestProjection_NoRows(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LatestProjection(context.Background(), "resident-1", "health_decline")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestProjectionsForResident_NewestFirstWithLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	set := testTrajectorySet(t, "baseline", 5)
	seedCatalog(t, s, &rules.Catalog{Trajectory: []rules.TrajectoryRuleSet{set}})

	for _, p := range []fact.Projection{
		testProjection("proj-1", set.ID, 1000),
		testProjection("proj-2", set.ID, 2000),
		testProjection("proj-3", set.ID, 3000),
	} {
		if err := s.InsertProjection(ctx, p); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	got, err := s.ProjectionsForResident(ctx, "resident-1", 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d projections, want 2", len(got))
	}
	if got[0].ID != "proj-3" || got[1].ID != "proj-2" {
		t.Errorf("order: %s, %s", got[0].ID, got[1].ID)
	}
}
