package store

import (
	"context"
	"testing"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/rules"
)

// seedEventFixture persists the rule and signal facts an event under test
// references, honoring the foreign keys.
func seedEventFixture(t *testing.T, s *Store) rules.CorrelationRule {
	t.Helper()
	ctx := context.Background()

	rule := testCorrelationRule(t, "adherence_vitals_pattern", 168)
	seedCatalog(t, s, &rules.Catalog{Correlation: []rules.CorrelationRule{rule}})

	for _, f := range []fact.SignalFact{
		testFact("sig-1", "resident-1", fact.SignalMedicationAdmin, 100, fact.Abnormal),
		testFact("sig-2", "resident-1", fact.SignalMedicationAdmin, 200, fact.Abnormal),
		testFact("sig-3", "resident-1", fact.SignalVitalSign, 300, fact.Abnormal),
	} {
		if _, err := s.InsertSignalFact(ctx, f); err != nil {
			t.Fatalf("seed fact %s failed: %v", f.ID, err)
		}
	}

	return rule
}

func testEvent(t *testing.T, rule rules.CorrelationRule, windowStart int64) fact.CompoundEvent {
	t.Helper()

	dedupKey := fact.MustDedupKey(rule.Name, "resident-1", windowStart)
	id, err := fact.EventID(dedupKey, rule.ID, 3)
	if err != nil {
		t.Fatalf("event id failed: %v", err)
	}

	return fact.CompoundEvent{
		ID:                  id,
		DedupKey:            dedupKey,
		ResidentID:          "resident-1",
		RuleID:              rule.Name,
		RuleVersion:         rule.ID,
		CorrelationType:     rule.CorrelationType,
		Severity:            rule.Severity,
		ConfidenceBP:        rule.ConfidenceBP,
		Reasoning:           "adherence_vitals_pattern within 168h window",
		ReasoningDetail:     fact.Object{"window_hours": fact.Int(168)},
		WindowStart:         windowStart,
		WindowEnd:           windowStart + 168*3600,
		ContributingSignals: 3,
		RequiresHumanAction: true,
		CreatedAt:           1000,
	}
}

func testContributions(eventID string) []fact.SignalContribution {
	return []fact.SignalContribution{
		{
			EventID:    eventID,
			SignalID:   "sig-1",
			SignalType: fact.SignalMedicationAdmin,
			Source:     fact.SourceRef{Table: "gateway", ID: "sig-1"},
			Timestamp:  100,
			Snapshot:   fact.Object{"status": fact.Str("missed")},
			WeightBP:   6000,
		},
		{
			EventID:    eventID,
			SignalID:   "sig-2",
			SignalType: fact.SignalMedicationAdmin,
			Source:     fact.SourceRef{Table: "gateway", ID: "sig-2"},
			Timestamp:  200,
			Snapshot:   fact.Object{"status": fact.Str("missed")},
			WeightBP:   6000,
		},
		{
			EventID:    eventID,
			SignalID:   "sig-3",
			SignalType: fact.SignalVitalSign,
			Source:     fact.SourceRef{Table: "gateway", ID: "sig-3"},
			Timestamp:  300,
			Snapshot:   fact.Object{"reading": fact.Int(130)},
			WeightBP:   4000,
		},
	}
}

func TestInsertCompoundEvent_WithContributions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rule := seedEventFixture(t, s)
	ev := testEvent(t, rule, 0)

	got, inserted, err := s.InsertCompoundEvent(ctx, ev, testContributions(ev.ID))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Error("first insert reported inserted=false")
	}
	if got.ID != ev.ID {
		t.Errorf("returned id %q, want %q", got.ID, ev.ID)
	}

	contributions, err := s.ContributionsForEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("contributions query failed: %v", err)
	}
	if len(contributions) != 3 {
		t.Fatalf("got %d contributions, want 3", len(contributions))
	}
	// Timestamp ASC ordering.
	if contributions[0].SignalID != "sig-1" || contributions[2].SignalID != "sig-3" {
		t.Errorf("contribution order: %s, %s, %s",
			contributions[0].SignalID, contributions[1].SignalID, contributions[2].SignalID)
	}
	if contributions[2].Snapshot["reading"] != fact.Int(130) {
		t.Errorf("snapshot lost: %v", contributions[2].Snapshot)
	}
}

func TestInsertCompoundEvent_DedupConverges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rule := seedEventFixture(t, s)
	ev := testEvent(t, rule, 0)

	if _, _, err := s.InsertCompoundEvent(ctx, ev, testContributions(ev.ID)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	// Re-evaluation of the same window: same dedup key, possibly a fresh
	// event id. Must return the existing event and write nothing.
	retry := ev
	retry.ID = "evt-retry"
	retry.CreatedAt = 2000

	got, inserted, err := s.InsertCompoundEvent(ctx, retry, testContributions(retry.ID))
	if err != nil {
		t.Fatalf("retry insert errored: %v", err)
	}
	if inserted {
		t.Error("retry reported inserted=true")
	}
	if got.ID != ev.ID {
		t.Errorf("retry returned id %q, want the original %q", got.ID, ev.ID)
	}
	if got.CreatedAt != 1000 {
		t.Errorf("retry overwrote created_at: %d", got.CreatedAt)
	}

	contributions, err := s.ContributionsForEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("contributions query failed: %v", err)
	}
	if len(contributions) != 3 {
		t.Errorf("retry duplicated contributions: %d rows", len(contributions))
	}
}

func TestEventsForResident_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rule := seedEventFixture(t, s)

	older := testEvent(t, rule, 0)
	older.CreatedAt = 1000
	newer := testEvent(t, rule, 3600)
	newer.CreatedAt = 2000

	for _, ev := range []fact.CompoundEvent{older, newer} {
		if _, _, err := s.InsertCompoundEvent(ctx, ev, nil); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	events, err := s.EventsForResident(ctx, "resident-1", 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != newer.ID {
		t.Errorf("events[0] = %q, want the newer event", events[0].ID)
	}

	limited, err := s.EventsForResident(ctx, "resident-1", 1)
	if err != nil {
		t.Fatalf("limited query failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d events", len(limited))
	}
}

func TestEventByDedupKey_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rule := seedEventFixture(t, s)
	ev := testEvent(t, rule, 0)

	if _, _, err := s.InsertCompoundEvent(ctx, ev, nil); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.EventByDedupKey(ctx, ev.DedupKey)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.RuleID != rule.Name || got.RuleVersion != rule.ID {
		t.Errorf("rule reference %q/%q, want %q/%q", got.RuleID, got.RuleVersion, rule.Name, rule.ID)
	}
	if !got.RequiresHumanAction {
		t.Error("requires_human_action flag lost")
	}
	if got.ReasoningDetail["window_hours"] != fact.Int(168) {
		t.Errorf("reasoning detail lost: %v", got.ReasoningDetail)
	}
}
