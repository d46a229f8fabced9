package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/caregraph/sentinel/internal/fact"
)

func TestInsertSignalFact_DuplicateSourceIsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := testFact("fact-1", "resident-1", fact.SignalMedicationAdmin, 1735100000, fact.Abnormal)

	inserted, err := s.InsertSignalFact(ctx, f)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Error("first insert reported inserted=false")
	}

	// Same source pointer, different fact id: re-normalization of the
	// same source row must change nothing.
	dup := f
	dup.ID = "fact-1-retry"
	inserted, err = s.InsertSignalFact(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if inserted {
		t.Error("duplicate source insert reported inserted=true")
	}

	got, err := s.FactBySource(ctx, f.Source)
	if err != nil {
		t.Fatalf("FactBySource failed: %v", err)
	}
	if got.ID != "fact-1" {
		t.Errorf("stored fact id = %q, want the original %q", got.ID, "fact-1")
	}
}

func TestFactBySource_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.FactBySource(context.Background(), fact.SourceRef{Table: "gateway", ID: "missing"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestFactsInWindow_OrderingAndBounds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Inserted out of timestamp order on purpose.
	facts := []fact.SignalFact{
		testFact("fact-c", "resident-1", fact.SignalVitalSign, 300, fact.Normal),
		testFact("fact-a", "resident-1", fact.SignalVitalSign, 100, fact.Normal),
		testFact("fact-b", "resident-1", fact.SignalVitalSign, 200, fact.Abnormal),
		testFact("fact-d", "resident-1", fact.SignalVitalSign, 400, fact.Normal), // outside window
		testFact("fact-e", "resident-2", fact.SignalVitalSign, 200, fact.Normal), // other resident
	}
	for _, f := range facts {
		if _, err := s.InsertSignalFact(ctx, f); err != nil {
			t.Fatalf("insert %s failed: %v", f.ID, err)
		}
	}

	got, err := s.FactsInWindow(ctx, "resident-1", fact.SignalVitalSign, 100, 300, false)
	if err != nil {
		t.Fatalf("FactsInWindow failed: %v", err)
	}

	wantIDs := []string{"fact-a", "fact-b", "fact-c"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d facts, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("facts[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestFactsInWindow_AbnormalOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, f := range []fact.SignalFact{
		testFact("fact-1", "resident-1", fact.SignalMedicationAdmin, 100, fact.Normal),
		testFact("fact-2", "resident-1", fact.SignalMedicationAdmin, 200, fact.Abnormal),
		testFact("fact-3", "resident-1", fact.SignalMedicationAdmin, 300, fact.Abnormal),
	} {
		if _, err := s.InsertSignalFact(ctx, f); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	got, err := s.FactsInWindow(ctx, "resident-1", fact.SignalMedicationAdmin, 0, 1000, true)
	if err != nil {
		t.Fatalf("FactsInWindow failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d abnormal facts, want 2", len(got))
	}
	for _, f := range got {
		if f.Abnormality != fact.Abnormal {
			t.Errorf("fact %s has abnormality %s", f.ID, f.Abnormality)
		}
	}
}

func TestAbnormalFactsInWindow_TypeFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, f := range []fact.SignalFact{
		testFact("fact-1", "resident-1", fact.SignalVitalSign, 100, fact.Abnormal),
		testFact("fact-2", "resident-1", fact.SignalMedicationAdmin, 200, fact.Abnormal),
		testFact("fact-3", "resident-1", fact.SignalTaskCompletion, 300, fact.Abnormal),
		testFact("fact-4", "resident-1", fact.SignalVitalSign, 400, fact.Normal),
	} {
		if _, err := s.InsertSignalFact(ctx, f); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	types := []fact.SignalType{fact.SignalVitalSign, fact.SignalMedicationAdmin}
	got, err := s.AbnormalFactsInWindow(ctx, "resident-1", types, 0, 1000)
	if err != nil {
		t.Fatalf("AbnormalFactsInWindow failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d facts, want 2", len(got))
	}
	if got[0].ID != "fact-1" || got[1].ID != "fact-2" {
		t.Errorf("unexpected facts: %s, %s", got[0].ID, got[1].ID)
	}

	empty, err := s.AbnormalFactsInWindow(ctx, "resident-1", nil, 0, 1000)
	if err != nil {
		t.Fatalf("empty type set errored: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty type set returned %d facts", len(empty))
	}
}

func TestResidentHasFacts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	has, err := s.ResidentHasFacts(ctx, "resident-1")
	if err != nil {
		t.Fatalf("ResidentHasFacts failed: %v", err)
	}
	if has {
		t.Error("unknown resident reported as having facts")
	}

	f := testFact("fact-1", "resident-1", fact.SignalVitalSign, 100, fact.Normal)
	if _, err := s.InsertSignalFact(ctx, f); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	has, err = s.ResidentHasFacts(ctx, "resident-1")
	if err != nil {
		t.Fatalf("ResidentHasFacts failed: %v", err)
	}
	if !has {
		t.Error("resident with a fact reported as unknown")
	}
}

func TestResidentIDs_SortedDistinct(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, f := range []fact.SignalFact{
		testFact("fact-1", "resident-b", fact.SignalVitalSign, 100, fact.Normal),
		testFact("fact-2", "resident-a", fact.SignalVitalSign, 200, fact.Normal),
		testFact("fact-3", "resident-b", fact.SignalVitalSign, 300, fact.Normal),
	} {
		if _, err := s.InsertSignalFact(ctx, f); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	ids, err := s.ResidentIDs(ctx)
	if err != nil {
		t.Fatalf("ResidentIDs failed: %v", err)
	}
	want := []string{"resident-a", "resident-b"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestInsertSignalFact_PayloadRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := testFact("fact-1", "resident-1", fact.SignalVitalSign, 100, fact.Abnormal)
	f.Payload = fact.Object{
		"kind":        fact.Str("heart_rate"),
		"reading":     fact.Int(130),
		"recorded_at": fact.Int(100),
	}

	if _, err := s.InsertSignalFact(ctx, f); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.FactBySource(ctx, f.Source)
	if err != nil {
		t.Fatalf("FactBySource failed: %v", err)
	}
	if got.Payload["reading"] != fact.Int(130) {
		t.Errorf("payload reading = %v", got.Payload["reading"])
	}
	if got.Payload["kind"] != fact.Str("heart_rate") {
		t.Errorf("payload kind = %v", got.Payload["kind"])
	}
}
