package store

import (
	"context"
	"testing"

	"github.com/caregraph/sentinel/internal/fact"
)

func TestPutIdempotency_FirstClaimWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := fact.IdempotencyRecord{
		Key:         "submit-001",
		PayloadHash: "hash-a",
		Result:      `{"fact_id":"fact-1"}`,
		CreatedAt:   1000,
	}

	got, claimed, err := s.PutIdempotency(ctx, rec)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if !claimed {
		t.Error("first put reported claimed=false")
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	// A lost race returns the winner's record untouched.
	loser := fact.IdempotencyRecord{
		Key:         "submit-001",
		PayloadHash: "hash-b",
		Result:      `{"fact_id":"fact-2"}`,
		CreatedAt:   2000,
	}
	got, claimed, err = s.PutIdempotency(ctx, loser)
	if err != nil {
		t.Fatalf("second put errored: %v", err)
	}
	if claimed {
		t.Error("second put reported claimed=true")
	}
	if got != rec {
		t.Errorf("second put returned %+v, want the winner %+v", got, rec)
	}
}

func TestLookupIdempotency(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.LookupIdempotency(ctx, "missing")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found {
		t.Error("missing key reported found")
	}

	rec := fact.IdempotencyRecord{
		Key:         "submit-002",
		PayloadHash: "hash-a",
		Result:      `{"fact_id":"fact-1"}`,
		CreatedAt:   1000,
	}
	if _, _, err := s.PutIdempotency(ctx, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, found, err := s.LookupIdempotency(ctx, "submit-002")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found {
		t.Fatal("stored key not found")
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}
