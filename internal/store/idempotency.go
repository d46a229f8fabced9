package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/caregraph/sentinel/internal/fact"
)

// LookupIdempotency returns the stored record for a key, if any.
func (s *Store) LookupIdempotency(ctx context.Context, key string) (fact.IdempotencyRecord, bool, error) {
	var rec fact.IdempotencyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT key, payload_hash, result, created_at
		FROM idempotency_records
		WHERE key = ?
	`, key).Scan(&rec.Key, &rec.PayloadHash, &rec.Result, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return fact.IdempotencyRecord{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return rec, true, nil
}

// PutIdempotency records the result for a key. Write-once: if another
// submission already claimed the key, nothing is written and the winner's
// record is returned with claimed=false. The caller must then discard its
// own result and serve the winner's.
func (s *Store) PutIdempotency(ctx context.Context, rec fact.IdempotencyRecord) (fact.IdempotencyRecord, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, payload_hash, result, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, rec.Key, rec.PayloadHash, rec.Result, rec.CreatedAt)
	if err != nil {
		return fact.IdempotencyRecord{}, false, fmt.Errorf("put idempotency key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fact.IdempotencyRecord{}, false, fmt.Errorf("put idempotency key: rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return rec, true, nil
	}

	winner, found, err := s.LookupIdempotency(ctx, rec.Key)
	if err != nil {
		return fact.IdempotencyRecord{}, false, err
	}
	if !found {
		// Write-once table with no deletes; a lost race implies the row exists.
		return fact.IdempotencyRecord{}, false, fmt.Errorf("put idempotency key: conflicting record vanished for key %s", rec.Key)
	}
	return winner, false, nil
}
