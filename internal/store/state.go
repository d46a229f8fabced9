package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caregraph/sentinel/internal/fact"
)

// InitState creates the state record for a subject at version 1.
// Called exactly once at onboarding; a second call returns an error.
// No history row is written for initialization - history records
// transitions, and version 1 is the starting point, not a transition.
func (s *Store) InitState(ctx context.Context, subjectID string, fields fact.StateFields, actor string) (fact.StateRecord, error) {
	now := time.Now().Unix()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO brain_state
		(subject_id, state_version, care_state, emergency_state, connectivity_state, updated_by, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO NOTHING
	`,
		subjectID,
		fields.CareState,
		fields.EmergencyState,
		fields.ConnectivityState,
		actor,
		now,
	)
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("init state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("init state: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fact.StateRecord{}, fmt.Errorf("init state: subject %s already initialized", subjectID)
	}

	return fact.StateRecord{
		SubjectID: subjectID,
		Version:   1,
		Fields:    fields,
		UpdatedBy: actor,
		UpdatedAt: now,
	}, nil
}

// GetState returns the current state record for a subject.
// Returns NOT_INITIALIZED when no record exists.
func (s *Store) GetState(ctx context.Context, subjectID string) (fact.StateRecord, error) {
	var rec fact.StateRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, state_version, care_state, emergency_state, connectivity_state, updated_by, updated_at
		FROM brain_state
		WHERE subject_id = ?
	`, subjectID).Scan(
		&rec.SubjectID,
		&rec.Version,
		&rec.Fields.CareState,
		&rec.Fields.EmergencyState,
		&rec.Fields.ConnectivityState,
		&rec.UpdatedBy,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.StateRecord{}, NewNotInitialized(subjectID)
	}
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("get state: %w", err)
	}

	return rec, nil
}

// Transition applies a versioned state transition for a subject.
//
// Optimistic concurrency: the caller supplies the version it read. The
// compare-and-swap happens inside a single transaction, so two concurrent
// transitions with the same expected version yield exactly one success
// and one VERSION_CONFLICT.
//
// Outcomes:
//   - expected version stale: VERSION_CONFLICT carrying the live version,
//     no mutation
//   - no state record: NOT_INITIALIZED
//   - newFields equal current fields: success with the unchanged record,
//     no version bump, no history row
//   - otherwise: fields updated, version incremented by exactly 1, actor
//     and timestamp recorded, and one immutable history row appended with
//     the full before/after snapshot and the reason string
func (s *Store) Transition(ctx context.Context, subjectID string, expectedVersion int64, newFields fact.StateFields, reason, actor string) (fact.StateRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Read current state inside the transaction for the before-snapshot
	// and the no-op check.
	var current fact.StateRecord
	err = tx.QueryRowContext(ctx, `
		SELECT subject_id, state_version, care_state, emergency_state, connectivity_state, updated_by, updated_at
		FROM brain_state
		WHERE subject_id = ?
	`, subjectID).Scan(
		&current.SubjectID,
		&current.Version,
		&current.Fields.CareState,
		&current.Fields.EmergencyState,
		&current.Fields.ConnectivityState,
		&current.UpdatedBy,
		&current.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.StateRecord{}, NewNotInitialized(subjectID)
	}
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: read state: %w", err)
	}

	if current.Version != expectedVersion {
		return fact.StateRecord{}, NewVersionConflict(subjectID, expectedVersion, current.Version)
	}

	// No-op suppression: redundant writes don't bump the version and
	// don't pollute the history log.
	if current.Fields == newFields {
		if err := tx.Commit(); err != nil {
			return fact.StateRecord{}, fmt.Errorf("transition: commit no-op: %w", err)
		}
		return current, nil
	}

	now := time.Now().Unix()

	// Compare-and-swap: the WHERE clause re-checks the version so a
	// concurrent transition that slipped between our read and this update
	// loses cleanly instead of overwriting.
	result, err := tx.ExecContext(ctx, `
		UPDATE brain_state
		SET care_state = ?, emergency_state = ?, connectivity_state = ?,
		    state_version = state_version + 1, updated_by = ?, updated_at = ?
		WHERE subject_id = ? AND state_version = ?
	`,
		newFields.CareState,
		newFields.EmergencyState,
		newFields.ConnectivityState,
		actor,
		now,
		subjectID,
		expectedVersion,
	)
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: update state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var live int64
		if err := tx.QueryRowContext(ctx, `
			SELECT state_version FROM brain_state WHERE subject_id = ?
		`, subjectID).Scan(&live); err != nil {
			return fact.StateRecord{}, fmt.Errorf("transition: read live version: %w", err)
		}
		return fact.StateRecord{}, NewVersionConflict(subjectID, expectedVersion, live)
	}

	beforeJSON, err := marshalStateFields(current.Fields)
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: %w", err)
	}
	afterJSON, err := marshalStateFields(newFields)
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_transitions
		(subject_id, from_version, to_version, before_snapshot, after_snapshot, reason, actor, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		subjectID,
		expectedVersion,
		expectedVersion+1,
		beforeJSON,
		afterJSON,
		reason,
		actor,
		now,
	)
	if err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fact.StateRecord{}, fmt.Errorf("transition: commit: %w", err)
	}

	return fact.StateRecord{
		SubjectID: subjectID,
		Version:   expectedVersion + 1,
		Fields:    newFields,
		UpdatedBy: actor,
		UpdatedAt: now,
	}, nil
}

// StateHistory returns all transitions for a subject ordered by
// to_version ASC. Returns an empty slice (not nil) when no transitions
// have been recorded.
func (s *Store) StateHistory(ctx context.Context, subjectID string) ([]fact.StateTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, from_version, to_version, before_snapshot, after_snapshot, reason, actor, at
		FROM state_transitions
		WHERE subject_id = ?
		ORDER BY to_version ASC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	history := []fact.StateTransition{}
	for rows.Next() {
		var t fact.StateTransition
		var beforeJSON, afterJSON string
		err := rows.Scan(
			&t.SubjectID,
			&t.FromVersion,
			&t.ToVersion,
			&beforeJSON,
			&afterJSON,
			&t.Reason,
			&t.Actor,
			&t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan state transition: %w", err)
		}

		if t.Before, err = unmarshalStateFields(beforeJSON); err != nil {
			return nil, fmt.Errorf("state transition before snapshot: %w", err)
		}
		if t.After, err = unmarshalStateFields(afterJSON); err != nil {
			return nil, fmt.Errorf("state transition after snapshot: %w", err)
		}

		history = append(history, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state history: %w", err)
	}

	return history, nil
}

// VerifyHistory checks the audit chain for a subject:
//   - versions form a gapless chain starting at 1->2
//   - each transition's before-snapshot equals the prior after-snapshot
//   - the final after-snapshot and version match the live state record
//
// Returns nil when the chain is intact (an empty history against a
// version-1 record is intact). Any break is returned as a plain error
// describing the first inconsistency found.
func (s *Store) VerifyHistory(ctx context.Context, subjectID string) error {
	live, err := s.GetState(ctx, subjectID)
	if err != nil {
		return err
	}

	history, err := s.StateHistory(ctx, subjectID)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		if live.Version != 1 {
			return fmt.Errorf("verify history: subject %s at version %d with no transitions recorded", subjectID, live.Version)
		}
		return nil
	}

	for i, t := range history {
		wantFrom := int64(i + 1)
		if t.FromVersion != wantFrom || t.ToVersion != wantFrom+1 {
			return fmt.Errorf("verify history: subject %s transition %d has versions %d->%d, want %d->%d",
				subjectID, i, t.FromVersion, t.ToVersion, wantFrom, wantFrom+1)
		}
		if i > 0 && t.Before != history[i-1].After {
			return fmt.Errorf("verify history: subject %s transition to version %d: before-snapshot does not match prior after-snapshot",
				subjectID, t.ToVersion)
		}
	}

	last := history[len(history)-1]
	if last.ToVersion != live.Version {
		return fmt.Errorf("verify history: subject %s last transition reaches version %d but live record is at %d",
			subjectID, last.ToVersion, live.Version)
	}
	if last.After != live.Fields {
		return fmt.Errorf("verify history: subject %s final after-snapshot does not match live state", subjectID)
	}

	return nil
}
