package store

import (
	"context"
	"fmt"

	"github.com/caregraph/sentinel/internal/fact"
)

// InsertSignalFact inserts a normalized signal fact.
// Uses ON CONFLICT(source_table, source_id) DO NOTHING: re-normalizing the
// same source row is a no-op and inserted=false is returned. Other
// constraint violations (e.g. NOT NULL) still return errors.
func (s *Store) InsertSignalFact(ctx context.Context, f fact.SignalFact) (inserted bool, err error) {
	payloadJSON, err := marshalObject(f.Payload)
	if err != nil {
		return false, fmt.Errorf("insert signal fact: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_facts
		(id, resident_id, signal_type, signal_timestamp, source_table, source_id, abnormality, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_table, source_id) DO NOTHING
	`,
		f.ID,
		f.ResidentID,
		string(f.Type),
		f.Timestamp,
		f.Source.Table,
		f.Source.ID,
		string(f.Abnormality),
		payloadJSON,
	)
	if err != nil {
		return false, fmt.Errorf("insert signal fact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert signal fact: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// FactBySource retrieves the signal fact normalized from a source row.
// Returns sql.ErrNoRows if the source row was never normalized.
func (s *Store) FactBySource(ctx context.Context, src fact.SourceRef) (fact.SignalFact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resident_id, signal_type, signal_timestamp, source_table, source_id, abnormality, payload
		FROM signal_facts
		WHERE source_table = ? AND source_id = ?
	`, src.Table, src.ID)

	return scanFact(row)
}

// FactsInWindow returns a resident's signal facts of one type inside
// [from, to], optionally restricted to ABNORMAL facts.
// Ordering is deterministic: timestamp ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) when no facts match.
func (s *Store) FactsInWindow(ctx context.Context, residentID string, st fact.SignalType, from, to int64, abnormalOnly bool) ([]fact.SignalFact, error) {
	query := `
		SELECT id, resident_id, signal_type, signal_timestamp, source_table, source_id, abnormality, payload
		FROM signal_facts
		WHERE resident_id = ? AND signal_type = ? AND signal_timestamp >= ? AND signal_timestamp <= ?
	`
	args := []any{residentID, string(st), from, to}
	if abnormalOnly {
		query += ` AND abnormality = ?`
		args = append(args, string(fact.Abnormal))
	}
	query += ` ORDER BY signal_timestamp ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts in window: %w", err)
	}
	defer rows.Close()

	facts := []fact.SignalFact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	return facts, nil
}

// AbnormalFactsInWindow returns a resident's ABNORMAL facts across a set
// of signal types inside [from, to], ordered by timestamp ASC, id ASC.
// Used by the trajectory projector to build daily density series.
func (s *Store) AbnormalFactsInWindow(ctx context.Context, residentID string, types []fact.SignalType, from, to int64) ([]fact.SignalFact, error) {
	if len(types) == 0 {
		return []fact.SignalFact{}, nil
	}

	query := `
		SELECT id, resident_id, signal_type, signal_timestamp, source_table, source_id, abnormality, payload
		FROM signal_facts
		WHERE resident_id = ? AND abnormality = ? AND signal_timestamp >= ? AND signal_timestamp <= ?
		AND signal_type IN (`
	args := []any{residentID, string(fact.Abnormal), from, to}
	for i, st := range types {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(st))
	}
	query += `) ORDER BY signal_timestamp ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query abnormal facts: %w", err)
	}
	defer rows.Close()

	facts := []fact.SignalFact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate abnormal facts: %w", err)
	}

	return facts, nil
}

// ResidentHasFacts reports whether any signal fact was ever recorded for
// the resident. The core owns no resident registry; a resident exists
// exactly when a collaborator has written data about them.
func (s *Store) ResidentHasFacts(ctx context.Context, residentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signal_facts WHERE resident_id = ? LIMIT 1
	`, residentID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check resident facts: %w", err)
	}
	return count > 0, nil
}

// ResidentIDs returns the distinct residents with at least one signal
// fact, in deterministic order. Used by the sweep path of the correlation
// CLI.
func (s *Store) ResidentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT resident_id FROM signal_facts ORDER BY resident_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query resident ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resident id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resident ids: %w", err)
	}

	return ids, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanFact(sc scanner) (fact.SignalFact, error) {
	var f fact.SignalFact
	var signalType, abnormality, payloadJSON string

	err := sc.Scan(
		&f.ID,
		&f.ResidentID,
		&signalType,
		&f.Timestamp,
		&f.Source.Table,
		&f.Source.ID,
		&abnormality,
		&payloadJSON,
	)
	if err != nil {
		return fact.SignalFact{}, fmt.Errorf("scan signal fact: %w", err)
	}

	f.Type = fact.SignalType(signalType)
	f.Abnormality = fact.Abnormality(abnormality)

	f.Payload, err = unmarshalObject(payloadJSON)
	if err != nil {
		return fact.SignalFact{}, fmt.Errorf("scan signal fact payload: %w", err)
	}

	return f, nil
}
