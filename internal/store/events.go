package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caregraph/sentinel/internal/fact"
)

// InsertCompoundEvent writes a compound event and its signal contributions
// in one transaction. The event row and every contribution row become
// visible together or not at all.
//
// Dedup convergence: if an event with the same dedup key already exists,
// nothing is written and the existing event is returned with
// inserted=false. Re-evaluating an unchanged window is therefore a no-op
// regardless of how many times it runs.
func (s *Store) InsertCompoundEvent(ctx context.Context, ev fact.CompoundEvent, contributions []fact.SignalContribution) (fact.CompoundEvent, bool, error) {
	detailJSON, err := marshalObject(ev.ReasoningDetail)
	if err != nil {
		return fact.CompoundEvent{}, false, fmt.Errorf("insert compound event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fact.CompoundEvent{}, false, fmt.Errorf("insert compound event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO compound_events
		(id, dedup_key, resident_id, rule_name, rule_version, correlation_type, severity,
		 confidence_bp, reasoning, reasoning_detail, window_start, window_end,
		 contributing_signals, requires_human_action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING
	`,
		ev.ID,
		ev.DedupKey,
		ev.ResidentID,
		ev.RuleID,
		ev.RuleVersion,
		ev.CorrelationType,
		string(ev.Severity),
		ev.ConfidenceBP,
		ev.Reasoning,
		detailJSON,
		ev.WindowStart,
		ev.WindowEnd,
		ev.ContributingSignals,
		boolToInt(ev.RequiresHumanAction),
		ev.CreatedAt,
	)
	if err != nil {
		return fact.CompoundEvent{}, false, fmt.Errorf("insert compound event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fact.CompoundEvent{}, false, fmt.Errorf("insert compound event: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		existing, err := eventByDedupKey(ctx, tx, ev.DedupKey)
		if err != nil {
			return fact.CompoundEvent{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return fact.CompoundEvent{}, false, fmt.Errorf("insert compound event: commit: %w", err)
		}
		return existing, false, nil
	}

	for _, c := range contributions {
		snapshotJSON, err := marshalObject(c.Snapshot)
		if err != nil {
			return fact.CompoundEvent{}, false, fmt.Errorf("insert contribution: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO signal_contributions
			(event_id, signal_id, signal_type, source_table, source_id, timestamp, snapshot, weight_bp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.ID,
			c.SignalID,
			string(c.SignalType),
			c.Source.Table,
			c.Source.ID,
			c.Timestamp,
			snapshotJSON,
			c.WeightBP,
		)
		if err != nil {
			return fact.CompoundEvent{}, false, fmt.Errorf("insert contribution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fact.CompoundEvent{}, false, fmt.Errorf("insert compound event: commit: %w", err)
	}

	return ev, true, nil
}

// EventByDedupKey retrieves a compound event by its dedup key.
// Returns sql.ErrNoRows if no event with the key exists.
func (s *Store) EventByDedupKey(ctx context.Context, dedupKey string) (fact.CompoundEvent, error) {
	return eventByDedupKey(ctx, s.db, dedupKey)
}

// EventsForResident returns a resident's compound events ordered by
// creation time DESC then id, newest first.
func (s *Store) EventsForResident(ctx context.Context, residentID string, limit int) ([]fact.CompoundEvent, error) {
	query := `
		SELECT id, dedup_key, resident_id, rule_name, rule_version, correlation_type, severity,
		       confidence_bp, reasoning, reasoning_detail, window_start, window_end,
		       contributing_signals, requires_human_action, created_at
		FROM compound_events
		WHERE resident_id = ?
		ORDER BY created_at DESC, id COLLATE BINARY ASC
	`
	args := []any{residentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []fact.CompoundEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// ContributionsForEvent returns the evidence attached to an event,
// ordered by timestamp ASC then signal id.
func (s *Store) ContributionsForEvent(ctx context.Context, eventID string) ([]fact.SignalContribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, signal_id, signal_type, source_table, source_id, timestamp, snapshot, weight_bp
		FROM signal_contributions
		WHERE event_id = ?
		ORDER BY timestamp ASC, signal_id COLLATE BINARY ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer rows.Close()

	contributions := []fact.SignalContribution{}
	for rows.Next() {
		var c fact.SignalContribution
		var signalType, snapshotJSON string
		err := rows.Scan(
			&c.EventID,
			&c.SignalID,
			&signalType,
			&c.Source.Table,
			&c.Source.ID,
			&c.Timestamp,
			&snapshotJSON,
			&c.WeightBP,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}

		c.SignalType = fact.SignalType(signalType)
		if c.Snapshot, err = unmarshalObject(snapshotJSON); err != nil {
			return nil, fmt.Errorf("contribution snapshot: %w", err)
		}

		contributions = append(contributions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}

	return contributions, nil
}

// rowQuerier abstracts *sql.DB and *sql.Tx for shared single-row lookups.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func eventByDedupKey(ctx context.Context, q rowQuerier, dedupKey string) (fact.CompoundEvent, error) {
	r := q.QueryRowContext(ctx, `
		SELECT id, dedup_key, resident_id, rule_name, rule_version, correlation_type, severity,
		       confidence_bp, reasoning, reasoning_detail, window_start, window_end,
		       contributing_signals, requires_human_action, created_at
		FROM compound_events
		WHERE dedup_key = ?
	`, dedupKey)

	return scanEvent(r)
}

func scanEvent(sc scanner) (fact.CompoundEvent, error) {
	var ev fact.CompoundEvent
	var severity, detailJSON string
	var requiresAction int64

	err := sc.Scan(
		&ev.ID,
		&ev.DedupKey,
		&ev.ResidentID,
		&ev.RuleID,
		&ev.RuleVersion,
		&ev.CorrelationType,
		&severity,
		&ev.ConfidenceBP,
		&ev.Reasoning,
		&detailJSON,
		&ev.WindowStart,
		&ev.WindowEnd,
		&ev.ContributingSignals,
		&requiresAction,
		&ev.CreatedAt,
	)
	if err != nil {
		return fact.CompoundEvent{}, fmt.Errorf("scan compound event: %w", err)
	}

	ev.Severity = fact.Severity(severity)
	ev.RequiresHumanAction = requiresAction != 0

	if ev.ReasoningDetail, err = unmarshalObject(detailJSON); err != nil {
		return fact.CompoundEvent{}, fmt.Errorf("compound event reasoning detail: %w", err)
	}

	return ev, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
