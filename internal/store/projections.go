package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/caregraph/sentinel/internal/fact"
)

// InsertProjection appends a risk projection. Projections are insert-only;
// each run produces a new row and LatestProjection reads the newest.
func (s *Store) InsertProjection(ctx context.Context, p fact.Projection) error {
	var horizon any
	if p.EscalationHorizonHours != nil {
		horizon = *p.EscalationHorizonHours
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_projections
		(id, resident_id, risk_type, current_level, velocity_milli_per_day, persistence_hours,
		 escalation_horizon_hours, projected_next_level, confidence_bp, data_sufficiency,
		 data_points, rule_version_id, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.ResidentID,
		p.RiskType,
		p.CurrentLevel,
		p.VelocityMilliPerDay,
		p.PersistenceHours,
		horizon,
		p.ProjectedNextLevel,
		p.ConfidenceBP,
		string(p.DataSufficiency),
		p.DataPoints,
		p.RuleVersionID,
		p.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert projection: %w", err)
	}

	return nil
}

// LatestProjection returns the newest projection for a resident/risk-type
// pair. Returns sql.ErrNoRows when none has been computed.
func (s *Store) LatestProjection(ctx context.Context, residentID, riskType string) (fact.Projection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resident_id, risk_type, current_level, velocity_milli_per_day, persistence_hours,
		       escalation_horizon_hours, projected_next_level, confidence_bp, data_sufficiency,
		       data_points, rule_version_id, computed_at
		FROM risk_projections
		WHERE resident_id = ? AND risk_type = ?
		ORDER BY computed_at DESC, id COLLATE BINARY ASC
		LIMIT 1
	`, residentID, riskType)

	return scanProjection(row)
}

// ProjectionsForResident returns all projections for a resident, newest
// first, optionally limited.
func (s *Store) ProjectionsForResident(ctx context.Context, residentID string, limit int) ([]fact.Projection, error) {
	query := `
		SELECT id, resident_id, risk_type, current_level, velocity_milli_per_day, persistence_hours,
		       escalation_horizon_hours, projected_next_level, confidence_bp, data_sufficiency,
		       data_points, rule_version_id, computed_at
		FROM risk_projections
		WHERE resident_id = ?
		ORDER BY computed_at DESC, id COLLATE BINARY ASC
	`
	args := []any{residentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projections: %w", err)
	}
	defer rows.Close()

	projections := []fact.Projection{}
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		projections = append(projections, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projections: %w", err)
	}

	return projections, nil
}

func scanProjection(sc scanner) (fact.Projection, error) {
	var p fact.Projection
	var horizon sql.NullInt64
	var sufficiency string

	err := sc.Scan(
		&p.ID,
		&p.ResidentID,
		&p.RiskType,
		&p.CurrentLevel,
		&p.VelocityMilliPerDay,
		&p.PersistenceHours,
		&horizon,
		&p.ProjectedNextLevel,
		&p.ConfidenceBP,
		&sufficiency,
		&p.DataPoints,
		&p.RuleVersionID,
		&p.ComputedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.Projection{}, err
	}
	if err != nil {
		return fact.Projection{}, fmt.Errorf("scan projection: %w", err)
	}

	p.DataSufficiency = fact.DataSufficiency(sufficiency)
	if horizon.Valid {
		h := horizon.Int64
		p.EscalationHorizonHours = &h
	}

	return p, nil
}
