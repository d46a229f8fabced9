package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caregraph/sentinel/internal/rules"
)

// SaveCatalog persists a compiled rule catalog in one transaction.
//
// Rule ids are content-addressed over the definition, so reloading an
// unchanged catalog inserts nothing. A changed rule gets a new id; the
// old row stays (events reference it immutably) but is deactivated in
// favor of the new version of the same name.
func (s *Store) SaveCatalog(ctx context.Context, cat *rules.Catalog) error {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save catalog: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, r := range cat.Correlation {
		defJSON, err := marshalObject(r.Definition())
		if err != nil {
			return fmt.Errorf("save catalog: rule %q: %w", r.Name, err)
		}
		if err := upsertRuleVersion(ctx, tx, "correlation_rules", r.ID, r.Name, defJSON, now); err != nil {
			return fmt.Errorf("save catalog: rule %q: %w", r.Name, err)
		}
	}

	for _, ts := range cat.Trajectory {
		defJSON, err := marshalObject(ts.Definition())
		if err != nil {
			return fmt.Errorf("save catalog: rule set %q: %w", ts.Name, err)
		}
		if err := upsertRuleVersion(ctx, tx, "trajectory_rule_sets", ts.ID, ts.Name, defJSON, now); err != nil {
			return fmt.Errorf("save catalog: rule set %q: %w", ts.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save catalog: commit: %w", err)
	}

	return nil
}

// upsertRuleVersion inserts a rule row if its id is new and makes it the
// active version of its name. Table is one of the two rule tables; both
// share the same column layout.
func upsertRuleVersion(ctx context.Context, tx *sql.Tx, table, id, name, defJSON string, now int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, definition, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, table), id, name, defJSON, now)
	if err != nil {
		return fmt.Errorf("insert rule version: %w", err)
	}

	// Exactly one active version per name.
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET is_active = CASE WHEN id = ? THEN 1 ELSE 0 END WHERE name = ?
	`, table), id, name)
	if err != nil {
		return fmt.Errorf("activate rule version: %w", err)
	}

	return nil
}

// ActiveCorrelationRules returns the active correlation rules ordered by
// name, decoded from their stored definitions.
func (s *Store) ActiveCorrelationRules(ctx context.Context) ([]rules.CorrelationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition FROM correlation_rules
		WHERE is_active = 1
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	active := []rules.CorrelationRule{}
	for rows.Next() {
		var id, defJSON string
		if err := rows.Scan(&id, &defJSON); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r, err := decodeCorrelationRule(id, defJSON)
		if err != nil {
			return nil, err
		}
		active = append(active, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	return active, nil
}

// CorrelationRuleByName returns the active correlation rule with the given
// name. Returns RULE_NOT_FOUND when no active version exists.
func (s *Store) CorrelationRuleByName(ctx context.Context, name string) (rules.CorrelationRule, error) {
	var id, defJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, definition FROM correlation_rules
		WHERE name = ? AND is_active = 1
	`, name).Scan(&id, &defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.CorrelationRule{}, NewRuleNotFound(name)
	}
	if err != nil {
		return rules.CorrelationRule{}, fmt.Errorf("query rule by name: %w", err)
	}

	return decodeCorrelationRule(id, defJSON)
}

// CorrelationRuleByID returns the correlation rule with the given version
// id, active or not. Historical events resolve their rule this way.
func (s *Store) CorrelationRuleByID(ctx context.Context, id string) (rules.CorrelationRule, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM correlation_rules WHERE id = ?
	`, id).Scan(&defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.CorrelationRule{}, NewRuleNotFound(id)
	}
	if err != nil {
		return rules.CorrelationRule{}, fmt.Errorf("query rule by id: %w", err)
	}

	return decodeCorrelationRule(id, defJSON)
}

// ActiveTrajectoryRuleSet returns the active trajectory rule set with the
// given name. Returns RULE_NOT_FOUND when no active version exists.
func (s *Store) ActiveTrajectoryRuleSet(ctx context.Context, name string) (rules.TrajectoryRuleSet, error) {
	var id, defJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, definition FROM trajectory_rule_sets
		WHERE name = ? AND is_active = 1
	`, name).Scan(&id, &defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.TrajectoryRuleSet{}, NewRuleNotFound(name)
	}
	if err != nil {
		return rules.TrajectoryRuleSet{}, fmt.Errorf("query rule set by name: %w", err)
	}

	return decodeTrajectoryRuleSet(id, defJSON)
}

// ActiveTrajectoryRuleSets returns all active trajectory rule sets ordered
// by name.
func (s *Store) ActiveTrajectoryRuleSets(ctx context.Context) ([]rules.TrajectoryRuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition FROM trajectory_rule_sets
		WHERE is_active = 1
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active rule sets: %w", err)
	}
	defer rows.Close()

	active := []rules.TrajectoryRuleSet{}
	for rows.Next() {
		var id, defJSON string
		if err := rows.Scan(&id, &defJSON); err != nil {
			return nil, fmt.Errorf("scan rule set: %w", err)
		}
		ts, err := decodeTrajectoryRuleSet(id, defJSON)
		if err != nil {
			return nil, err
		}
		active = append(active, ts)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule sets: %w", err)
	}

	return active, nil
}

// TrajectoryRuleSetByID returns the trajectory rule set with the given
// version id, active or not.
func (s *Store) TrajectoryRuleSetByID(ctx context.Context, id string) (rules.TrajectoryRuleSet, error) {
	var defJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM trajectory_rule_sets WHERE id = ?
	`, id).Scan(&defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.TrajectoryRuleSet{}, NewRuleNotFound(id)
	}
	if err != nil {
		return rules.TrajectoryRuleSet{}, fmt.Errorf("query rule set by id: %w", err)
	}

	return decodeTrajectoryRuleSet(id, defJSON)
}

func decodeCorrelationRule(id, defJSON string) (rules.CorrelationRule, error) {
	def, err := unmarshalObject(defJSON)
	if err != nil {
		return rules.CorrelationRule{}, fmt.Errorf("rule %s: %w", id, err)
	}
	r, err := rules.CorrelationRuleFromDefinition(id, def)
	if err != nil {
		return rules.CorrelationRule{}, fmt.Errorf("rule %s: %w", id, err)
	}
	return r, nil
}

func decodeTrajectoryRuleSet(id, defJSON string) (rules.TrajectoryRuleSet, error) {
	def, err := unmarshalObject(defJSON)
	if err != nil {
		return rules.TrajectoryRuleSet{}, fmt.Errorf("rule set %s: %w", id, err)
	}
	ts, err := rules.TrajectoryRuleSetFromDefinition(id, def)
	if err != nil {
		return rules.TrajectoryRuleSet{}, fmt.Errorf("rule set %s: %w", id, err)
	}
	return ts, nil
}
