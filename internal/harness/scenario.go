// Package harness runs declarative YAML scenarios against a temporary
// store: seed signals through the gateway, run the correlation engine and
// projector at fixed times, and check the outcomes. Golden files capture
// rendered reasoning traces for review.
package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is the rule catalog directory, relative to the scenario file.
	Rules string `yaml:"rules"`

	// Policy is an optional abnormality policy file, relative to the
	// scenario file. Empty means the built-in default policy.
	Policy string `yaml:"policy,omitempty"`

	// Signals are gateway submissions seeding the store, in order.
	Signals []SignalStep `yaml:"signals"`

	// Correlate lists engine evaluations to run after seeding.
	Correlate []CorrelateStep `yaml:"correlate,omitempty"`

	// Project lists projector runs after seeding.
	Project []ProjectStep `yaml:"project,omitempty"`

	// dir is the scenario file's directory, for resolving relative paths.
	dir string
}

// SignalStep is one gateway submission.
type SignalStep struct {
	// Key is an optional idempotency key.
	Key string `yaml:"key,omitempty"`

	SignalType string `yaml:"signal_type"`
	ResidentID string `yaml:"resident_id"`

	// Source identifies the collaborator row. Required so re-runs of the
	// scenario are deterministic.
	Source SourceStep `yaml:"source"`

	// Payload is the raw signal payload.
	Payload map[string]interface{} `yaml:"payload"`

	// ExpectDuplicate marks a submission that must be absorbed without
	// side effects.
	ExpectDuplicate bool `yaml:"expect_duplicate,omitempty"`

	// ExpectAbnormality optionally checks the classification
	// ("NORMAL" or "ABNORMAL").
	ExpectAbnormality string `yaml:"expect_abnormality,omitempty"`
}

// SourceStep is a source row reference.
type SourceStep struct {
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
}

// CorrelateStep runs the engine for one resident at a fixed time.
type CorrelateStep struct {
	Resident    string `yaml:"resident"`
	WindowHours int64  `yaml:"window_hours,omitempty"`

	// At is the evaluation time, unix seconds. Fixed for determinism.
	At int64 `yaml:"at"`

	// Expect lists the events that must fire, in rule-name order.
	// An empty list asserts that nothing fires.
	Expect []ExpectEvent `yaml:"expect"`
}

// ExpectEvent describes one expected compound event.
type ExpectEvent struct {
	Rule                string `yaml:"rule"`
	Severity            string `yaml:"severity"`
	ContributingSignals int64  `yaml:"contributing_signals"`
	ConfidenceBP        int64  `yaml:"confidence_bp"`
	RequiresHumanAction bool   `yaml:"requires_human_action,omitempty"`

	// Created=false expects dedup suppression (the event already existed).
	Created bool `yaml:"created"`
}

// ProjectStep runs the projector at a fixed time.
type ProjectStep struct {
	Resident string `yaml:"resident"`
	Risk     string `yaml:"risk"`
	At       int64  `yaml:"at"`

	Expect ExpectProjection `yaml:"expect"`
}

// ExpectProjection describes the expected projection shape.
type ExpectProjection struct {
	Sufficiency  string `yaml:"sufficiency"`
	CurrentLevel string `yaml:"current_level"`

	// HasHorizon asserts presence/absence of an escalation horizon.
	HasHorizon bool `yaml:"has_horizon"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if s.Rules == "" {
		return nil, fmt.Errorf("scenario %s: missing rules directory", path)
	}

	s.dir = filepath.Dir(path)
	return &s, nil
}

// rulesDir resolves the catalog directory against the scenario location.
func (s *Scenario) rulesDir() string {
	return filepath.Join(s.dir, s.Rules)
}

// policyPath resolves the policy file, or "" for the default policy.
func (s *Scenario) policyPath() string {
	if s.Policy == "" {
		return ""
	}
	return filepath.Join(s.dir, s.Policy)
}
