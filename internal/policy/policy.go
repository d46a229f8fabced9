// Package policy owns signal normalization: turning raw collaborator rows
// into immutable signal facts and classifying each one against the
// configured abnormality bands.
//
// Classification is pure configuration. The normalizer applies the bands
// mechanically and never interprets what an abnormal signal means; meaning
// is the correlation engine's job.
package policy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Band is an inclusive [Min, Max] range a vital reading must fall in to be
// NORMAL. Readings use integer units (bpm, mmHg, tenths of a degree,
// percent) so bands are integers too.
type Band struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// Contains reports whether a reading is inside the band.
func (b Band) Contains(reading int64) bool {
	return reading >= b.Min && reading <= b.Max
}

// Policy is the abnormality classification configuration. Loaded from YAML
// at startup; the normalizer treats it as read-only.
type Policy struct {
	Medication struct {
		// LateThresholdMinutes marks an administered dose ABNORMAL when it
		// was recorded this many minutes or more after schedule. Missed and
		// refused doses are always ABNORMAL.
		LateThresholdMinutes int64 `yaml:"late_threshold_minutes"`
	} `yaml:"medication"`

	Vitals struct {
		// Bands maps a vital kind to its NORMAL range. A reading of a kind
		// with no configured band is classified NORMAL; the policy only
		// flags what it explicitly models.
		Bands map[string]Band `yaml:"bands"`
	} `yaml:"vitals"`

	Tasks struct {
		// OverdueThresholdMinutes marks a completion ABNORMAL when it
		// happened this many minutes or more past the due time. Tasks
		// without a due time are always NORMAL.
		OverdueThresholdMinutes int64 `yaml:"overdue_threshold_minutes"`
	} `yaml:"tasks"`

	Observations struct {
		// AbnormalConcernLevel is the lowest concern level (1-5) classified
		// ABNORMAL.
		AbnormalConcernLevel int64 `yaml:"abnormal_concern_level"`
	} `yaml:"observations"`
}

// Load reads a policy file. Unknown fields are rejected so a typo in a
// band name fails loudly instead of silently never matching.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Parse decodes policy YAML.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the policy for internal consistency.
func (p *Policy) Validate() error {
	if p.Medication.LateThresholdMinutes < 0 {
		return fmt.Errorf("policy: medication.late_threshold_minutes must be >= 0")
	}
	if p.Tasks.OverdueThresholdMinutes < 0 {
		return fmt.Errorf("policy: tasks.overdue_threshold_minutes must be >= 0")
	}
	if p.Observations.AbnormalConcernLevel < 1 || p.Observations.AbnormalConcernLevel > 5 {
		return fmt.Errorf("policy: observations.abnormal_concern_level must be 1-5")
	}
	for kind, band := range p.Vitals.Bands {
		if band.Min > band.Max {
			return fmt.Errorf("policy: vitals band %q has min %d > max %d", kind, band.Min, band.Max)
		}
	}
	return nil
}

// Default returns the shipped policy: bands tuned for a general eldercare
// population. Deployments override per-facility via the policy file.
func Default() *Policy {
	p := &Policy{}
	p.Medication.LateThresholdMinutes = 60
	p.Tasks.OverdueThresholdMinutes = 120
	p.Observations.AbnormalConcernLevel = 3
	p.Vitals.Bands = map[string]Band{
		"heart_rate":        {Min: 50, Max: 100},  // bpm
		"systolic_bp":       {Min: 90, Max: 140},  // mmHg
		"diastolic_bp":      {Min: 60, Max: 90},   // mmHg
		"temperature_decic": {Min: 360, Max: 379}, // tenths of a degree C
		"spo2":              {Min: 92, Max: 100},  // percent
	}
	return p
}
