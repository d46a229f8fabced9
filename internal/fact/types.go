package fact

import "fmt"

// SignalType identifies the source domain of a normalized signal fact.
type SignalType string

const (
	SignalMedicationAdmin   SignalType = "medication_admin"
	SignalVitalSign         SignalType = "vital_sign"
	SignalTaskCompletion    SignalType = "task_completion"
	SignalFamilyObservation SignalType = "family_observation"
)

// KnownSignalTypes lists all signal types the normalizer can emit,
// in catalog declaration order.
var KnownSignalTypes = []SignalType{
	SignalMedicationAdmin,
	SignalVitalSign,
	SignalTaskCompletion,
	SignalFamilyObservation,
}

// ParseSignalType validates a string against the known signal types.
func ParseSignalType(s string) (SignalType, error) {
	for _, t := range KnownSignalTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown signal type %q", s)
}

// Abnormality flags whether a signal fact is within its configured band.
type Abnormality string

const (
	Normal   Abnormality = "NORMAL"
	Abnormal Abnormality = "ABNORMAL"
)

// SourceRef is a back-reference to the collaborator row a signal fact was
// normalized from. It is a pointer for audit, never an ownership link: the
// fact stays valid even if the source row is later sealed or archived.
type SourceRef struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

func (r SourceRef) String() string {
	return r.Table + "/" + r.ID
}

// SignalFact is the normalized, immutable record of one raw care event.
// Created once by the normalizer; uniqueness on SourceRef makes
// re-normalization of the same source row a no-op.
type SignalFact struct {
	ID          string      `json:"id"`
	ResidentID  string      `json:"resident_id"`
	Type        SignalType  `json:"signal_type"`
	Timestamp   int64       `json:"signal_timestamp"` // unix seconds
	Source      SourceRef   `json:"source"`
	Abnormality Abnormality `json:"abnormality"`
	Payload     Object      `json:"payload"`
}

// Severity grades a compound intelligence event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverities defines the allowed severity grades.
var ValidSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// CompoundEvent is the correlation engine's output when a rule fires.
//
// Confidence is carried in basis points (0-10000) so the record stays
// float-free for canonical hashing; Confidence() exposes the 0-1 score.
// RuleID and RuleVersion immutably reference the exact rule snapshot that
// produced the event, so historical explanations remain reproducible even
// after the rule is deactivated.
type CompoundEvent struct {
	ID                  string   `json:"id"` // content-addressed
	DedupKey            string   `json:"dedup_key"`
	ResidentID          string   `json:"resident_id"`
	RuleID              string   `json:"rule_id"`
	RuleVersion         string   `json:"rule_version"`
	CorrelationType     string   `json:"correlation_type"`
	Severity            Severity `json:"severity"`
	ConfidenceBP        int64    `json:"confidence_bp"`
	Reasoning           string   `json:"reasoning"`
	ReasoningDetail     Object   `json:"reasoning_detail"`
	WindowStart         int64    `json:"window_start"` // unix seconds
	WindowEnd           int64    `json:"window_end"`   // unix seconds
	ContributingSignals int64    `json:"contributing_signals_count"`
	RequiresHumanAction bool     `json:"requires_human_action"`
	CreatedAt           int64    `json:"created_at"`
}

// Confidence returns the confidence score on the 0-1 scale.
func (e CompoundEvent) Confidence() float64 {
	return float64(e.ConfidenceBP) / 10000
}

// SignalContribution is a point-in-time copy of one signal fact attached
// to a compound event as evidence. The payload snapshot is copied, not
// referenced, so the event stays reproducible if source data changes.
type SignalContribution struct {
	EventID    string     `json:"event_id"`
	SignalID   string     `json:"signal_id"`
	SignalType SignalType `json:"signal_type"`
	Source     SourceRef  `json:"source"`
	Timestamp  int64      `json:"timestamp"`
	Snapshot   Object     `json:"snapshot"`
	WeightBP   int64      `json:"weight_bp"`
}

// Weight returns the contribution weight on the 0-1 scale.
func (c SignalContribution) Weight() float64 {
	return float64(c.WeightBP) / 10000
}

// DataSufficiency reports whether a projection had enough points to be
// trusted.
type DataSufficiency string

const (
	Sufficient   DataSufficiency = "SUFFICIENT"
	Insufficient DataSufficiency = "INSUFFICIENT"
)

// Projection is a forward-looking risk estimate for one resident/risk-type
// pair. Velocity is milli-units per day (scaled by 1000) to stay integer.
// EscalationHorizonHours is nil when sufficiency is INSUFFICIENT or the
// trend is flat/improving - a horizon is never fabricated.
type Projection struct {
	ID                     string          `json:"id"`
	ResidentID             string          `json:"resident_id"`
	RiskType               string          `json:"risk_type"`
	CurrentLevel           string          `json:"current_level"`
	VelocityMilliPerDay    int64           `json:"velocity_milli_per_day"`
	PersistenceHours       int64           `json:"persistence_hours"`
	EscalationHorizonHours *int64          `json:"escalation_horizon_hours,omitempty"`
	ProjectedNextLevel     string          `json:"projected_next_level"`
	ConfidenceBP           int64           `json:"confidence_bp"`
	DataSufficiency        DataSufficiency `json:"data_sufficiency"`
	DataPoints             int64           `json:"data_points"`
	RuleVersionID          string          `json:"rule_version_id"`
	ComputedAt             int64           `json:"computed_at"`
}

// Confidence returns the confidence score on the 0-1 scale.
func (p Projection) Confidence() float64 {
	return float64(p.ConfidenceBP) / 10000
}

// StateFields are the named fields of the brain state record. The set is
// fixed; transitions always carry the complete desired value so the no-op
// check is a plain struct comparison.
type StateFields struct {
	CareState         string `json:"care_state"`
	EmergencyState    string `json:"emergency_state"`
	ConnectivityState string `json:"connectivity_state"`
}

// Object converts the fields to a canonical value for history snapshots.
func (f StateFields) Object() Object {
	return Object{
		"care_state":         Str(f.CareState),
		"emergency_state":    Str(f.EmergencyState),
		"connectivity_state": Str(f.ConnectivityState),
	}
}

// StateRecord is the single mutable row per logical subject, guarded by
// optimistic concurrency. Created once at onboarding, mutated only through
// the versioned transition protocol, never deleted.
type StateRecord struct {
	SubjectID string      `json:"subject_id"`
	Version   int64       `json:"state_version"`
	Fields    StateFields `json:"fields"`
	UpdatedBy string      `json:"updated_by"`
	UpdatedAt int64       `json:"updated_at"`
}

// StateTransition is one immutable history row: the full before/after
// snapshot of every tracked field plus the reason and actor. History rows
// are never updated or deleted.
type StateTransition struct {
	SubjectID   string      `json:"subject_id"`
	FromVersion int64       `json:"from_version"`
	ToVersion   int64       `json:"to_version"`
	Before      StateFields `json:"before"`
	After       StateFields `json:"after"`
	Reason      string      `json:"reason"`
	Actor       string      `json:"actor"`
	Timestamp   int64       `json:"timestamp"`
}

// IdempotencyRecord stores the prior result for a caller-supplied key.
// Created on first successful processing, read-checked before any
// re-processing, never updated.
type IdempotencyRecord struct {
	Key         string `json:"key"`
	PayloadHash string `json:"payload_hash"`
	Result      string `json:"result"` // stored response JSON
	CreatedAt   int64  `json:"created_at"`
}
