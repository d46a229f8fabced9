package policy

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/caregraph/sentinel/internal/fact"
)

// Normalizer converts raw collaborator payloads into signal facts.
// Pure except for fact-id generation, which is injectable for tests.
type Normalizer struct {
	policy *Policy
	newID  func() string
}

// NewNormalizer builds a normalizer over the given policy.
func NewNormalizer(p *Policy) *Normalizer {
	return &Normalizer{policy: p, newID: uuid.NewString}
}

// WithIDGenerator overrides fact-id generation. Test hook.
func (n *Normalizer) WithIDGenerator(gen func() string) *Normalizer {
	n.newID = gen
	return n
}

// NormalizeMedication builds a signal fact from a medication administration.
//
// Classification: missed and refused doses are ABNORMAL; administered doses
// are ABNORMAL when recorded at or beyond the late threshold, NORMAL
// otherwise. An unknown status is an error, not a silent NORMAL.
func (n *Normalizer) NormalizeMedication(residentID string, src fact.SourceRef, p fact.MedicationPayload) (fact.SignalFact, error) {
	if residentID == "" {
		return fact.SignalFact{}, fmt.Errorf("normalize medication: empty resident id")
	}

	var abnormality fact.Abnormality
	switch p.Status {
	case "missed", "refused":
		abnormality = fact.Abnormal
	case "administered":
		abnormality = fact.Normal
		if p.LateMinutes >= n.policy.Medication.LateThresholdMinutes {
			abnormality = fact.Abnormal
		}
	default:
		return fact.SignalFact{}, fmt.Errorf("normalize medication: unknown status %q", p.Status)
	}

	return fact.SignalFact{
		ID:          n.newID(),
		ResidentID:  residentID,
		Type:        fact.SignalMedicationAdmin,
		Timestamp:   p.RecordedAt,
		Source:      src,
		Abnormality: abnormality,
		Payload:     p.ToObject(),
	}, nil
}

// NormalizeVital builds a signal fact from a vital-sign reading.
//
// Classification: a reading outside its configured band is ABNORMAL. Kinds
// without a band are NORMAL; the policy file decides what gets flagged.
func (n *Normalizer) NormalizeVital(residentID string, src fact.SourceRef, p fact.VitalPayload) (fact.SignalFact, error) {
	if residentID == "" {
		return fact.SignalFact{}, fmt.Errorf("normalize vital: empty resident id")
	}

	abnormality := fact.Normal
	if band, ok := n.policy.Vitals.Bands[p.Kind]; ok && !band.Contains(p.Reading) {
		abnormality = fact.Abnormal
	}

	return fact.SignalFact{
		ID:          n.newID(),
		ResidentID:  residentID,
		Type:        fact.SignalVitalSign,
		Timestamp:   p.RecordedAt,
		Source:      src,
		Abnormality: abnormality,
		Payload:     p.ToObject(),
	}, nil
}

// NormalizeTask builds a signal fact from a task completion.
//
// Classification: completion at or beyond the overdue threshold past the
// due time is ABNORMAL. Tasks without a due time are NORMAL.
func (n *Normalizer) NormalizeTask(residentID string, src fact.SourceRef, p fact.TaskPayload) (fact.SignalFact, error) {
	if residentID == "" {
		return fact.SignalFact{}, fmt.Errorf("normalize task: empty resident id")
	}

	abnormality := fact.Normal
	if p.DueAt > 0 {
		overdueMinutes := (p.CompletedAt - p.DueAt) / 60
		if overdueMinutes >= n.policy.Tasks.OverdueThresholdMinutes {
			abnormality = fact.Abnormal
		}
	}

	return fact.SignalFact{
		ID:          n.newID(),
		ResidentID:  residentID,
		Type:        fact.SignalTaskCompletion,
		Timestamp:   p.CompletedAt,
		Source:      src,
		Abnormality: abnormality,
		Payload:     p.ToObject(),
	}, nil
}

// NormalizeObservation builds a signal fact from a family observation.
//
// Classification: concern at or above the configured level is ABNORMAL.
func (n *Normalizer) NormalizeObservation(residentID string, src fact.SourceRef, p fact.ObservationPayload) (fact.SignalFact, error) {
	if residentID == "" {
		return fact.SignalFact{}, fmt.Errorf("normalize observation: empty resident id")
	}
	if p.ConcernLevel < 1 || p.ConcernLevel > 5 {
		return fact.SignalFact{}, fmt.Errorf("normalize observation: concern_level %d out of range 1-5", p.ConcernLevel)
	}

	abnormality := fact.Normal
	if p.ConcernLevel >= n.policy.Observations.AbnormalConcernLevel {
		abnormality = fact.Abnormal
	}

	return fact.SignalFact{
		ID:          n.newID(),
		ResidentID:  residentID,
		Type:        fact.SignalFamilyObservation,
		Timestamp:   p.ReportedAt,
		Source:      src,
		Abnormality: abnormality,
		Payload:     p.ToObject(),
	}, nil
}
