package fact

import "testing"

func TestMedicationPayload_RoundTripPreservesExtra(t *testing.T) {
	obj := Object{
		"medication_id": Str("med-7"),
		"status":        Str("missed"),
		"scheduled_at":  Int(1735100000),
		"recorded_at":   Int(1735100600),
		"late_minutes":  Int(10),
		"pharmacy_ref":  Str("rx-441"), // unmodeled field
	}

	p, err := MedicationPayloadFromObject(obj)
	if err != nil {
		t.Fatalf("MedicationPayloadFromObject() failed: %v", err)
	}
	if p.Status != "missed" || p.LateMinutes != 10 {
		t.Errorf("fields not decoded: %+v", p)
	}
	if p.Extra["pharmacy_ref"] != Str("rx-441") {
		t.Errorf("extra field dropped: %v", p.Extra)
	}

	back := p.ToObject()
	if back["pharmacy_ref"] != Str("rx-441") {
		t.Error("extra field lost on re-flatten")
	}
	if back["status"] != Str("missed") {
		t.Error("status lost on re-flatten")
	}
}

func TestMedicationPayload_RequiresStatus(t *testing.T) {
	if _, err := MedicationPayloadFromObject(Object{"recorded_at": Int(1)}); err == nil {
		t.Error("missing status accepted")
	}
}

func TestObservationPayload_ConcernRange(t *testing.T) {
	for _, level := range []int64{0, 6} {
		_, err := ObservationPayloadFromObject(Object{
			"concern_level": Int(level),
			"reported_at":   Int(1),
		})
		if err == nil {
			t.Errorf("concern_level %d accepted", level)
		}
	}

	p, err := ObservationPayloadFromObject(Object{
		"concern_level": Int(4),
		"category":      Str("mood"),
		"reported_at":   Int(1735100000),
	})
	if err != nil {
		t.Fatalf("valid observation rejected: %v", err)
	}
	if p.ConcernLevel != 4 || p.Category != "mood" {
		t.Errorf("decoded %+v", p)
	}
}

func TestVitalPayload_RequiresKind(t *testing.T) {
	if _, err := VitalPayloadFromObject(Object{"reading": Int(88)}); err == nil {
		t.Error("missing kind accepted")
	}
}
