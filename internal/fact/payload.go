package fact

import "fmt"

// Typed payload views over the Object stored on a signal fact.
//
// Each payload keeps an Extra object holding fields it does not model, so
// forward-compatible data written by newer collaborators survives a
// normalize/store/read round trip untouched.

// MedicationPayload describes one medication administration.
type MedicationPayload struct {
	MedicationID string // catalog reference
	Status       string // "administered", "missed", "refused"
	ScheduledAt  int64  // unix seconds
	RecordedAt   int64  // unix seconds
	LateMinutes  int64
	Extra        Object
}

// ToObject flattens the payload into a canonical Object.
func (p MedicationPayload) ToObject() Object {
	obj := cloneExtra(p.Extra)
	obj["medication_id"] = Str(p.MedicationID)
	obj["status"] = Str(p.Status)
	obj["scheduled_at"] = Int(p.ScheduledAt)
	obj["recorded_at"] = Int(p.RecordedAt)
	obj["late_minutes"] = Int(p.LateMinutes)
	return obj
}

// MedicationPayloadFromObject rebuilds the typed view, preserving unknown
// fields in Extra.
func MedicationPayloadFromObject(obj Object) (MedicationPayload, error) {
	p := MedicationPayload{Extra: Object{}}
	for k, v := range obj {
		switch k {
		case "medication_id":
			p.MedicationID = asString(v)
		case "status":
			p.Status = asString(v)
		case "scheduled_at":
			p.ScheduledAt = asInt(v)
		case "recorded_at":
			p.RecordedAt = asInt(v)
		case "late_minutes":
			p.LateMinutes = asInt(v)
		default:
			p.Extra[k] = v
		}
	}
	if p.Status == "" {
		return p, fmt.Errorf("medication payload: missing status")
	}
	return p, nil
}

// VitalPayload describes one vital-sign reading.
// Readings are integer units: bpm, mmHg, tenths of a degree Celsius,
// percent SpO2. Integer units keep payload snapshots float-free.
type VitalPayload struct {
	Kind       string // "heart_rate", "systolic_bp", "diastolic_bp", "temperature_decic", "spo2"
	Reading    int64
	RecordedAt int64
	Extra      Object
}

// ToObject flattens the payload into a canonical Object.
func (p VitalPayload) ToObject() Object {
	obj := cloneExtra(p.Extra)
	obj["kind"] = Str(p.Kind)
	obj["reading"] = Int(p.Reading)
	obj["recorded_at"] = Int(p.RecordedAt)
	return obj
}

// VitalPayloadFromObject rebuilds the typed view, preserving unknown
// fields in Extra.
func VitalPayloadFromObject(obj Object) (VitalPayload, error) {
	p := VitalPayload{Extra: Object{}}
	for k, v := range obj {
		switch k {
		case "kind":
			p.Kind = asString(v)
		case "reading":
			p.Reading = asInt(v)
		case "recorded_at":
			p.RecordedAt = asInt(v)
		default:
			p.Extra[k] = v
		}
	}
	if p.Kind == "" {
		return p, fmt.Errorf("vital payload: missing kind")
	}
	return p, nil
}

// TaskPayload describes one caregiving task completion.
type TaskPayload struct {
	TaskID      string
	Category    string // "hygiene", "mobility", "nutrition", ...
	CompletedAt int64
	DueAt       int64
	Extra       Object
}

// ToObject flattens the payload into a canonical Object.
func (p TaskPayload) ToObject() Object {
	obj := cloneExtra(p.Extra)
	obj["task_id"] = Str(p.TaskID)
	obj["category"] = Str(p.Category)
	obj["completed_at"] = Int(p.CompletedAt)
	obj["due_at"] = Int(p.DueAt)
	return obj
}

// TaskPayloadFromObject rebuilds the typed view, preserving unknown
// fields in Extra.
func TaskPayloadFromObject(obj Object) (TaskPayload, error) {
	p := TaskPayload{Extra: Object{}}
	for k, v := range obj {
		switch k {
		case "task_id":
			p.TaskID = asString(v)
		case "category":
			p.Category = asString(v)
		case "completed_at":
			p.CompletedAt = asInt(v)
		case "due_at":
			p.DueAt = asInt(v)
		default:
			p.Extra[k] = v
		}
	}
	return p, nil
}

// ObservationPayload describes a family-reported observation.
// ConcernLevel runs 1 (routine) to 5 (urgent); the abnormality policy
// decides where the ABNORMAL line sits.
type ObservationPayload struct {
	ConcernLevel int64
	Category     string // "mood", "appetite", "mobility", ...
	Note         string
	ReportedAt   int64
	Extra        Object
}

// ToObject flattens the payload into a canonical Object.
func (p ObservationPayload) ToObject() Object {
	obj := cloneExtra(p.Extra)
	obj["concern_level"] = Int(p.ConcernLevel)
	obj["category"] = Str(p.Category)
	obj["note"] = Str(p.Note)
	obj["reported_at"] = Int(p.ReportedAt)
	return obj
}

// ObservationPayloadFromObject rebuilds the typed view, preserving unknown
// fields in Extra.
func ObservationPayloadFromObject(obj Object) (ObservationPayload, error) {
	p := ObservationPayload{Extra: Object{}}
	for k, v := range obj {
		switch k {
		case "concern_level":
			p.ConcernLevel = asInt(v)
		case "category":
			p.Category = asString(v)
		case "note":
			p.Note = asString(v)
		case "reported_at":
			p.ReportedAt = asInt(v)
		default:
			p.Extra[k] = v
		}
	}
	if p.ConcernLevel < 1 || p.ConcernLevel > 5 {
		return p, fmt.Errorf("observation payload: concern_level %d out of range 1-5", p.ConcernLevel)
	}
	return p, nil
}

func cloneExtra(extra Object) Object {
	obj := make(Object, len(extra)+5)
	for k, v := range extra {
		obj[k] = v
	}
	return obj
}

func asString(v Value) string {
	if s, ok := v.(Str); ok {
		return string(s)
	}
	return ""
}

func asInt(v Value) int64 {
	if n, ok := v.(Int); ok {
		return int64(n)
	}
	return 0
}
