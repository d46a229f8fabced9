package store

import (
	"fmt"

	"github.com/caregraph/sentinel/internal/fact"
)

// Serialization helpers. Persisted payloads, snapshots, and rule
// definitions are canonical JSON so stored bytes are deterministic and
// content-addressed ids can be re-derived from the rows that carry them.

func marshalObject(obj fact.Object) (string, error) {
	data, err := fact.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

func unmarshalObject(data string) (fact.Object, error) {
	v, err := fact.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	obj, ok := v.(fact.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: expected JSON object, got %T", v)
	}
	return obj, nil
}

func marshalStateFields(f fact.StateFields) (string, error) {
	return marshalObject(f.Object())
}

func unmarshalStateFields(data string) (fact.StateFields, error) {
	obj, err := unmarshalObject(data)
	if err != nil {
		return fact.StateFields{}, err
	}

	fields := fact.StateFields{}
	if v, ok := obj["care_state"].(fact.Str); ok {
		fields.CareState = string(v)
	}
	if v, ok := obj["emergency_state"].(fact.Str); ok {
		fields.EmergencyState = string(v)
	}
	if v, ok := obj["connectivity_state"].(fact.Str); ok {
		fields.ConnectivityState = string(v)
	}
	return fields, nil
}
