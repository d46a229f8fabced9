package rules

import (
	"fmt"

	"github.com/caregraph/sentinel/internal/fact"
)

// Decoders for rule definitions stored as canonical JSON. These are the
// inverse of Definition(): a rule row's definition column round-trips to
// the same struct the compiler produced, so the content-addressed id can
// be re-verified against the stored bytes.

// CorrelationRuleFromDefinition rebuilds a correlation rule from its
// stored definition object.
func CorrelationRuleFromDefinition(id string, def fact.Object) (CorrelationRule, error) {
	r := CorrelationRule{ID: id, WeightsBP: map[fact.SignalType]int64{}}

	var err error
	if r.Name, err = defString(def, "name"); err != nil {
		return CorrelationRule{}, err
	}
	if r.CorrelationType, err = defString(def, "correlation_type"); err != nil {
		return CorrelationRule{}, err
	}
	sev, err := defString(def, "severity")
	if err != nil {
		return CorrelationRule{}, err
	}
	r.Severity = fact.Severity(sev)
	if r.WindowHours, err = defInt(def, "window_hours"); err != nil {
		return CorrelationRule{}, err
	}
	if r.ConfidenceBP, err = defInt(def, "confidence_bp"); err != nil {
		return CorrelationRule{}, err
	}
	if b, ok := def["requires_human_action"].(fact.Bool); ok {
		r.RequiresHumanAction = bool(b)
	}

	reqs, ok := def["requirements"].(fact.Array)
	if !ok {
		return CorrelationRule{}, fmt.Errorf("rule definition: requirements is not an array")
	}
	for i, rv := range reqs {
		obj, ok := rv.(fact.Object)
		if !ok {
			return CorrelationRule{}, fmt.Errorf("rule definition: requirement %d is not an object", i)
		}
		st, err := defString(obj, "signal_type")
		if err != nil {
			return CorrelationRule{}, err
		}
		min, err := defInt(obj, "min_abnormal")
		if err != nil {
			return CorrelationRule{}, err
		}
		r.Requirements = append(r.Requirements, Requirement{
			SignalType:  fact.SignalType(st),
			MinAbnormal: min,
		})
	}

	if weights, ok := def["weights_bp"].(fact.Object); ok {
		for st, wv := range weights {
			w, ok := wv.(fact.Int)
			if !ok {
				return CorrelationRule{}, fmt.Errorf("rule definition: weight for %s is not an integer", st)
			}
			r.WeightsBP[fact.SignalType(st)] = int64(w)
		}
	}

	return r, nil
}

// TrajectoryRuleSetFromDefinition rebuilds a trajectory rule set from its
// stored definition object.
func TrajectoryRuleSetFromDefinition(id string, def fact.Object) (TrajectoryRuleSet, error) {
	s := TrajectoryRuleSet{ID: id}

	var err error
	if s.Name, err = defString(def, "name"); err != nil {
		return TrajectoryRuleSet{}, err
	}
	if s.MinDataPoints, err = defInt(def, "min_data_points"); err != nil {
		return TrajectoryRuleSet{}, err
	}
	if s.LookbackHours, err = defInt(def, "lookback_hours"); err != nil {
		return TrajectoryRuleSet{}, err
	}

	risks, ok := def["risk_types"].(fact.Array)
	if !ok {
		return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: risk_types is not an array")
	}
	for i, rv := range risks {
		obj, ok := rv.(fact.Object)
		if !ok {
			return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: risk type %d is not an object", i)
		}
		rt := RiskType{}
		if rt.Name, err = defString(obj, "name"); err != nil {
			return TrajectoryRuleSet{}, err
		}
		sigs, ok := obj["signals"].(fact.Array)
		if !ok {
			return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: risk type %q signals is not an array", rt.Name)
		}
		for _, sv := range sigs {
			sn, ok := sv.(fact.Str)
			if !ok {
				return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: risk type %q has a non-string signal", rt.Name)
			}
			rt.Signals = append(rt.Signals, fact.SignalType(sn))
		}
		s.RiskTypes = append(s.RiskTypes, rt)
	}

	levels, ok := def["levels"].(fact.Array)
	if !ok {
		return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: levels is not an array")
	}
	for i, lv := range levels {
		obj, ok := lv.(fact.Object)
		if !ok {
			return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: level %d is not an object", i)
		}
		lb := LevelBoundary{}
		if lb.Level, err = defString(obj, "level"); err != nil {
			return TrajectoryRuleSet{}, err
		}
		if lb.MinDailyMilli, err = defInt(obj, "min_daily_milli"); err != nil {
			return TrajectoryRuleSet{}, err
		}
		s.Levels = append(s.Levels, lb)
	}

	cw, ok := def["confidence_weights"].(fact.Object)
	if !ok {
		return TrajectoryRuleSet{}, fmt.Errorf("rule set definition: confidence_weights is not an object")
	}
	if s.ConfidenceWeights.DataPointsBP, err = defInt(cw, "data_points_bp"); err != nil {
		return TrajectoryRuleSet{}, err
	}
	if s.ConfidenceWeights.ConsistencyBP, err = defInt(cw, "consistency_bp"); err != nil {
		return TrajectoryRuleSet{}, err
	}
	if s.ConfidenceWeights.RecencyBP, err = defInt(cw, "recency_bp"); err != nil {
		return TrajectoryRuleSet{}, err
	}

	return s, nil
}

func defString(obj fact.Object, key string) (string, error) {
	v, ok := obj[key].(fact.Str)
	if !ok {
		return "", fmt.Errorf("rule definition: %s is missing or not a string", key)
	}
	return string(v), nil
}

func defInt(obj fact.Object, key string) (int64, error) {
	v, ok := obj[key].(fact.Int)
	if !ok {
		return 0, fmt.Errorf("rule definition: %s is missing or not an integer", key)
	}
	return int64(v), nil
}
