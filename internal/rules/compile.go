package rules

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/caregraph/sentinel/internal/fact"
)

// CompileCorrelationRule parses a CUE value into a CorrelationRule.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: med_vitals: { ... }`)
//	r, err := CompileCorrelationRule(v.LookupPath(cue.ParsePath("rule.med_vitals")))
//
// The rule id is computed content-addressed from the compiled definition.
func CompileCorrelationRule(v cue.Value) (*CorrelationRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &CorrelationRule{}

	// Rule name from the struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.Name = labels[len(labels)-1].String()
	}

	var err error
	if rule.CorrelationType, err = requiredString(v, "correlation_type"); err != nil {
		return nil, err
	}

	sev, err := requiredString(v, "severity")
	if err != nil {
		return nil, err
	}
	rule.Severity = fact.Severity(sev)
	if !fact.ValidSeverities[rule.Severity] {
		return nil, &CompileError{
			Field:   "severity",
			Message: fmt.Sprintf("unknown severity %q", sev),
			Pos:     v.Pos(),
		}
	}

	if rule.WindowHours, err = requiredInt(v, "window_hours"); err != nil {
		return nil, err
	}
	if rule.ConfidenceBP, err = requiredInt(v, "confidence_bp"); err != nil {
		return nil, err
	}

	// requires_human_action defaults to false
	rhVal := v.LookupPath(cue.ParsePath("requires_human_action"))
	if rhVal.Exists() {
		rh, err := rhVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rule.RequiresHumanAction = rh
	}

	// Requirements: require: { <signal_type>: <min abnormal count> }
	// Field order in the CUE source is the declaration order.
	reqVal := v.LookupPath(cue.ParsePath("require"))
	if !reqVal.Exists() {
		return nil, &CompileError{
			Field:   "require",
			Message: "at least one signal requirement is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := reqVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		st, err := fact.ParseSignalType(iter.Label())
		if err != nil {
			return nil, &CompileError{
				Field:   "require",
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		count, err := iter.Value().Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rule.Requirements = append(rule.Requirements, Requirement{
			SignalType:  st,
			MinAbnormal: count,
		})
	}

	// Weights are optional; missing types fall back to an even split.
	weightVal := v.LookupPath(cue.ParsePath("weight"))
	if weightVal.Exists() {
		rule.WeightsBP = make(map[fact.SignalType]int64)
		wIter, err := weightVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for wIter.Next() {
			st, err := fact.ParseSignalType(wIter.Label())
			if err != nil {
				return nil, &CompileError{
					Field:   "weight",
					Message: err.Error(),
					Pos:     wIter.Value().Pos(),
				}
			}
			w, err := wIter.Value().Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.WeightsBP[st] = w
		}
	}

	id, err := fact.RuleVersionID(rule.Definition())
	if err != nil {
		return nil, fmt.Errorf("compute rule id for %s: %w", rule.Name, err)
	}
	rule.ID = id

	return rule, nil
}

// CompileTrajectoryRuleSet parses a CUE value into a TrajectoryRuleSet.
// The rule set id is computed content-addressed from the definition.
func CompileTrajectoryRuleSet(v cue.Value) (*TrajectoryRuleSet, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	set := &TrajectoryRuleSet{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		set.Name = labels[len(labels)-1].String()
	}

	var err error
	if set.MinDataPoints, err = requiredInt(v, "min_data_points"); err != nil {
		return nil, err
	}
	if set.LookbackHours, err = requiredInt(v, "lookback_hours"); err != nil {
		return nil, err
	}

	// Risk types: risk: { <name>: { signals: [...] } }
	riskVal := v.LookupPath(cue.ParsePath("risk"))
	if !riskVal.Exists() {
		return nil, &CompileError{
			Field:   "risk",
			Message: "at least one risk type is required",
			Pos:     v.Pos(),
		}
	}
	rIter, err := riskVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for rIter.Next() {
		rt := RiskType{Name: rIter.Label()}
		sigVal := rIter.Value().LookupPath(cue.ParsePath("signals"))
		if !sigVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("risk.%s.signals", rt.Name),
				Message: "signals list is required",
				Pos:     rIter.Value().Pos(),
			}
		}
		sIter, err := sigVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for sIter.Next() {
			s, err := sIter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			st, err := fact.ParseSignalType(s)
			if err != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("risk.%s.signals", rt.Name),
					Message: err.Error(),
					Pos:     sIter.Value().Pos(),
				}
			}
			rt.Signals = append(rt.Signals, st)
		}
		set.RiskTypes = append(set.RiskTypes, rt)
	}

	// Level ladder: levels: [{level: "...", min_daily_milli: N}, ...]
	levelsVal := v.LookupPath(cue.ParsePath("levels"))
	if !levelsVal.Exists() {
		return nil, &CompileError{
			Field:   "levels",
			Message: "level ladder is required",
			Pos:     v.Pos(),
		}
	}
	lIter, err := levelsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for lIter.Next() {
		lv := lIter.Value()
		level, err := lv.LookupPath(cue.ParsePath("level")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		minDaily, err := lv.LookupPath(cue.ParsePath("min_daily_milli")).Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		set.Levels = append(set.Levels, LevelBoundary{
			Level:         level,
			MinDailyMilli: minDaily,
		})
	}

	// Confidence weights
	cwVal := v.LookupPath(cue.ParsePath("confidence"))
	if !cwVal.Exists() {
		return nil, &CompileError{
			Field:   "confidence",
			Message: "confidence factor weights are required",
			Pos:     v.Pos(),
		}
	}
	if set.ConfidenceWeights.DataPointsBP, err = requiredInt(cwVal, "data_points_bp"); err != nil {
		return nil, err
	}
	if set.ConfidenceWeights.ConsistencyBP, err = requiredInt(cwVal, "consistency_bp"); err != nil {
		return nil, err
	}
	if set.ConfidenceWeights.RecencyBP, err = requiredInt(cwVal, "recency_bp"); err != nil {
		return nil, err
	}

	id, err := fact.RuleVersionID(set.Definition())
	if err != nil {
		return nil, fmt.Errorf("compute rule set id for %s: %w", set.Name, err)
	}
	set.ID = id

	return set, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

// CompileError represents a rule compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
