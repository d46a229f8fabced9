package rules

import "fmt"

// Validate checks catalog-level invariants that the CUE schema cannot
// express on its own. Returns one error per violation.
func Validate(c *Catalog) []error {
	var errs []error

	seen := make(map[string]bool, len(c.Correlation))
	for _, r := range c.Correlation {
		if seen[r.Name] {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateRule,
				Message: fmt.Sprintf("duplicate rule name %q", r.Name),
			})
		}
		seen[r.Name] = true

		if r.ConfidenceBP < 0 || r.ConfidenceBP > 10000 {
			errs = append(errs, &LoadError{
				Code:    ErrCodeConfidenceRange,
				Message: fmt.Sprintf("rule %q: confidence_bp %d out of range 0-10000", r.Name, r.ConfidenceBP),
			})
		}

		if r.WindowHours <= 0 {
			errs = append(errs, &LoadError{
				Code:    ErrCodeWindowRange,
				Message: fmt.Sprintf("rule %q: window_hours must be positive, got %d", r.Name, r.WindowHours),
			})
		}

		for _, req := range r.Requirements {
			if req.MinAbnormal <= 0 {
				errs = append(errs, &LoadError{
					Code:    ErrCodeWindowRange,
					Message: fmt.Sprintf("rule %q: requirement on %s must be positive, got %d", r.Name, req.SignalType, req.MinAbnormal),
				})
			}
		}
	}

	seenSets := make(map[string]bool, len(c.Trajectory))
	for _, s := range c.Trajectory {
		if seenSets[s.Name] {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateRule,
				Message: fmt.Sprintf("duplicate trajectory set name %q", s.Name),
			})
		}
		seenSets[s.Name] = true

		if s.MinDataPoints <= 0 {
			errs = append(errs, &LoadError{
				Code:    ErrCodeWindowRange,
				Message: fmt.Sprintf("trajectory %q: min_data_points must be positive, got %d", s.Name, s.MinDataPoints),
			})
		}
		if s.LookbackHours <= 0 {
			errs = append(errs, &LoadError{
				Code:    ErrCodeWindowRange,
				Message: fmt.Sprintf("trajectory %q: lookback_hours must be positive, got %d", s.Name, s.LookbackHours),
			})
		}

		// Ladder must be strictly ascending so level lookup is unambiguous.
		for i := 1; i < len(s.Levels); i++ {
			if s.Levels[i].MinDailyMilli <= s.Levels[i-1].MinDailyMilli {
				errs = append(errs, &LoadError{
					Code: ErrCodeLadderOrder,
					Message: fmt.Sprintf("trajectory %q: level %q boundary %d not above previous %d",
						s.Name, s.Levels[i].Level, s.Levels[i].MinDailyMilli, s.Levels[i-1].MinDailyMilli),
				})
			}
		}

		sum := s.ConfidenceWeights.DataPointsBP + s.ConfidenceWeights.ConsistencyBP + s.ConfidenceWeights.RecencyBP
		if sum != 10000 {
			errs = append(errs, &LoadError{
				Code:    ErrCodeWeightSum,
				Message: fmt.Sprintf("trajectory %q: confidence weights sum to %d, want 10000", s.Name, sum),
			})
		}
	}

	return errs
}
