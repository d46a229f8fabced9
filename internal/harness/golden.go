package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/caregraph/sentinel/internal/fact"
)

// ReasoningSnapshot is the golden-file form of a scenario run: the
// reasoning trace of every event plus the projection summaries, all in
// canonical JSON so comparison is byte-stable.
type ReasoningSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonical converts the snapshot to the canonical value model.
// Everything persisted is already float-free, so the conversion is direct.
func (s *ReasoningSnapshot) toCanonical() fact.Object {
	events := make(fact.Array, len(s.Result.Events))
	for i, outcome := range s.Result.Events {
		ev := outcome.Event
		events[i] = fact.Object{
			"rule":                 fact.Str(ev.RuleID),
			"severity":             fact.Str(ev.Severity),
			"confidence_bp":        fact.Int(ev.ConfidenceBP),
			"contributing_signals": fact.Int(ev.ContributingSignals),
			"reasoning":            fact.Str(ev.Reasoning),
			"reasoning_detail":     ev.ReasoningDetail,
			"created":              fact.Bool(outcome.Created),
		}
	}

	projections := make(fact.Array, len(s.Result.Projections))
	for i, p := range s.Result.Projections {
		obj := fact.Object{
			"risk_type":              fact.Str(p.RiskType),
			"current_level":          fact.Str(p.CurrentLevel),
			"velocity_milli_per_day": fact.Int(p.VelocityMilliPerDay),
			"confidence_bp":          fact.Int(p.ConfidenceBP),
			"data_sufficiency":       fact.Str(p.DataSufficiency),
			"data_points":            fact.Int(p.DataPoints),
		}
		if p.EscalationHorizonHours != nil {
			obj["escalation_horizon_hours"] = fact.Int(*p.EscalationHorizonHours)
		}
		projections[i] = obj
	}

	return fact.Object{
		"scenario":    fact.Str(s.ScenarioName),
		"events":      events,
		"projections": projections,
	}
}

// RunWithGolden executes a scenario and compares its reasoning trace
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario, t.TempDir())
	if err != nil {
		return err
	}

	snapshot := ReasoningSnapshot{ScenarioName: scenario.Name, Result: result}
	data, err := fact.MarshalCanonical(snapshot.toCanonical())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return nil
}
