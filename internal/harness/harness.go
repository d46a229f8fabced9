package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/caregraph/sentinel/internal/engine"
	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/gateway"
	"github.com/caregraph/sentinel/internal/policy"
	"github.com/caregraph/sentinel/internal/rules"
	"github.com/caregraph/sentinel/internal/store"
	"github.com/caregraph/sentinel/internal/testutil"
	"github.com/caregraph/sentinel/internal/trajectory"
)

// Result captures everything a scenario produced, in execution order.
type Result struct {
	Submissions []gateway.Result
	Events      []engine.EventOutcome
	Projections []fact.Projection
}

// Run executes a scenario against a fresh store in dir (a temp directory
// in tests). Every id and timestamp is deterministic: uuid generation and
// the wall clock are replaced with sequential stand-ins.
func Run(scenario *Scenario, dir string) (*Result, error) {
	st, err := store.Open(filepath.Join(dir, scenario.Name+".db"))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: open store: %w", scenario.Name, err)
	}
	defer st.Close()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog, loadErrs := rules.LoadCatalog(scenario.rulesDir(), rules.LoadModeFailFast)
	if len(loadErrs) > 0 {
		return nil, fmt.Errorf("scenario %s: catalog: %w", scenario.Name, loadErrs[0])
	}
	if err := st.SaveCatalog(ctx, catalog); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	pol := policy.Default()
	if path := scenario.policyPath(); path != "" {
		if pol, err = policy.Load(path); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
	}

	ids := testutil.NewSequentialIDs("fact")
	normalizer := policy.NewNormalizer(pol).WithIDGenerator(ids.Next)

	gw, err := gateway.New(st, normalizer, logger)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	gw.WithClock(testutil.NewClock(0, 1).Tick)

	result := &Result{}

	for i, sig := range scenario.Signals {
		raw, err := envelopeJSON(sig)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: signal %d: %w", scenario.Name, i, err)
		}
		res, err := gw.Submit(ctx, sig.Key, raw)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: signal %d: %w", scenario.Name, i, err)
		}
		if res.Duplicate != sig.ExpectDuplicate {
			return nil, fmt.Errorf("scenario %s: signal %d: duplicate=%v, want %v",
				scenario.Name, i, res.Duplicate, sig.ExpectDuplicate)
		}
		if sig.ExpectAbnormality != "" && string(res.Abnormality) != sig.ExpectAbnormality {
			return nil, fmt.Errorf("scenario %s: signal %d: abnormality=%s, want %s",
				scenario.Name, i, res.Abnormality, sig.ExpectAbnormality)
		}
		result.Submissions = append(result.Submissions, res)
	}

	eng := engine.New(st, logger)
	projector := trajectoryProjector(st, logger)

	for i, step := range scenario.Correlate {
		outcomes, err := eng.Evaluate(ctx, step.Resident, step.WindowHours, step.At)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: correlate %d: %w", scenario.Name, i, err)
		}
		if err := checkOutcomes(step, outcomes); err != nil {
			return nil, fmt.Errorf("scenario %s: correlate %d: %w", scenario.Name, i, err)
		}
		result.Events = append(result.Events, outcomes...)
	}

	for i, step := range scenario.Project {
		p, err := projector.Project(ctx, step.Resident, step.Risk, step.At)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: project %d: %w", scenario.Name, i, err)
		}
		if err := checkProjection(step, p); err != nil {
			return nil, fmt.Errorf("scenario %s: project %d: %w", scenario.Name, i, err)
		}
		result.Projections = append(result.Projections, p)
	}

	return result, nil
}

// trajectoryProjector builds a projector with deterministic projection ids.
func trajectoryProjector(st *store.Store, logger *slog.Logger) *trajectory.Projector {
	return trajectory.New(st, logger).WithIDGenerator(testutil.NewSequentialIDs("proj").Next)
}

func envelopeJSON(sig SignalStep) ([]byte, error) {
	env := map[string]interface{}{
		"signal_type": sig.SignalType,
		"resident_id": sig.ResidentID,
		"source":      map[string]string{"table": sig.Source.Table, "id": sig.Source.ID},
		"payload":     sig.Payload,
	}
	return json.Marshal(env)
}

func checkOutcomes(step CorrelateStep, outcomes []engine.EventOutcome) error {
	if len(outcomes) != len(step.Expect) {
		return fmt.Errorf("%d event(s) fired, want %d", len(outcomes), len(step.Expect))
	}
	for i, want := range step.Expect {
		got := outcomes[i].Event
		if got.RuleID != want.Rule {
			return fmt.Errorf("event %d: rule %s, want %s", i, got.RuleID, want.Rule)
		}
		if string(got.Severity) != want.Severity {
			return fmt.Errorf("event %d: severity %s, want %s", i, got.Severity, want.Severity)
		}
		if got.ContributingSignals != want.ContributingSignals {
			return fmt.Errorf("event %d: %d contributing signals, want %d",
				i, got.ContributingSignals, want.ContributingSignals)
		}
		if got.ConfidenceBP != want.ConfidenceBP {
			return fmt.Errorf("event %d: confidence %d, want %d", i, got.ConfidenceBP, want.ConfidenceBP)
		}
		if got.RequiresHumanAction != want.RequiresHumanAction {
			return fmt.Errorf("event %d: requires_human_action=%v, want %v",
				i, got.RequiresHumanAction, want.RequiresHumanAction)
		}
		if outcomes[i].Created != want.Created {
			return fmt.Errorf("event %d: created=%v, want %v", i, outcomes[i].Created, want.Created)
		}
	}
	return nil
}

func checkProjection(step ProjectStep, p fact.Projection) error {
	if string(p.DataSufficiency) != step.Expect.Sufficiency {
		return fmt.Errorf("sufficiency %s, want %s", p.DataSufficiency, step.Expect.Sufficiency)
	}
	if step.Expect.CurrentLevel != "" && p.CurrentLevel != step.Expect.CurrentLevel {
		return fmt.Errorf("current level %s, want %s", p.CurrentLevel, step.Expect.CurrentLevel)
	}
	if (p.EscalationHorizonHours != nil) != step.Expect.HasHorizon {
		return fmt.Errorf("has_horizon=%v, want %v", p.EscalationHorizonHours != nil, step.Expect.HasHorizon)
	}
	return nil
}
