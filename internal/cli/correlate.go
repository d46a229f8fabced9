package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/engine"
	"github.com/caregraph/sentinel/internal/store"
)

// CorrelateResult holds correlation output per resident.
type CorrelateResult struct {
	Residents  map[string][]engine.EventOutcome `json:"residents"`
	Created    int                              `json:"created"`
	Suppressed int                              `json:"suppressed"`
}

// NewCorrelateCommand creates the correlate command.
func NewCorrelateCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath, resident string
	var windowHours int64
	var all, derive bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Evaluate correlation rules and emit compound events",
		Long: `Evaluate every active correlation rule for one resident (--resident)
or for every resident with recorded facts (--all).

Re-running against an unchanged window is a no-op: the dedup key
converges on the already-stored event, reported as suppressed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrelate(rootOpts, dbPath, resident, windowHours, all, derive, concurrency, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (required)")
	cmd.Flags().StringVar(&resident, "resident", "", "resident id")
	cmd.Flags().Int64Var(&windowHours, "window", 0, "override rule windows (hours, 0 = per-rule)")
	cmd.Flags().BoolVar(&all, "all", false, "sweep all residents")
	cmd.Flags().BoolVar(&derive, "derive-confidence", false, "derive confidence from evidence instead of the rule constant")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel evaluations with --all")

	return cmd
}

func runCorrelate(opts *RootOptions, dbPath, resident string, windowHours int64, all, derive bool, concurrency int, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if all == (resident != "") {
		return NewExitError(ExitCommandError, "exactly one of --resident or --all is required")
	}

	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	engineOpts := []engine.Option{}
	if derive {
		engineOpts = append(engineOpts, engine.WithDerivedConfidence())
	}
	eng := engine.New(st, opts.Logger(), engineOpts...)

	ctx := cmd.Context()
	now := time.Now().Unix()

	result := CorrelateResult{Residents: map[string][]engine.EventOutcome{}}

	if all {
		result.Residents, err = eng.EvaluateAll(ctx, windowHours, now, concurrency)
	} else {
		var outcomes []engine.EventOutcome
		outcomes, err = eng.Evaluate(ctx, resident, windowHours, now)
		if err == nil {
			result.Residents[resident] = outcomes
		}
	}
	if err != nil {
		if store.IsCode(err, store.ErrCodeResidentNotFound) {
			if outErr := formatter.Error(string(store.ErrCodeResidentNotFound), err.Error(), nil); outErr != nil {
				return outErr
			}
			return NewExitError(ExitFailure, "resident not found")
		}
		return WrapExitError(ExitCommandError, "correlating", err)
	}

	residents := make([]string, 0, len(result.Residents))
	for id := range result.Residents {
		residents = append(residents, id)
	}
	sort.Strings(residents)

	lines := []string{}
	for _, id := range residents {
		for _, o := range result.Residents[id] {
			if o.Created {
				result.Created++
			} else {
				result.Suppressed++
			}
			status := "created"
			if !o.Created {
				status = "suppressed"
			}
			lines = append(lines, fmt.Sprintf("%s: %s [%s] %s (%d signals, confidence %.2f) - %s",
				id, o.Event.RuleID, o.Event.Severity, status,
				o.Event.ContributingSignals, o.Event.Confidence(), o.Event.Reasoning))
		}
	}
	lines = append(lines, fmt.Sprintf("%d event(s) created, %d suppressed", result.Created, result.Suppressed))

	return formatter.SuccessText(result, lines...)
}
