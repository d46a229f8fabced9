package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/store"
	"github.com/caregraph/sentinel/internal/trajectory"
)

// NewProjectCommand creates the project command.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath, resident, risk string

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Compute a risk trajectory projection",
		Long: `Compute and persist a risk projection for one resident and risk type
under the active trajectory rule set.

Sparse data yields an INSUFFICIENT projection with no escalation
horizon rather than a guess.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(rootOpts, dbPath, resident, risk, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (required)")
	cmd.Flags().StringVar(&resident, "resident", "", "resident id (required)")
	cmd.Flags().StringVar(&risk, "risk", "", "risk type (required)")

	return cmd
}

func runProject(opts *RootOptions, dbPath, resident, risk string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if resident == "" || risk == "" {
		return NewExitError(ExitCommandError, "--resident and --risk are required")
	}

	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	proj := trajectory.New(st, opts.Logger())
	p, err := proj.Project(cmd.Context(), resident, risk, time.Now().Unix())
	if err != nil {
		if store.IsCode(err, store.ErrCodeResidentNotFound) || store.IsCode(err, store.ErrCodeRuleNotFound) {
			if outErr := formatter.Error(errCode(err), err.Error(), nil); outErr != nil {
				return outErr
			}
			return NewExitError(ExitFailure, "projection unavailable")
		}
		return WrapExitError(ExitCommandError, "projecting", err)
	}

	return formatter.SuccessText(p, renderProjection(p)...)
}

func renderProjection(p fact.Projection) []string {
	lines := []string{
		fmt.Sprintf("%s / %s: level %s, velocity %+.3f/day, confidence %.2f (%s, %d data points)",
			p.ResidentID, p.RiskType, p.CurrentLevel,
			float64(p.VelocityMilliPerDay)/1000, p.Confidence(),
			p.DataSufficiency, p.DataPoints),
	}
	if p.EscalationHorizonHours != nil {
		lines = append(lines, fmt.Sprintf("  projected %s in ~%dh (held %dh at current level)",
			p.ProjectedNextLevel, *p.EscalationHorizonHours, p.PersistenceHours))
	} else {
		lines = append(lines, fmt.Sprintf("  no escalation projected (held %dh at current level)",
			p.PersistenceHours))
	}
	return lines
}

// errCode extracts the structured code from a core error for output.
func errCode(err error) string {
	for _, code := range []store.ErrorCode{
		store.ErrCodeResidentNotFound,
		store.ErrCodeRuleNotFound,
		store.ErrCodeNotInitialized,
		store.ErrCodeVersionConflict,
	} {
		if store.IsCode(err, code) {
			return string(code)
		}
	}
	return "E001"
}
