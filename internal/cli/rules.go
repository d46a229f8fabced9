package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/rules"
)

// RulesValidationResult holds rules validate output.
type RulesValidationResult struct {
	Valid            bool     `json:"valid"`
	CorrelationRules int      `json:"correlation_rules"`
	TrajectorySets   int      `json:"trajectory_sets"`
	Errors           []string `json:"errors,omitempty"`
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate rule catalogs",
	}

	cmd.AddCommand(newRulesValidateCommand(rootOpts))
	cmd.AddCommand(newRulesShowCommand(rootOpts))

	return cmd
}

func newRulesValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule catalog directory",
		Long: `Compile and validate every CUE file in a rule catalog directory
without touching a database. Collects all errors; invalid catalogs
exit 1.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesValidate(rootOpts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "rule catalog directory (required)")

	return cmd
}

func runRulesValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if dir == "" {
		return NewExitError(ExitCommandError, "--dir is required")
	}

	catalog, loadErrs := rules.LoadCatalog(dir, rules.LoadModeCollectAll)

	result := RulesValidationResult{Valid: len(loadErrs) == 0}
	if catalog != nil {
		result.CorrelationRules = len(catalog.Correlation)
		result.TrajectorySets = len(catalog.Trajectory)
	}
	for _, e := range loadErrs {
		result.Errors = append(result.Errors, e.Error())
	}

	if !result.Valid {
		if err := formatter.Error(rules.ErrCodeGeneric, "catalog validation failed", result.Errors); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "catalog validation failed")
	}

	return formatter.SuccessText(result,
		fmt.Sprintf("valid: %d correlation rule(s), %d trajectory set(s)",
			result.CorrelationRules, result.TrajectorySets))
}

func newRulesShowCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Show a rule catalog with computed version ids",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesShow(rootOpts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "rule catalog directory (required)")

	return cmd
}

func runRulesShow(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if dir == "" {
		return NewExitError(ExitCommandError, "--dir is required")
	}

	catalog, loadErrs := rules.LoadCatalog(dir, rules.LoadModeFailFast)
	if len(loadErrs) > 0 {
		if err := formatter.Error(rules.ErrCodeGeneric, loadErrs[0].Error(), nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "catalog failed to load")
	}

	lines := []string{}
	for _, r := range catalog.Correlation {
		lines = append(lines, fmt.Sprintf("rule %s [%s/%s] window %dh confidence %.2f  version %s",
			r.Name, r.CorrelationType, r.Severity, r.WindowHours,
			float64(r.ConfidenceBP)/10000, shortID(r.ID)))
		for _, req := range r.Requirements {
			lines = append(lines, fmt.Sprintf("  requires >=%d abnormal %s", req.MinAbnormal, req.SignalType))
		}
	}
	for _, ts := range catalog.Trajectory {
		lines = append(lines, fmt.Sprintf("trajectory %s lookback %dh min_points %d  version %s",
			ts.Name, ts.LookbackHours, ts.MinDataPoints, shortID(ts.ID)))
		for _, rt := range ts.RiskTypes {
			lines = append(lines, fmt.Sprintf("  risk %s over %v", rt.Name, rt.Signals))
		}
	}

	return formatter.SuccessText(catalog, lines...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
