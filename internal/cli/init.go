package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/rules"
)

// InitResult holds init output.
type InitResult struct {
	Database         string `json:"database"`
	CorrelationRules int    `json:"correlation_rules"`
	TrajectorySets   int    `json:"trajectory_sets"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath, rulesDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and seed the rule catalog",
		Long: `Create (or migrate) the database and optionally seed the rule catalog
from a directory of CUE files.

Idempotent: running init against an existing database applies pending
migrations and reloads the catalog. Unchanged rules keep their version
ids; changed rules get new versions and become active.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, dbPath, rulesDir, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (required)")
	cmd.Flags().StringVar(&rulesDir, "rules", "", "rule catalog directory (CUE files)")

	return cmd
}

func runInit(opts *RootOptions, dbPath, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	result := InitResult{Database: dbPath}

	if rulesDir != "" {
		catalog, loadErrs := rules.LoadCatalog(rulesDir, rules.LoadModeCollectAll)
		if len(loadErrs) > 0 {
			details := make([]string, len(loadErrs))
			for i, e := range loadErrs {
				details[i] = e.Error()
			}
			if err := formatter.Error(rules.ErrCodeGeneric, "rule catalog failed to load", details); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "rule catalog failed to load")
		}

		if err := st.SaveCatalog(cmd.Context(), catalog); err != nil {
			return WrapExitError(ExitCommandError, "saving rule catalog", err)
		}
		result.CorrelationRules = len(catalog.Correlation)
		result.TrajectorySets = len(catalog.Trajectory)
		formatter.VerboseLog("Loaded %d correlation rule(s), %d trajectory set(s) from %s",
			result.CorrelationRules, result.TrajectorySets, rulesDir)
	}

	return formatter.SuccessText(result,
		fmt.Sprintf("Initialized %s (%d correlation rules, %d trajectory sets)",
			dbPath, result.CorrelationRules, result.TrajectorySets))
}
