package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/gateway"
	"github.com/caregraph/sentinel/internal/policy"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath, key, file, policyPath string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit a signal through the idempotent gateway",
		Long: `Submit one signal envelope through the gateway.

The envelope is JSON: {"signal_type": ..., "resident_id": ..., "payload": {...}}
read from --file or stdin with --file -. With --key, resubmitting the
same key returns the original result and performs no side effects.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, dbPath, key, file, policyPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (required)")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key")
	cmd.Flags().StringVar(&file, "file", "-", "envelope file path, or - for stdin")
	cmd.Flags().StringVar(&policyPath, "policy", "", "abnormality policy YAML (default: built-in policy)")

	return cmd
}

func runIngest(opts *RootOptions, dbPath, key, file, policyPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	raw, err := readInput(file, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "reading envelope", err)
	}

	pol, err := loadPolicy(policyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading policy", err)
	}

	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	gw, err := gateway.New(st, policy.NewNormalizer(pol), opts.Logger())
	if err != nil {
		return WrapExitError(ExitCommandError, "building gateway", err)
	}

	result, err := gw.Submit(cmd.Context(), key, raw)
	if err != nil {
		if outErr := formatter.Error("INVALID_SUBMISSION", err.Error(), nil); outErr != nil {
			return outErr
		}
		return NewExitError(ExitFailure, "submission rejected")
	}

	status := "created"
	if result.Duplicate {
		status = "duplicate"
	}
	return formatter.SuccessText(result,
		fmt.Sprintf("%s: fact %s (%s)", status, result.FactID, result.Abnormality))
}

func readInput(file string, stdin io.Reader) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func loadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Default(), nil
	}
	return policy.Load(path)
}
