package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/store"
)

// HistoryResult holds the transition log plus the audit verdict.
type HistoryResult struct {
	Subject     string                 `json:"subject"`
	Version     int64                  `json:"version"`
	Transitions []fact.StateTransition `json:"transitions"`
	Verified    *bool                  `json:"verified,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath, subject string
	var verify bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a subject's state transition history",
		Long: `Show the immutable transition history for a subject, oldest first.

With --verify, also checks the audit chain: gapless versions, each
before-snapshot matching the prior after-snapshot, and the final
snapshot matching the live record. A broken chain exits 1.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, dbPath, subject, verify, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject id (required)")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the audit chain")

	return cmd
}

func runHistory(opts *RootOptions, dbPath, subject string, verify bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if subject == "" {
		return NewExitError(ExitCommandError, "--subject is required")
	}

	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()

	rec, err := st.GetState(ctx, subject)
	if err != nil {
		if store.IsCode(err, store.ErrCodeNotInitialized) {
			if outErr := formatter.Error(string(store.ErrCodeNotInitialized), err.Error(), nil); outErr != nil {
				return outErr
			}
			return NewExitError(ExitFailure, "subject not initialized")
		}
		return WrapExitError(ExitCommandError, "reading state", err)
	}

	history, err := st.StateHistory(ctx, subject)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading history", err)
	}

	result := HistoryResult{Subject: subject, Version: rec.Version, Transitions: history}

	lines := []string{fmt.Sprintf("%s at version %d, %d transition(s)", subject, rec.Version, len(history))}
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("  v%d -> v%d  %s  %s  by %s: %s",
			t.FromVersion, t.ToVersion,
			time.Unix(t.Timestamp, 0).UTC().Format(time.RFC3339),
			describeChange(t.Before, t.After), t.Actor, t.Reason))
	}

	if verify {
		if err := st.VerifyHistory(ctx, subject); err != nil {
			verified := false
			result.Verified = &verified
			if outErr := formatter.Error("AUDIT_CHAIN_BROKEN", err.Error(), result); outErr != nil {
				return outErr
			}
			return NewExitError(ExitFailure, "audit chain broken")
		}
		verified := true
		result.Verified = &verified
		lines = append(lines, "audit chain verified")
	}

	return formatter.SuccessText(result, lines...)
}

// describeChange renders the changed fields compactly.
func describeChange(before, after fact.StateFields) string {
	changes := []string{}
	if before.CareState != after.CareState {
		changes = append(changes, fmt.Sprintf("care %s->%s", before.CareState, after.CareState))
	}
	if before.EmergencyState != after.EmergencyState {
		changes = append(changes, fmt.Sprintf("emergency %s->%s", before.EmergencyState, after.EmergencyState))
	}
	if before.ConnectivityState != after.ConnectivityState {
		changes = append(changes, fmt.Sprintf("connectivity %s->%s", before.ConnectivityState, after.ConnectivityState))
	}
	if len(changes) == 0 {
		return "(no field changes)"
	}
	out := changes[0]
	for _, c := range changes[1:] {
		out += ", " + c
	}
	return out
}
