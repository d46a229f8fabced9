package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caregraph/sentinel/internal/fact"
	"github.com/caregraph/sentinel/internal/store"
)

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath, subject, reason, actor string
	var expect int64
	var sets []string
	var initState bool

	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Apply a versioned state transition",
		Long: `Apply a versioned state transition to a subject's state record.

--expect carries the version you last read; the transition fails with
VERSION_CONFLICT (exit 1) and the live version when it is stale. Fields
not named in --set keep their current values. Setting every field to its
current value succeeds without bumping the version.

With --init, creates the state record at version 1 instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(rootOpts, transitionArgs{
				dbPath:  dbPath,
				subject: subject,
				expect:  expect,
				sets:    sets,
				reason:  reason,
				actor:   actor,
				init:    initState,
			}, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject id (required)")
	cmd.Flags().Int64Var(&expect, "expect", 0, "expected state version")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (care_state, emergency_state, connectivity_state)")
	cmd.Flags().StringVar(&reason, "reason", "", "transition reason (required unless --init)")
	cmd.Flags().StringVar(&actor, "actor", "", "acting component or operator (required)")
	cmd.Flags().BoolVar(&initState, "init", false, "create the state record at version 1")

	return cmd
}

type transitionArgs struct {
	dbPath  string
	subject string
	expect  int64
	sets    []string
	reason  string
	actor   string
	init    bool
}

func runTransition(opts *RootOptions, args transitionArgs, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if args.subject == "" {
		return NewExitError(ExitCommandError, "--subject is required")
	}
	if args.actor == "" {
		return NewExitError(ExitCommandError, "--actor is required")
	}
	if !args.init && args.reason == "" {
		return NewExitError(ExitCommandError, "--reason is required")
	}

	st, err := openStore(args.dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()

	if args.init {
		fields, err := applySets(fact.StateFields{}, args.sets)
		if err != nil {
			return WrapExitError(ExitCommandError, "parsing --set", err)
		}
		rec, err := st.InitState(ctx, args.subject, fields, args.actor)
		if err != nil {
			return WrapExitError(ExitFailure, "initializing state", err)
		}
		return formatter.SuccessText(rec,
			fmt.Sprintf("initialized %s at version %d", rec.SubjectID, rec.Version))
	}

	current, err := st.GetState(ctx, args.subject)
	if err != nil {
		if store.IsCode(err, store.ErrCodeNotInitialized) {
			if outErr := formatter.Error(string(store.ErrCodeNotInitialized), err.Error(), nil); outErr != nil {
				return outErr
			}
			return NewExitError(ExitFailure, "subject not initialized")
		}
		return WrapExitError(ExitCommandError, "reading state", err)
	}

	fields, err := applySets(current.Fields, args.sets)
	if err != nil {
		return WrapExitError(ExitCommandError, "parsing --set", err)
	}

	rec, err := st.Transition(ctx, args.subject, args.expect, fields, args.reason, args.actor)
	if err != nil {
		if live, ok := store.ConflictVersion(err); ok {
			if outErr := formatter.Error(string(store.ErrCodeVersionConflict), err.Error(),
				map[string]int64{"current_version": live}); outErr != nil {
				return outErr
			}
			return NewExitError(ExitFailure, "version conflict")
		}
		return WrapExitError(ExitCommandError, "applying transition", err)
	}

	return formatter.SuccessText(rec,
		fmt.Sprintf("%s now at version %d (care=%s emergency=%s connectivity=%s)",
			rec.SubjectID, rec.Version,
			rec.Fields.CareState, rec.Fields.EmergencyState, rec.Fields.ConnectivityState))
}

// applySets overlays field=value pairs onto a starting field set.
func applySets(base fact.StateFields, sets []string) (fact.StateFields, error) {
	for _, s := range sets {
		key, value, found := strings.Cut(s, "=")
		if !found {
			return fact.StateFields{}, fmt.Errorf("malformed --set %q, want field=value", s)
		}
		switch key {
		case "care_state":
			base.CareState = value
		case "emergency_state":
			base.EmergencyState = value
		case "connectivity_state":
			base.ConnectivityState = value
		default:
			return fact.StateFields{}, fmt.Errorf("unknown field %q", key)
		}
	}
	return base, nil
}
