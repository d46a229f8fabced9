package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during catalog loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError represents an error that occurred during catalog loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants for catalog loading and validation.
const (
	ErrCodeGeneric     = "R001" // Generic/unknown error
	ErrCodeScanError   = "R002" // Directory scan error
	ErrCodeNoFiles     = "R003" // No CUE files found
	ErrCodeLoadFailed  = "R004" // CUE load failed
	ErrCodeNotFound    = "R005" // Path not found
	ErrCodeBuildFailed = "R006" // CUE build failed

	// Catalog validation errors
	ErrCodeConfidenceRange = "R101" // Confidence out of 0-10000
	ErrCodeWindowRange     = "R102" // Non-positive window
	ErrCodeDuplicateRule   = "R103" // Duplicate rule name
	ErrCodeLadderOrder     = "R104" // Level ladder not ascending
	ErrCodeWeightSum       = "R105" // Confidence weights don't sum to 10000
	ErrCodeEmptyCatalog    = "R106" // No rules found
)

// LoadCatalog loads and compiles all rule CUE files from a directory.
// Correlation rules live under the top-level "rule" field, trajectory
// rule sets under "trajectory". Both are compiled in declaration order.
func LoadCatalog(dir string, mode LoadMode) (*Catalog, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rule directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rule directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	catalog := &Catalog{}

	// Correlation rules
	rulesVal := value.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, iterErr := rulesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", iterErr)})
			if mode == LoadModeFailFast {
				return catalog, errs
			}
		} else {
			for iter.Next() {
				rule, compileErr := CompileCorrelationRule(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "rule."+iter.Label()))
					if mode == LoadModeFailFast {
						return catalog, errs
					}
					continue
				}
				catalog.Correlation = append(catalog.Correlation, *rule)
			}
		}
	}

	// Trajectory rule sets
	trajVal := value.LookupPath(cue.ParsePath("trajectory"))
	if trajVal.Exists() {
		iter, iterErr := trajVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating trajectory sets: %v", iterErr)})
			if mode == LoadModeFailFast {
				return catalog, errs
			}
		} else {
			for iter.Next() {
				set, compileErr := CompileTrajectoryRuleSet(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "trajectory."+iter.Label()))
					if mode == LoadModeFailFast {
						return catalog, errs
					}
					continue
				}
				catalog.Trajectory = append(catalog.Trajectory, *set)
			}
		}
	}

	if len(catalog.Correlation) == 0 && len(catalog.Trajectory) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeEmptyCatalog, Message: "no rules or trajectory sets found"})
	}

	if len(errs) == 0 {
		errs = append(errs, Validate(catalog)...)
	}

	return catalog, errs
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a CompileError to a LoadError with position.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeGeneric,
			Message: compileErr.Field + ": " + compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
