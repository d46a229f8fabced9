package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_Codes(t *testing.T) {
	plain := NewExitError(ExitCommandError, "--db is required")
	assert.Equal(t, ExitCommandError, GetExitCode(plain))
	assert.Equal(t, "--db is required", plain.Error())

	wrapped := WrapExitError(ExitFailure, "applying transition", errors.New("boom"))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "applying transition: boom", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")

	// Errors without an exit code default to failure.
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("unadorned")))
}

func TestExitError_UnwrapThroughWrapping(t *testing.T) {
	inner := NewExitError(ExitCommandError, "missing database")
	outer := fmt.Errorf("running command: %w", inner)
	assert.Equal(t, ExitCommandError, GetExitCode(outer))
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"fact_id": "fact-0001"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("VERSION_CONFLICT", "state version is stale", map[string]int64{"current_version": 4})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VERSION_CONFLICT", resp.Error.Code)
	assert.Equal(t, "state version is stale", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("resident-1 now at version 2")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "resident-1 now at version 2")
}

func TestOutputFormatter_SuccessText(t *testing.T) {
	data := map[string]string{"subject_id": "resident-1"}

	// Text mode renders the lines and drops the structured payload.
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	err := formatter.SuccessText(data, "line one", "line two")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", buf.String())

	// JSON mode renders the payload and drops the lines.
	buf.Reset()
	formatter.Format = "json"
	err = formatter.SuccessText(data, "line one", "line two")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotContains(t, buf.String(), "line one")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("R105", "weights must sum to 10000", map[string]int64{"sum": 11000})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [R105]")
	assert.Contains(t, buf.String(), "weights must sum to 10000")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("R105", "weights must sum to 10000", map[string]int64{"sum": 11000})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [R105]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("evaluating %s", "resident-1")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "evaluating resident-1")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	formatter.VerboseLog("loaded %d rules", 3)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "loaded 3 rules")
}
