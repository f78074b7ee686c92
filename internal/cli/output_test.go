package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/resolve"
)

func TestOutputFormatter_JSONEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		write      func(f *OutputFormatter) error
		wantStatus string
		wantCode   string
		wantDetail bool
	}{
		{
			name:       "success",
			write:      func(f *OutputFormatter) error { return f.Success(EditResult{Time: 100}) },
			wantStatus: "ok",
		},
		{
			name:       "error",
			write:      func(f *OutputFormatter) error { return f.Error("VALIDATION_REJECTED", "commit rejected", nil) },
			wantStatus: "error",
			wantCode:   "VALIDATION_REJECTED",
		},
		{
			name: "error with details",
			write: func(f *OutputFormatter) error {
				return f.Error("COMMAND_ERROR", "invalid edit script", map[string]string{"file": "heart.yaml"})
			},
			wantStatus: "error",
			wantCode:   "COMMAND_ERROR",
			wantDetail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, tt.write(&OutputFormatter{Format: "json", Writer: buf}))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantCode == "" {
				assert.Nil(t, resp.Error)
				assert.NotNil(t, resp.Data)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantDetail, resp.Error.Details != nil)
		})
	}
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("Committed 2 components"))
	require.NoError(t, f.Error("COMMAND_ERROR", "unknown ref", map[string]string{"ref": "heart"}))
	assert.Equal(t, "Committed 2 components\nError [COMMAND_ERROR]: unknown ref\n", buf.String())

	buf.Reset()
	f.Verbose = true
	require.NoError(t, f.Error("COMMAND_ERROR", "unknown ref", "ref:heart"))
	assert.Contains(t, buf.String(), "Details: ref:heart")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	for _, verbose := range []bool{true, false} {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf, Verbose: verbose}

		f.VerboseLog("replayed %s", "module-2.changeset")
		if verbose {
			assert.Equal(t, "replayed module-2.changeset\n", buf.String())
		} else {
			assert.Empty(t, buf.String())
		}
	}
}
func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("replayed %d records", 3)
	assert.Empty(t, out.String())
	assert.Equal(t, "replayed 3 records\n", diag.String())
}

func TestOutputFormatter_PrintfSilentInJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	formatter.Printf("Committed %d\n", 1)
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	err := WrapEngineError("commit rejected", &engine.ValidationError{
		Code:    engine.ErrCodeValidationRejected,
		Checker: "schema",
		Nids:    []int{1},
		Err:     errors.New("required field missing"),
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: buf}
		require.Same(t, err, formatter.Fail(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "VALIDATION_REJECTED", resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "commit rejected")
	})

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		require.Same(t, err, formatter.Fail(err))
		assert.Empty(t, buf.String())
	})
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"command", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "bad flag")), ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestWrapEngineError(t *testing.T) {
	validation := &engine.ValidationError{Code: engine.ErrCodeValidationRejected, Checker: "reference", Err: errors.New("dangling")}
	contradiction := &resolve.ContradictionError{Code: resolve.ErrCodeContradiction, Nid: 4, Err: errors.New("2 candidates")}

	tests := []struct {
		name     string
		err      error
		wantExit int
		wantCode string
	}{
		{"validation", validation, ExitFailure, "VALIDATION_REJECTED"},
		{"contradiction", contradiction, ExitFailure, "CONTRADICTION"},
		{"wrapped validation", fmt.Errorf("commit: %w", validation), ExitFailure, "VALIDATION_REJECTED"},
		{"other", engine.ErrEngineClosed, ExitCommandError, "COMMAND_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapEngineError("failed", tt.err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.Equal(t, tt.wantCode, ErrorCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestErrorCode_PathError(t *testing.T) {
	err := WrapExitError(ExitCommandError, "failed to define paths", &path.ConfigurationError{
		Code:    path.ErrCodeDuplicatePath,
		Message: "path 1 is \"main\", not \"trunk\"",
	})
	assert.Equal(t, "DUPLICATE_PATH", ErrorCode(err))
	assert.Equal(t, "FAILURE", ErrorCode(errors.New("boom")))
}
