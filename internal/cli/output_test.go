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

func TestExitError(t *testing.T) {
	err := NewExitError(ExitFailure, "verification failed")
	assert.Equal(t, "verification failed", err.Error())
	assert.Equal(t, ExitFailure, GetExitCode(err))

	wrapped := WrapExitError(ExitCommandError, "reading input", errors.New("no such file"))
	assert.Equal(t, "reading input: no such file", wrapped.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "no such file", errors.Unwrap(wrapped).Error())

	// Double-wrapped errors still surface the code.
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", wrapped)))

	// Non-ExitErrors default to failure.
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.JSON(map[string]int{"comparisons": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestFormatterError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error(ErrCodeParse, "line 3: malformed comparison", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParse, resp.Error.Code)

	buf.Reset()
	f = &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Error(ErrCodeParse, "line 3: malformed comparison", nil))
	assert.Contains(t, buf.String(), "Error [PARSE]: line 3: malformed comparison")
}

func TestVerboseLogGoesToErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.VerboseLog("parsed %d function(s)", 2)
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")
	assert.Equal(t, "parsed 2 function(s)\n", errOut.String())

	f.Verbose = false
	errOut.Reset()
	f.VerboseLog("quiet")
	assert.Empty(t, errOut.String())
}
