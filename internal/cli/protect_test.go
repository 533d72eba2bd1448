package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
	"github.com/roach88/faultguard/internal/scorer"
	"github.com/roach88/faultguard/internal/testutil"
	"github.com/roach88/faultguard/internal/transformer"
)

func writeInput(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.ll")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

// expectedProtection runs the library pipeline directly, for comparing
// against what the command wrote.
func expectedProtection(t *testing.T, text string) string {
	t.Helper()
	m, err := parser.Parse(text)
	require.NoError(t, err)
	tr := transformer.New(scorer.NewWeightedStrategy(scorer.DefaultWeights()), scorer.DefaultThreshold)
	_, err = tr.Protect(m)
	require.NoError(t, err)
	return ir.Emit(m)
}

func TestProtectWritesOutputFile(t *testing.T) {
	input := writeInput(t, testutil.AuthModuleText)
	output := filepath.Join(t.TempDir(), "out.ll")

	stdout, _, err := execute("protect", input, "--output", output)
	require.NoError(t, err)

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, expectedProtection(t, testutil.AuthModuleText), string(written))

	assert.Contains(t, stdout, "Protected 1 of 1 comparison(s)")
	assert.Contains(t, stdout, "%cmp (score 100)")
	assert.Contains(t, stdout, output)
}

func TestProtectStdoutIsTheProtectedIR(t *testing.T) {
	input := writeInput(t, testutil.AuthModuleText)

	stdout, stderr, err := execute("protect", input)
	require.NoError(t, err)

	assert.Equal(t, expectedProtection(t, testutil.AuthModuleText), stdout, "stdout must stay pipeable")
	assert.Contains(t, stderr, "Protected 1 of 1 comparison(s)")
}

func TestProtectJSONSummary(t *testing.T) {
	input := writeInput(t, testutil.AuthModuleText)

	stdout, _, err := execute("--format", "json", "protect", input)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)

	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var summary ProtectSummary
	require.NoError(t, json.Unmarshal(payload, &summary))

	assert.Equal(t, []string{"cmp"}, summary.Protected)
	assert.Equal(t, 1, summary.Comparisons)
	assert.Equal(t, scorer.DefaultThreshold, summary.Threshold)
	assert.Equal(t, expectedProtection(t, testutil.AuthModuleText), summary.ProtectedIR)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, "verify_1003", summary.Records[0].VerifyResult)
}

func TestProtectParseErrorExitsWithCommandError(t *testing.T) {
	input := writeInput(t, "define void @f() {\n  %c = icmp eq i32 %a\n  ret void\n}\n")

	stdout, _, err := execute("protect", input)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [PARSE]")
	assert.Contains(t, stdout, "line 2")
}

func TestProtectMissingInputExitsWithCommandError(t *testing.T) {
	_, _, err := execute("protect", filepath.Join(t.TempDir(), "absent.ll"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestProtectWeightFileOverridesThreshold(t *testing.T) {
	input := writeInput(t, testutil.LowScoreModuleText)
	weights := filepath.Join(t.TempDir(), "weights.cue")
	require.NoError(t, os.WriteFile(weights, []byte("threshold: 20\n"), 0644))

	stdout, _, err := execute("protect", input, "--weights", weights)
	require.NoError(t, err)
	assert.Contains(t, stdout, "declare void @fault_handler() noreturn")
	assert.Contains(t, stdout, "%verify_")
}

func TestProtectExplicitThresholdBeatsWeightFile(t *testing.T) {
	input := writeInput(t, testutil.LowScoreModuleText)
	weights := filepath.Join(t.TempDir(), "weights.cue")
	require.NoError(t, os.WriteFile(weights, []byte("threshold: 20\n"), 0644))

	stdout, stderr, err := execute("protect", input, "--weights", weights, "--threshold", "50")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "%verify_")
	assert.Contains(t, stderr, "below-threshold")
}

func TestProtectBadWeightFileExitsWithCommandError(t *testing.T) {
	input := writeInput(t, testutil.AuthModuleText)
	weights := filepath.Join(t.TempDir(), "weights.cue")
	require.NoError(t, os.WriteFile(weights, []byte("weights: { param_taint: 12.5 }\n"), 0644))

	stdout, _, err := execute("protect", input, "--weights", weights)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [WEIGHTS]")
}
