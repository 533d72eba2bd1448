package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenarioResolvesInputRelatively(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/auth_gate.yaml")
	require.NoError(t, err)

	assert.Equal(t, "auth_gate", s.Name)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "..", "input", "auth.ll"), s.InputPath())
	_, err = os.Stat(s.InputPath())
	assert.NoError(t, err)
}

func TestLoadScenarioValidation(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		wantPart string
	}{
		{"missing name", "input: x.ll\n", "name is required"},
		{"missing input", "name: x\n", "input is required"},
		{"invalid yaml", "name: [unclosed\n", "parsing scenario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, dir, "s.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantPart)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading scenario")
}

func TestLoadScenariosSortsByFileName(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", "name: second\ninput: x.ll\n")
	writeScenario(t, dir, "a.yaml", "name: first\ninput: x.ll\n")

	scenarios, err := LoadScenarios(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
}

func TestLoadScenariosEmptyDir(t *testing.T) {
	_, err := LoadScenarios(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}
