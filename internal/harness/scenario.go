package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end pipeline test.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Input is the IR fixture path, relative to the scenario file.
	Input string `yaml:"input"`

	// Threshold is the protect-vs-skip boundary; scorer default when 0.
	Threshold int `yaml:"threshold,omitempty"`

	// Expect describes the required protection outcome.
	Expect Expectations `yaml:"expect"`

	// dir is the scenario file's directory, for resolving Input.
	dir string
}

// Expectations describe the required outcome of a protection pass.
type Expectations struct {
	// Protected lists the result names of comparisons that must be
	// protected, in module order.
	Protected []string `yaml:"protected,omitempty"`

	// Skipped maps comparison result names to required skip reasons.
	Skipped map[string]string `yaml:"skipped,omitempty"`

	// OverheadPct, when nonzero, is the exact instruction-count overhead
	// the protected output must show.
	OverheadPct float64 `yaml:"overhead_pct,omitempty"`
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if s.Input == "" {
		return nil, fmt.Errorf("scenario %s: input is required", path)
	}
	s.dir = filepath.Dir(path)
	return &s, nil
}

// LoadScenarios reads every *.yaml scenario in a directory, sorted by file
// name for deterministic test order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	var scenarios []*Scenario
	for _, path := range matches {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// InputPath resolves the scenario's input fixture path.
func (s *Scenario) InputPath() string {
	return filepath.Join(s.dir, s.Input)
}
