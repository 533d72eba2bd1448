package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares the protected output
// against a golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files are the source of truth for the exact protected emission:
// name allocation order, block placement, and layout are all pinned.
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()

	res, err := Run(s)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, []byte(res.Output))
	return res, nil
}
