package scorer

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Config bundles the scorer tuning: the protect-vs-skip threshold and the
// feature weights.
type Config struct {
	Threshold int     `json:"threshold"`
	Weights   Weights `json:"weights"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Weights:   DefaultWeights(),
	}
}

// LoadConfig reads and compiles a CUE weight file. Missing fields keep their
// defaults, so a file may override a single weight:
//
//	threshold: 60
//	weights: {
//		param_taint: 40
//	}
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading weight file: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileString(string(data), cue.Filename(path))
	return CompileConfig(v)
}

// CompileConfig parses a CUE value into a Config. Uses the CUE SDK's Go API
// directly (not CLI subprocess). All values must be integers in [0, 100]:
// score arithmetic is integer-only, so float weights are rejected rather
// than silently truncated.
func CompileConfig(v cue.Value) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	if tv := v.LookupPath(cue.ParsePath("threshold")); tv.Exists() {
		n, err := intField("threshold", tv)
		if err != nil {
			return Config{}, err
		}
		cfg.Threshold = n
	}

	wv := v.LookupPath(cue.ParsePath("weights"))
	if !wv.Exists() {
		return cfg, nil
	}
	iter, err := wv.Fields()
	if err != nil {
		return Config{}, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		n, err := intField("weights."+name, iter.Value())
		if err != nil {
			return Config{}, err
		}
		switch name {
		case "fan_out_per_edge":
			cfg.Weights.FanOutPerEdge = n
		case "fan_out_cap":
			cfg.Weights.FanOutCap = n
		case "branch_use":
			cfg.Weights.BranchUse = n
		case "stored_use":
			cfg.Weights.StoredUse = n
		case "depth_per_level":
			cfg.Weights.DepthPerLevel = n
		case "depth_cap":
			cfg.Weights.DepthCap = n
		case "param_taint":
			cfg.Weights.ParamTaint = n
		default:
			return Config{}, &ConfigError{
				Field:   "weights." + name,
				Message: "unknown weight",
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return cfg, nil
}

// intField extracts an integer in [0, MaxScore], rejecting floats outright.
func intField(field string, v cue.Value) (int, error) {
	switch v.IncompleteKind() {
	case cue.IntKind:
	case cue.FloatKind, cue.NumberKind:
		return 0, &ConfigError{
			Field:   field,
			Message: "float weights are forbidden - scores use integer arithmetic",
			Pos:     v.Pos(),
		}
	default:
		return 0, &ConfigError{
			Field:   field,
			Message: fmt.Sprintf("must be an integer, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	n, err := v.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if n < 0 || n > MaxScore {
		return 0, &ConfigError{
			Field:   field,
			Message: fmt.Sprintf("must be in [0, %d], got %d", MaxScore, n),
			Pos:     v.Pos(),
		}
	}
	return int(n), nil
}

// ConfigError represents a weight-file error with source position.
type ConfigError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ConfigError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &ConfigError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
