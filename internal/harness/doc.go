// Package harness runs end-to-end pipeline scenarios for testing.
//
// A scenario is a YAML file naming an input IR fixture, a threshold, and the
// expected protection outcome (which comparisons are protected, which are
// skipped and why). The harness runs parse -> score -> transform -> emit and
// checks the outcome; golden files pin the exact protected output so any
// drift in emission or transformation order fails loudly.
package harness
