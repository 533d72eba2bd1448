// Package store provides the optional SQLite audit log for faultguard runs.
//
// The pipeline itself is stateless between invocations; the audit log exists
// so that protection decisions (which comparisons were protected, which were
// skipped and why, what each scored) and verification verdicts are
// reviewable after the fact. It is opt-in via the --audit-db flag and never
// influences pass behavior.
package store
