package ir

import "strings"

// Marker-name conventions shared by the transformer, the parser, and the
// survival verifier. The names are part of the tool's external contract: the
// verifier recognizes protection in post-optimization text by these markers,
// and the parser re-derives the synthetic flag from them so that re-ingesting
// protected output never re-protects the protections.
const (
	// DupPrefix names duplicated (shadow) computations: %dup_1000.
	DupPrefix = "dup_"

	// VerifyPrefix names verification compares: %verify_1001.
	VerifyPrefix = "verify_"

	// SafeBlockPrefix labels blocks holding the original terminator: safe_100.
	SafeBlockPrefix = "safe_"

	// FaultBlockPrefix labels fault-trap blocks: fault_100.
	FaultBlockPrefix = "fault_"

	// FaultHandler is the non-returning symbol called on a detected mismatch.
	FaultHandler = "fault_handler"

	// FaultHandlerDecl is the declaration inserted once per protected module.
	FaultHandlerDecl = "declare void @fault_handler() noreturn"
)

// SyntheticResult reports whether a result name follows the transformer's
// marker conventions.
func SyntheticResult(name string) bool {
	return strings.HasPrefix(name, DupPrefix) || strings.HasPrefix(name, VerifyPrefix)
}

// SyntheticLabel reports whether a block label follows the transformer's
// marker conventions.
func SyntheticLabel(label string) bool {
	return strings.HasPrefix(label, SafeBlockPrefix) || strings.HasPrefix(label, FaultBlockPrefix)
}
