// Package ir provides the structured intermediate representation for faultguard.
//
// This package contains type definitions, the marker-name conventions, the
// central name allocator, and the textual emitter. All other internal packages
// import ir; ir imports nothing internal. This ensures IR remains the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Closed opcode set with an Opaque fallback carrying verbatim text, so the
//     pipeline is best-effort over arbitrary real-world IR
//   - Result names are SSA: defined exactly once per function
//   - A Module is mutated append-only; instructions are never deleted or
//     reordered, only added and rewired
//   - Fresh names come from the NameAllocator, never ad hoc string building
package ir
