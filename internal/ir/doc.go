// Package ir provides the shared vocabulary for tapwire.
//
// This package contains the statement lifecycle states, the Result record
// produced when a statement matches an event, and the canonical JSON and
// content-addressed identity helpers used by the engine and the store.
//
// ir imports nothing internal. engine, session and store all build on it,
// which keeps ir the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Statement states form a one-way machine ending in StateDestroyed
//   - All JSON tags use snake_case
//   - Result ordering uses the engine's logical seq, never wall-clock time
package ir
