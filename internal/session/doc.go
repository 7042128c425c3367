// Package session implements the statement registry and the engine session
// manager.
//
// A Session owns exactly one engine and the set of statements registered
// against it. It is created explicitly by its owner and passed to whatever
// needs it; there is no process-wide lookup by name.
//
// LIFECYCLE:
//
//	UNINITIALIZED --Initialize()--> INITIALIZED --Cleanup()--> CLOSED
//	      |                              ^
//	      +--Initialize() fails--> FAILED (unusable, never retried)
//
// Statements added before Initialize stay UNASSOCIATED until it runs; those
// added afterwards are compiled immediately.
//
// CONCURRENCY:
//
// Every lifecycle operation (AddStatement, StartStatement, StopStatement,
// DestroyStatement, Initialize, Cleanup) runs under one mutex per session.
// The engine's administrative API is not assumed to be safe on its own, and
// statement churn is rare compared to event traffic, so one coarse lock is
// enough.
//
// SendEvent does not take that lock. The live engine is published through
// an atomic pointer only after Initialize has fully succeeded, so a sender
// racing Initialize observes either no engine (and gets a configuration
// error) or a completely initialized one.
package session
