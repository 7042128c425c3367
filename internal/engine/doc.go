// Package engine defines the complex-event-processing engine collaborator
// and provides an in-process implementation of it.
//
// The rest of tapwire treats the engine as opaque. Sessions talk to it only
// through the Engine interface: compile a query into a Handle, move the
// handle through its lifecycle, send events, and receive results through
// listeners. Anything that satisfies the interface (an adapter over an
// external CEP product, a fake in tests) can be plugged into a session via
// a Factory.
//
// LOCAL ENGINE:
//
// Local evaluates each query as a boolean expression compiled with
// github.com/expr-lang/expr. An event matches a statement when the
// statement is STARTED and its expression evaluates to true against the
// event's environment:
//
//   - event: the event value itself
//   - every key of a map[string]any event, at top level
//   - every attribute of an Envelope event, at top level
//   - configured variables, at top level and under vars
//
// Queries may also call lookup(value, "a.b") to walk nested maps and struct
// fields, and present(value, "a.b") to test that such a path resolves.
//
// Pattern matching over time windows is out of scope; each event is judged
// on its own.
//
// Evaluation order:
// Statements are evaluated in compile order, and each Result is stamped
// with the next value of the engine's logical Clock. Listeners run after
// the engine lock is released, so a listener may call back into the engine.
//
// Thread-safety model:
//   - SendEvent(): safe from any goroutine, concurrent with other sends
//   - Compile/Start/Stop/Destroy/Close(): safe from any goroutine, serialized
//     internally; callers (sessions) serialize them again at a coarser level
package engine
