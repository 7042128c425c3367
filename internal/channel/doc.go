// Package channel provides the named message channels that wire-taps attach to.
//
// A Channel carries Messages through an ordered list of Interceptors and
// then to its subscribers. Channels are created through a Registry, which
// runs CreateHooks (such as binder.Binder.Bind) synchronously after each
// channel is constructed and before it becomes visible.
package channel
