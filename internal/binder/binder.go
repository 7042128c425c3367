// Package binder attaches interceptors to channels by name pattern.
//
// Each Binding pairs a regular expression with an interceptor. When a
// channel is bound, every binding whose pattern matches the whole channel
// name contributes its interceptor, in declaration order.
package binder

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"

	"github.com/roach88/tapwire/internal/channel"
)

// ErrUnnamedChannel is returned by Bind for a channel with an empty name.
var ErrUnnamedChannel = errors.New("channel has no name")

// Binding pairs a channel-name pattern with an interceptor.
type Binding struct {
	// Pattern must match the entire channel name.
	Pattern string

	Interceptor channel.Interceptor
}

type compiled struct {
	pattern     string
	re          *regexp.Regexp
	interceptor channel.Interceptor
}

// Binder holds compiled bindings. It is immutable after New and safe for
// concurrent use.
type Binder struct {
	bindings []compiled
}

// New compiles every binding. An invalid pattern or a nil interceptor
// fails construction.
func New(bindings []Binding) (*Binder, error) {
	b := &Binder{bindings: make([]compiled, 0, len(bindings))}
	for i, bd := range bindings {
		if bd.Interceptor == nil {
			return nil, fmt.Errorf("binding %d (%q): interceptor is nil", i, bd.Pattern)
		}
		re, err := CompilePattern(bd.Pattern)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		b.bindings = append(b.bindings, compiled{pattern: bd.Pattern, re: re, interceptor: bd.Interceptor})
	}
	return b, nil
}

// CompilePattern compiles a channel-name pattern that must match the whole
// name. The bare pattern is compiled first so an unbalanced group such as
// "a)|(.*" cannot break out of the anchors.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Len returns the number of bindings.
func (b *Binder) Len() int { return len(b.bindings) }

// Matching returns the interceptors that Bind would attach to a channel
// with the given name.
func (b *Binder) Matching(name string) []channel.Interceptor {
	var out []channel.Interceptor
	for _, bd := range b.bindings {
		if !bd.re.MatchString(name) {
			continue
		}
		if containsInterceptor(out, bd.interceptor) {
			continue
		}
		out = append(out, bd.interceptor)
	}
	return out
}

// Bind attaches every matching interceptor to ch. It has the
// channel.CreateHook signature so it can subscribe to a registry.
func (b *Binder) Bind(ch channel.Channel) error {
	name := ch.Name()
	if name == "" {
		return ErrUnnamedChannel
	}

	matched := b.Matching(name)
	for _, ic := range matched {
		ch.AddInterceptor(ic)
	}
	if len(matched) > 0 {
		slog.Debug("interceptors bound", "channel", name, "count", len(matched))
	}
	return nil
}

// containsInterceptor reports whether ic is already in list. Interceptors
// of non-comparable dynamic types are never considered equal.
func containsInterceptor(list []channel.Interceptor, ic channel.Interceptor) bool {
	if !reflect.TypeOf(ic).Comparable() {
		return false
	}
	for _, other := range list {
		if reflect.TypeOf(other) == reflect.TypeOf(ic) && other == ic {
			return true
		}
	}
	return false
}
