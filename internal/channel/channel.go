package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Interceptor observes or rewrites messages before delivery.
//
// PreSend returns the message to continue with. Returning nil drops the
// message; returning an error aborts the send.
type Interceptor interface {
	PreSend(ctx context.Context, msg *Message, ch Channel) (*Message, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, msg *Message, ch Channel) (*Message, error)

// PreSend calls f.
func (f InterceptorFunc) PreSend(ctx context.Context, msg *Message, ch Channel) (*Message, error) {
	return f(ctx, msg, ch)
}

// Channel is the surface interceptor binding relies on.
type Channel interface {
	Name() string
	AddInterceptor(i Interceptor)
}

// Subscriber receives delivered messages.
type Subscriber func(ctx context.Context, msg *Message) error

// Direct is a synchronous point-to-point channel: Send runs on the caller's
// goroutine through interceptors and then every subscriber.
//
// Thread-safety: all methods are safe for concurrent use. Interceptors and
// subscribers added during a Send take effect on the next Send.
type Direct struct {
	name string

	mu           sync.RWMutex
	interceptors []Interceptor
	subscribers  []Subscriber
}

// NewDirect creates a channel. The registry validates names; NewDirect
// accepts any, including "", so binding preconditions can be exercised.
func NewDirect(name string) *Direct {
	return &Direct{name: name}
}

// Name returns the channel name.
func (d *Direct) Name() string { return d.name }

// AddInterceptor appends i to the interceptor chain.
func (d *Direct) AddInterceptor(i Interceptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interceptors = append(d.interceptors, i)
}

// Interceptors returns a snapshot of the interceptor chain.
func (d *Direct) Interceptors() []Interceptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Interceptor, len(d.interceptors))
	copy(out, d.interceptors)
	return out
}

// Subscribe adds a subscriber.
func (d *Direct) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
}

// Send delivers msg. It reports whether the message reached the
// subscribers (false when an interceptor dropped it).
func (d *Direct) Send(ctx context.Context, msg *Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.RLock()
	interceptors := make([]Interceptor, len(d.interceptors))
	copy(interceptors, d.interceptors)
	subscribers := make([]Subscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.RUnlock()

	current := msg
	for i, ic := range interceptors {
		next, err := ic.PreSend(ctx, current, d)
		if err != nil {
			return false, fmt.Errorf("channel %s: interceptor %d: %w", d.name, i, err)
		}
		if next == nil {
			slog.Debug("message dropped by interceptor",
				"channel", d.name,
				"message_id", current.ID,
				"interceptor", i,
			)
			return false, nil
		}
		current = next
	}

	for _, sub := range subscribers {
		if err := sub(ctx, current); err != nil {
			return false, fmt.Errorf("channel %s: deliver %s: %w", d.name, current.ID, err)
		}
	}
	return true, nil
}

var _ Channel = (*Direct)(nil)
