// Package wiretap forwards messages flowing through a channel to an event
// dispatcher without affecting delivery.
package wiretap

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tapwire/internal/channel"
)

// Dispatcher accepts events. *session.Session satisfies it.
type Dispatcher interface {
	SendEvent(event any) error
}

// Context is the event forwarded when send-context is enabled: the payload
// plus the delivery metadata of the intercepted message.
type Context struct {
	Channel       string            `json:"channel"`
	MessageID     string            `json:"message_id"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       any               `json:"payload"`
	Timestamp     time.Time         `json:"timestamp"`
	InterceptedAt time.Time         `json:"intercepted_at"`
}

// Attributes exposes the context to engine queries. Payload map fields are
// flattened to the top level; the context keys win on collision.
func (c *Context) Attributes() map[string]any {
	attrs := make(map[string]any)
	if m, ok := c.Payload.(map[string]any); ok {
		for k, v := range m {
			attrs[k] = v
		}
	}
	headers := make(map[string]any, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	attrs["channel"] = c.Channel
	attrs["message_id"] = c.MessageID
	attrs["headers"] = headers
	attrs["payload"] = c.Payload
	attrs["timestamp"] = c.Timestamp
	attrs["intercepted_at"] = c.InterceptedAt
	return attrs
}

// WireTap is a channel.Interceptor that copies each message to a dispatcher.
type WireTap struct {
	dispatcher  Dispatcher
	sendContext bool
	now         func() time.Time
}

// Option configures a WireTap.
type Option func(*WireTap)

// WithClock overrides the interception timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *WireTap) {
		w.now = now
	}
}

// New creates a wire-tap. It panics if dispatcher is nil.
func New(dispatcher Dispatcher, sendContext bool, opts ...Option) *WireTap {
	if dispatcher == nil {
		panic("wiretap: nil dispatcher")
	}
	w := &WireTap{
		dispatcher:  dispatcher,
		sendContext: sendContext,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SendContext reports whether the tap forwards a Context instead of the
// bare payload.
func (w *WireTap) SendContext() bool { return w.sendContext }

// PreSend forwards the message and returns it unchanged. Dispatch failures
// are logged and never reach the sender.
func (w *WireTap) PreSend(ctx context.Context, msg *channel.Message, ch channel.Channel) (*channel.Message, error) {
	var event any = msg.Payload
	if w.sendContext {
		event = &Context{
			Channel:       ch.Name(),
			MessageID:     msg.ID,
			Headers:       copyHeaders(msg.Headers),
			Payload:       msg.Payload,
			Timestamp:     msg.Timestamp,
			InterceptedAt: w.now(),
		}
	}

	if err := w.dispatcher.SendEvent(event); err != nil {
		slog.ErrorContext(ctx, "wire-tap dispatch failed",
			"channel", ch.Name(),
			"message_id", msg.ID,
			"error", err,
		)
	}
	return msg, nil
}

// copyHeaders detaches the forwarded context from later header changes.
func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

var _ channel.Interceptor = (*WireTap)(nil)
