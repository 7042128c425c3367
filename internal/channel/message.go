package channel

import (
	"time"

	"github.com/google/uuid"
)

// Message is the unit carried by a channel.
type Message struct {
	ID        string
	Payload   any
	Headers   map[string]string
	Timestamp time.Time
}

// NewMessage creates a message with a fresh time-ordered id.
func NewMessage(payload any, headers map[string]string) *Message {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Payload:   payload,
		Headers:   h,
		Timestamp: time.Now().UTC(),
	}
}

// Header returns a header value, or "" if it is not set.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}
