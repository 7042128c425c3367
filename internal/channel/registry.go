package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrEmptyName is returned when creating a channel without a name.
	ErrEmptyName = errors.New("channel name is empty")

	// ErrDuplicateChannel is returned when a name is already registered.
	ErrDuplicateChannel = errors.New("channel already exists")

	// ErrUnknownChannel is returned by Get for an unregistered name.
	ErrUnknownChannel = errors.New("unknown channel")
)

// CreateHook runs once for each channel the registry creates, before the
// channel is registered. A hook error cancels the registration.
// Hooks run with the registry locked and must not call back into it.
type CreateHook func(ch Channel) error

// Registry owns the channels of an application.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Direct
	hooks    []CreateHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Direct)}
}

// OnCreate subscribes h to channel creation. Channels created earlier are
// not replayed.
func (r *Registry) OnCreate(h CreateHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Create constructs a channel, runs the creation hooks in subscription
// order, then registers it.
func (r *Registry) Create(name string) (*Direct, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}

	ch := NewDirect(name)
	for i, h := range r.hooks {
		if err := h(ch); err != nil {
			return nil, fmt.Errorf("channel %s: create hook %d: %w", name, i, err)
		}
	}

	r.channels[name] = ch
	slog.Debug("channel created", "channel", name, "interceptors", len(ch.Interceptors()))
	return ch, nil
}

// Get returns a registered channel.
func (r *Registry) Get(name string) (*Direct, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return ch, nil
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
