package channel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	headers := map[string]string{"source": "test"}
	msg := NewMessage(map[string]any{"id": 1}, headers)

	id, err := uuid.Parse(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "test", msg.Header("source"))
	assert.Equal(t, "", msg.Header("missing"))

	headers["source"] = "mutated"
	assert.Equal(t, "test", msg.Header("source"), "headers are copied")

	other := NewMessage(nil, nil)
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestDirect_InterceptorsThenSubscribers(t *testing.T) {
	ch := NewDirect("orders")
	var trace []string

	ch.AddInterceptor(InterceptorFunc(func(ctx context.Context, msg *Message, c Channel) (*Message, error) {
		trace = append(trace, "first:"+c.Name())
		return msg, nil
	}))
	ch.AddInterceptor(InterceptorFunc(func(ctx context.Context, msg *Message, c Channel) (*Message, error) {
		trace = append(trace, "second")
		return &Message{ID: msg.ID, Payload: "rewritten"}, nil
	}))
	ch.Subscribe(func(ctx context.Context, msg *Message) error {
		trace = append(trace, "sub:"+msg.Payload.(string))
		return nil
	})

	delivered, err := ch.Send(context.Background(), NewMessage("original", nil))
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"first:orders", "second", "sub:rewritten"}, trace)
}

func TestDirect_InterceptorDrops(t *testing.T) {
	ch := NewDirect("orders")
	ch.AddInterceptor(InterceptorFunc(func(ctx context.Context, msg *Message, c Channel) (*Message, error) {
		return nil, nil
	}))
	called := false
	ch.Subscribe(func(ctx context.Context, msg *Message) error {
		called = true
		return nil
	})

	delivered, err := ch.Send(context.Background(), NewMessage("x", nil))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.False(t, called)
}

func TestDirect_InterceptorErrorAborts(t *testing.T) {
	ch := NewDirect("orders")
	boom := errors.New("boom")
	ch.AddInterceptor(InterceptorFunc(func(ctx context.Context, msg *Message, c Channel) (*Message, error) {
		return nil, boom
	}))

	_, err := ch.Send(context.Background(), NewMessage("x", nil))
	assert.ErrorIs(t, err, boom)
}

func TestDirect_CancelledContext(t *testing.T) {
	ch := NewDirect("orders")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.Send(ctx, NewMessage("x", nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirect_ConcurrentAddAndSend(t *testing.T) {
	ch := NewDirect("busy")
	noop := InterceptorFunc(func(ctx context.Context, msg *Message, c Channel) (*Message, error) {
		return msg, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch.AddInterceptor(noop)
		}()
		go func() {
			defer wg.Done()
			_, err := ch.Send(context.Background(), NewMessage("x", nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, ch.Interceptors(), 10)
}

func TestRegistry_CreateRunsHooks(t *testing.T) {
	r := NewRegistry()
	var seen []string
	r.OnCreate(func(ch Channel) error {
		seen = append(seen, "a:"+ch.Name())
		return nil
	})
	r.OnCreate(func(ch Channel) error {
		seen = append(seen, "b:"+ch.Name())
		return nil
	})

	ch, err := r.Create("order.created")
	require.NoError(t, err)
	assert.Equal(t, "order.created", ch.Name())
	assert.Equal(t, []string{"a:order.created", "b:order.created"}, seen)

	got, err := r.Get("order.created")
	require.NoError(t, err)
	assert.Same(t, ch, got)
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = r.Create("a")
	require.NoError(t, err)
	_, err = r.Create("a")
	assert.ErrorIs(t, err, ErrDuplicateChannel)

	_, err = r.Get("b")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestRegistry_FailingHookPreventsRegistration(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.OnCreate(func(ch Channel) error { return boom })

	_, err := r.Create("a")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.Names())
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		_, err := r.Create(n)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
}
