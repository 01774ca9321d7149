package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	violations := bus.Subscribe(TypeViolation)

	bus.Emit(TypeVerdict, "response", "satisfied", false)
	bus.Emit(TypeViolation, "response", "violated", true)

	select {
	case ev := <-violations:
		assert.Equal(t, TypeViolation, ev.Type)
		assert.Equal(t, "response", ev.Verifier)
		assert.True(t, ev.Transition)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a violation event")
	}

	select {
	case ev := <-violations:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe()

	bus.Emit(TypeVerdict, "req-1", "violated", false)
	bus.Emit(TypeTransition, "req-1", "violated", true)

	require.Len(t, all, 2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeVerdict)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(TypeVerdict)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(TypeVerdict, "response", "satisfied", false)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}
