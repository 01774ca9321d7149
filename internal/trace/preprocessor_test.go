package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPreprocessor() *Preprocessor {
	return NewPreprocessor(60 * time.Second)
}

func TestAddItemThenGetCartEmitsReflectLatency(t *testing.T) {
	p := newTestPreprocessor()

	batch := p.Transform(Event{
		Type: EventAddItem, User: "alice", Session: "s1", Item: "OLJCESPC7Z", Timestamp: 100.0,
	})
	assert.Empty(t, batch, "AddItem must not emit facts")

	batch = p.Transform(Event{
		Type: EventGetCart, User: "alice", Session: "s1",
		Cart: []string{"OLJCESPC7Z"}, Timestamp: 100.120,
	})

	require.Contains(t, batch, TargetReflectLatency)
	require.Len(t, batch[TargetReflectLatency], 1)
	assert.Equal(t, `@100 reflect_latency("alice", 0.120)`, batch[TargetReflectLatency][0])

	// The sequence monitor always sees the GetCart.
	require.Contains(t, batch, TargetEmptyCartSequence)
	assert.Equal(t, `@100 GetCart("alice")`, batch[TargetEmptyCartSequence][0])
}

func TestAddItemFIFOConsumedAtMostOnce(t *testing.T) {
	p := newTestPreprocessor()

	p.Transform(Event{Type: EventAddItem, User: "alice", Session: "sX", Timestamp: 10})
	p.Transform(Event{Type: EventAddItem, User: "alice", Session: "sX", Timestamp: 11})

	first := p.Transform(Event{Type: EventGetCart, User: "alice", Session: "sX", Cart: []string{"a"}, Timestamp: 12})
	require.Contains(t, first, TargetReflectLatency)
	assert.Equal(t, `@12 reflect_latency("alice", 2.000)`, first[TargetReflectLatency][0])

	second := p.Transform(Event{Type: EventGetCart, User: "alice", Session: "sX", Cart: []string{"a"}, Timestamp: 13})
	require.Contains(t, second, TargetReflectLatency)
	assert.Equal(t, `@13 reflect_latency("alice", 2.000)`, second[TargetReflectLatency][0])

	// Both cached timestamps are consumed now.
	third := p.Transform(Event{Type: EventGetCart, User: "alice", Session: "sX", Cart: []string{"a"}, Timestamp: 14})
	assert.NotContains(t, third, TargetReflectLatency)
}

func TestExpiredAddItemIsSweptBeforePairing(t *testing.T) {
	p := newTestPreprocessor()

	p.Transform(Event{Type: EventAddItem, User: "alice", Session: "s1", Timestamp: 0})

	batch := p.Transform(Event{Type: EventGetCart, User: "alice", Session: "s1", Cart: []string{"a"}, Timestamp: 120})
	assert.NotContains(t, batch, TargetReflectLatency, "entry older than TTL must be swept")
	assert.Contains(t, batch, TargetEmptyCartSequence, "sequence fact is emitted regardless")
}

func TestEmptyCartPairing(t *testing.T) {
	p := newTestPreprocessor()

	batch := p.Transform(Event{Type: EventEmptyCart, User: "bob", Timestamp: 50})
	assert.Empty(t, batch)

	batch = p.Transform(Event{Type: EventGetCart, User: "bob", Session: "s2", Cart: nil, Timestamp: 50.5})
	require.Contains(t, batch, TargetEmptyCartLatency)
	assert.Equal(t, `@50 cart_empty_latency("bob", 0.500)`, batch[TargetEmptyCartLatency][0])

	// The pairing entry is consumed.
	batch = p.Transform(Event{Type: EventGetCart, User: "bob", Session: "s2", Cart: nil, Timestamp: 51})
	assert.NotContains(t, batch, TargetEmptyCartLatency)
}

func TestEmptyCartPairingRequiresEmptyCart(t *testing.T) {
	p := newTestPreprocessor()

	p.Transform(Event{Type: EventEmptyCart, User: "bob", Timestamp: 50})

	batch := p.Transform(Event{Type: EventGetCart, User: "bob", Session: "s2", Cart: []string{"item"}, Timestamp: 51})
	assert.NotContains(t, batch, TargetEmptyCartLatency, "non-empty cart must not close the pairing window")

	// Window is still open for a later, genuinely empty observation.
	batch = p.Transform(Event{Type: EventGetCart, User: "bob", Session: "s2", Cart: nil, Timestamp: 52})
	assert.Contains(t, batch, TargetEmptyCartLatency)
}

func TestCartOpLabels(t *testing.T) {
	p := newTestPreprocessor()

	batch := p.Transform(Event{Type: EventCartOp, User: "alice", Op: "AddItem", Status: 200, Timestamp: 5})
	require.Contains(t, batch, TargetFailureRate)
	assert.Equal(t, `@5 CartOp("alice", "AddItem", "ok")`, batch[TargetFailureRate][0])

	batch = p.Transform(Event{Type: EventCartOp, User: "alice", Op: "AddItem", Status: 500, Timestamp: 6})
	assert.Equal(t, `@6 CartOp("alice", "AddItem", "fail")`, batch[TargetFailureRate][0])

	batch = p.Transform(Event{Type: EventCartOp, User: "alice", Op: "Checkout", Status: 302, Timestamp: 7})
	assert.Equal(t, `@7 CartOp("alice", "Checkout", "fail")`, batch[TargetFailureRate][0])
}

func TestMetricsEvent(t *testing.T) {
	p := newTestPreprocessor()

	batch := p.Transform(Event{Type: EventMetrics, CPU: 42.5, Mem: 512.25, Timestamp: 9})
	require.Contains(t, batch, TargetResourceUsage)
	assert.Equal(t, `@9 CartServiceUsage(42.50, 512.25)`, batch[TargetResourceUsage][0])
}

func TestUnknownEventIsDroppedAndCounted(t *testing.T) {
	p := newTestPreprocessor()

	batch := p.Transform(Event{Type: "Telemetry", Timestamp: 1})
	assert.Empty(t, batch)
	assert.Equal(t, uint64(1), p.IgnoredEvents())
}

func TestTimestampsAreClampedPerTarget(t *testing.T) {
	p := newTestPreprocessor()

	batch := p.Transform(Event{Type: EventCartOp, User: "u", Op: "AddItem", Status: 200, Timestamp: 100})
	assert.Equal(t, `@100 CartOp("u", "AddItem", "ok")`, batch[TargetFailureRate][0])

	// An out-of-order event must not move the target's clock backwards.
	batch = p.Transform(Event{Type: EventCartOp, User: "u", Op: "AddItem", Status: 200, Timestamp: 90})
	assert.Equal(t, `@100 CartOp("u", "AddItem", "ok")`, batch[TargetFailureRate][0])

	batch = p.Transform(Event{Type: EventCartOp, User: "u", Op: "AddItem", Status: 200, Timestamp: 101.7})
	assert.Equal(t, `@101 CartOp("u", "AddItem", "ok")`, batch[TargetFailureRate][0])
}

func TestSessionsAreIndependentCaches(t *testing.T) {
	p := newTestPreprocessor()

	p.Transform(Event{Type: EventAddItem, User: "alice", Session: "s1", Timestamp: 10})

	// A different session must not consume alice/s1's cached timestamp.
	batch := p.Transform(Event{Type: EventGetCart, User: "alice", Session: "s2", Cart: []string{"a"}, Timestamp: 11})
	assert.NotContains(t, batch, TargetReflectLatency)

	batch = p.Transform(Event{Type: EventGetCart, User: "alice", Session: "s1", Cart: []string{"a"}, Timestamp: 12})
	assert.Contains(t, batch, TargetReflectLatency)
}
