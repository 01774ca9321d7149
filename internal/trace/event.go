package trace

import (
	"fmt"
	"math"
)

// Event types synthesized from observed client interactions.
const (
	EventAddItem      = "AddItem"
	EventGetCart      = "GetCart"
	EventEmptyCart    = "EmptyCart"
	EventGetCartEmpty = "GetCartEmpty"
	EventCartOp       = "CartOp"
	EventMetrics      = "Metrics"
)

// Cart-scoped verifier names. These monitor the per-user cart requirements
// and receive only the predicate facts they declare interest in.
const (
	TargetReflectLatency    = "R1.1_latency"
	TargetEmptyCartLatency  = "R1.2_empty_cart_latency"
	TargetEmptyCartSequence = "R1.2_empty_cart_sequence"
	TargetFailureRate       = "R1.3_failure_rate"
	TargetResourceUsage     = "R1.4_resource_usage"
)

// Event is one semantic interaction observed at the gateway. Timestamp is
// wall-clock seconds with fractional precision; which payload fields are set
// depends on Type.
type Event struct {
	Type      string
	User      string
	Session   string
	Item      string
	Op        string
	Status    int
	CPU       float64
	Mem       float64
	Cart      []string
	Timestamp float64
}

// KnownEventType reports whether the preprocessor has a rule for the type.
func KnownEventType(eventType string) bool {
	switch eventType {
	case EventAddItem, EventGetCart, EventEmptyCart, EventGetCartEmpty, EventCartOp, EventMetrics:
		return true
	}
	return false
}

// Frame prepends the integer-second timestamp marker to a predicate body,
// producing one wire line for the evaluator.
func Frame(ts int64, body string) string {
	return fmt.Sprintf("@%d %s", ts, body)
}

// FloorSeconds converts a fractional timestamp to the integer seconds used
// in fact framing.
func FloorSeconds(ts float64) int64 {
	return int64(math.Floor(ts))
}
