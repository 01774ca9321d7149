package trace

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Batch holds the predicate fact lines produced from one semantic event,
// keyed by the verifier that declared interest in them.
type Batch map[string][]string

// pairKey identifies one user session for the add-item pairing cache.
type pairKey struct {
	user    string
	session string
}

// Preprocessor turns semantic events into timestamped predicate facts and
// decides which verifiers receive them. It joins temporally-related events
// (an AddItem with a later GetCart, an EmptyCart with the GetCart observing
// the empty cart) through TTL-bounded caches, and keeps the fact stream of
// every target monotonically non-decreasing in time.
//
// All state is guarded by a single mutex: callers must never observe the
// caches mid-update.
type Preprocessor struct {
	mu  sync.Mutex
	ttl float64

	addItems  map[pairKey][]float64 // FIFO of cached AddItem timestamps
	emptyCart map[string]float64    // user -> EmptyCart timestamp

	lastTS map[string]int64 // per-target monotone clamp

	ignored uint64
}

// NewPreprocessor creates a preprocessor with the given pairing-cache TTL.
func NewPreprocessor(ttl time.Duration) *Preprocessor {
	return &Preprocessor{
		ttl:       ttl.Seconds(),
		addItems:  make(map[pairKey][]float64),
		emptyCart: make(map[string]float64),
		lastTS:    make(map[string]int64),
	}
}

// Transform applies the event catalogue and returns the facts to dispatch.
// Unknown event types produce an empty batch and are counted.
func (p *Preprocessor) Transform(ev Event) Batch {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := make(Batch)

	switch ev.Type {
	case EventAddItem:
		key := pairKey{user: ev.User, session: ev.Session}
		p.addItems[key] = append(p.addItems[key], ev.Timestamp)

	case EventEmptyCart:
		p.emptyCart[ev.User] = ev.Timestamp

	case EventGetCart:
		p.sweep(ev.Timestamp)

		if cached, ok := p.emptyCart[ev.User]; ok && len(ev.Cart) == 0 {
			d := ev.Timestamp - cached
			p.emit(batch, TargetEmptyCartLatency, ev.Timestamp,
				fmt.Sprintf("cart_empty_latency(%q, %.3f)", ev.User, d))
			delete(p.emptyCart, ev.User)
		}

		key := pairKey{user: ev.User, session: ev.Session}
		if fifo := p.addItems[key]; len(fifo) > 0 {
			cached := fifo[0]
			p.addItems[key] = fifo[1:]
			if len(p.addItems[key]) == 0 {
				delete(p.addItems, key)
			}
			d := ev.Timestamp - cached
			p.emit(batch, TargetReflectLatency, ev.Timestamp,
				fmt.Sprintf("reflect_latency(%q, %.3f)", ev.User, d))
		}

		// The sequence monitor sees every GetCart, expired pairing or not.
		p.emit(batch, TargetEmptyCartSequence, ev.Timestamp,
			fmt.Sprintf("GetCart(%q)", ev.User))

	case EventGetCartEmpty:
		p.sweep(ev.Timestamp)
		if cached, ok := p.emptyCart[ev.User]; ok && len(ev.Cart) == 0 {
			d := ev.Timestamp - cached
			p.emit(batch, TargetEmptyCartLatency, ev.Timestamp,
				fmt.Sprintf("cart_empty_latency(%q, %.3f)", ev.User, d))
			delete(p.emptyCart, ev.User)
		}

	case EventCartOp:
		label := "ok"
		if ev.Status < 200 || ev.Status >= 300 {
			label = "fail"
		}
		p.emit(batch, TargetFailureRate, ev.Timestamp,
			fmt.Sprintf("CartOp(%q, %q, %q)", ev.User, ev.Op, label))

	case EventMetrics:
		p.emit(batch, TargetResourceUsage, ev.Timestamp,
			fmt.Sprintf("CartServiceUsage(%.2f, %.2f)", ev.CPU, ev.Mem))

	default:
		p.ignored++
		slog.Debug("Ignoring unknown event type", "type", ev.Type, "ignored_total", p.ignored)
	}

	return batch
}

// IgnoredEvents returns how many events were dropped for having an unknown
// type.
func (p *Preprocessor) IgnoredEvents() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ignored
}

// emit frames the fact with a clamped integer timestamp and appends it to
// the batch under the target verifier.
func (p *Preprocessor) emit(batch Batch, target string, ts float64, body string) {
	sec := FloorSeconds(ts)
	if last, ok := p.lastTS[target]; ok && sec < last {
		sec = last
	}
	p.lastTS[target] = sec
	batch[target] = append(batch[target], Frame(sec, body))
}

// sweep drops cache entries older than the TTL. Runs before every lookup so
// no reader ever pairs against a stale entry.
func (p *Preprocessor) sweep(now float64) {
	for key, fifo := range p.addItems {
		keep := fifo[:0]
		for _, ts := range fifo {
			if now-ts <= p.ttl {
				keep = append(keep, ts)
			}
		}
		if len(keep) == 0 {
			delete(p.addItems, key)
		} else {
			p.addItems[key] = keep
		}
	}

	for user, ts := range p.emptyCart {
		if now-ts > p.ttl {
			delete(p.emptyCart, user)
		}
	}
}
