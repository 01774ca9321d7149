package verifier

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// egressSlack pads the caller-side verdict wait beyond the worker's own
// stdout read timeout.
const egressSlack = 50 * time.Millisecond

// Stats tracks per-verifier bookkeeping exposed on the stats surface.
type Stats struct {
	Violated   int       `json:"violated"`
	LastUpdate time.Time `json:"last_update"`
}

// VerdictListener is notified of every verdict the pool produces.
// transition is true when the outcome differs from the verifier's previous
// recorded outcome (the first verdict of a verifier always transitions).
type VerdictListener func(v Verdict, transition bool)

// Pool supervises one worker per configured verifier name. It is safe for
// concurrent callers; per-worker serialization happens on the worker's own
// queues.
type Pool struct {
	workers map[string]*Worker
	order   []string
	wait    time.Duration

	mu        sync.Mutex
	last      map[string]Outcome
	seen      map[string]bool
	stats     map[string]*Stats
	recent    map[string]*traceRing
	listeners []VerdictListener
}

// NewPool starts one worker per name. Any missing spec file or failed spawn
// aborts construction; already-started workers are torn down.
func NewPool(names []string, opts WorkerOptions) (*Pool, error) {
	p := &Pool{
		workers: make(map[string]*Worker, len(names)),
		order:   append([]string(nil), names...),
		wait:    opts.ReadTimeout + egressSlack,
		last:    make(map[string]Outcome),
		seen:    make(map[string]bool),
		stats:   make(map[string]*Stats),
		recent:  make(map[string]*traceRing),
	}

	for _, name := range names {
		w, err := newWorker(name, opts)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start verifier pool: %w", err)
		}
		p.workers[name] = w
		p.stats[name] = &Stats{}
		p.recent[name] = newTraceRing(name, 100, 10)
	}

	slog.Info("Verifier pool ready", "verifiers", names)
	return p, nil
}

// Subscribe registers a listener invoked synchronously for every verdict.
func (p *Pool) Subscribe(fn VerdictListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Names returns the configured verifier names in configuration order.
func (p *Pool) Names() []string {
	return append([]string(nil), p.order...)
}

// Has reports whether the pool hosts the named verifier.
func (p *Pool) Has(name string) bool {
	_, ok := p.workers[name]
	return ok
}

// Evaluate submits the fact to each named target and collects one verdict
// per target. Unknown targets are skipped with a warning so a partially
// configured deployment degrades instead of erroring.
func (p *Pool) Evaluate(fact string, targets []string) map[string]Verdict {
	verdicts := make(map[string]Verdict, len(targets))

	for _, target := range targets {
		w, ok := p.workers[target]
		if !ok {
			slog.Warn("No verifier configured for target, skipping", "target", target)
			continue
		}

		p.recent[target].add(fact)
		outcome := w.submit(fact, p.wait)

		v := Verdict{Verifier: target, Outcome: outcome, At: time.Now()}
		verdicts[target] = v
		p.record(v)
	}

	return verdicts
}

// record updates last-outcome/transition state and stats, then notifies
// listeners.
func (p *Pool) record(v Verdict) {
	p.mu.Lock()
	transition := !p.seen[v.Verifier] || p.last[v.Verifier] != v.Outcome
	p.seen[v.Verifier] = true
	p.last[v.Verifier] = v.Outcome

	st := p.stats[v.Verifier]
	st.LastUpdate = v.At
	if v.Outcome == Violated {
		st.Violated++
	}
	listeners := append([]VerdictListener(nil), p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(v, transition)
	}
}

// LastOutcome returns the most recent outcome recorded for a verifier.
func (p *Pool) LastOutcome(name string) (Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.seen[name] {
		return Violated, false
	}
	return p.last[name], true
}

// FailedWorkers counts workers whose evaluator child died.
func (p *Pool) FailedWorkers() int {
	n := 0
	for _, w := range p.workers {
		if w.Failed() {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the per-verifier stats.
func (p *Pool) Snapshot() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stats, len(p.stats))
	for name, st := range p.stats {
		out[name] = *st
	}
	return out
}

// Close shuts down every worker, draining their queues first.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
}

// =============================================================================
// Recent-trace ring (debug visibility into what each verifier consumed)
// =============================================================================

type traceRing struct {
	mu        sync.Mutex
	name      string
	entries   []string
	capacity  int
	dumpEvery int
	counter   int
}

func newTraceRing(name string, capacity, dumpEvery int) *traceRing {
	return &traceRing{name: name, capacity: capacity, dumpEvery: dumpEvery}
}

func (r *traceRing) add(trace string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, trace)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}

	r.counter++
	if r.counter%r.dumpEvery == 0 {
		slog.Debug("Recent traces", "verifier", r.name, "count", len(r.entries), "latest", r.entries[len(r.entries)-1])
	}
}
