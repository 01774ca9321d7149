package pooler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jzilic1991/vermon-edge/internal/metrics"
	"github.com/jzilic1991/vermon-edge/internal/trace"
	"github.com/jzilic1991/vermon-edge/internal/verifier"
)

// SubmitFunc dispatches one fact line to the named verifier targets.
type SubmitFunc func(fact string, targets []string)

// Pooler derives throughput and defect-rate facts from the request counters
// on a fixed tick. Each tick reports the delta since the previous one, so
// the facts describe per-interval rates rather than lifetime totals.
type Pooler struct {
	store    *metrics.Store
	submit   SubmitFunc
	interval time.Duration
	host     int

	lastRequests int64
	lastFailures int64
}

// New creates a pooler reading the shared metrics store.
func New(store *metrics.Store, submit SubmitFunc, interval time.Duration) *Pooler {
	return &Pooler{
		store:    store,
		submit:   submit,
		interval: interval,
		host:     1,
	}
}

// Start runs the tick loop until the context is cancelled.
func (p *Pooler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
	slog.Info("Periodic pooler started", "interval", p.interval)
}

// tick submits one throughput fact and one defect fact for the interval.
func (p *Pooler) tick() {
	requests, failures := p.store.Totals()
	deltaReq := requests - p.lastRequests
	deltaFail := failures - p.lastFailures
	p.lastRequests = requests
	p.lastFailures = failures

	ts := time.Now().Unix()

	throughput := trace.Frame(ts, fmt.Sprintf("%s(%d, %d)", verifier.PatternRequests, p.host, deltaReq))
	p.submit(throughput, []string{verifier.ObjThroughput})

	defect := trace.Frame(ts, fmt.Sprintf("%s(%d, %d) %s(%d, %d)",
		verifier.PatternDefect, p.host, deltaFail,
		verifier.PatternTotalReqs, p.host, deltaReq))
	p.submit(defect, []string{verifier.ObjRelDefect})

	slog.Debug("Pooler tick", "requests", deltaReq, "failures", deltaFail)
}
