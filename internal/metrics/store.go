package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Snapshot is the aggregate view of one downstream service.
type Snapshot struct {
	Count     int64
	Failed    int64
	Avg       float64
	Min       float64
	Max       float64
	Median    float64
	ReqPerSec float64
}

// serviceMetrics keeps the bounded latency ring and failure counter for one
// downstream service.
type serviceMetrics struct {
	ring   *latencyRing
	failed int64
	start  time.Time
}

// Store records per-downstream response times and failures. A grid table of
// all services is printed every printEvery recorded requests, matching the
// operator-facing load-test style output.
type Store struct {
	mu         sync.Mutex
	services   map[string]*serviceMetrics
	order      []string
	ringSize   int
	printEvery int
	out        io.Writer

	requestCounter int64
	failCounter    int64

	prom *Prometheus
}

// NewStore pre-registers one ring per known downstream service.
func NewStore(services []string, ringSize, printEvery int) *Store {
	s := &Store{
		services:   make(map[string]*serviceMetrics, len(services)),
		ringSize:   ringSize,
		printEvery: printEvery,
		out:        os.Stdout,
	}
	for _, name := range services {
		s.register(name)
	}
	return s
}

// SetPrometheus attaches the Prometheus mirror for recorded samples.
func (s *Store) SetPrometheus(p *Prometheus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prom = p
}

// SetOutput redirects the periodic table dump (used by tests).
func (s *Store) SetOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

func (s *Store) register(name string) *serviceMetrics {
	sm := &serviceMetrics{
		ring:  newLatencyRing(s.ringSize),
		start: time.Now(),
	}
	s.services[name] = sm
	s.order = append(s.order, name)
	return sm
}

func (s *Store) lookup(name string) *serviceMetrics {
	if sm, ok := s.services[name]; ok {
		return sm
	}
	return s.register(name)
}

// RecordLatency stores one successful response time in milliseconds.
func (s *Store) RecordLatency(name string, ms float64) {
	s.mu.Lock()
	s.lookup(name).ring.append(ms)
	s.requestCounter++
	prom := s.prom
	dump := s.printEvery > 0 && s.requestCounter%int64(s.printEvery) == 0
	s.mu.Unlock()

	if prom != nil {
		prom.ObserveProxyLatency(name, ms)
	}
	if dump {
		s.PrintTable()
	}
}

// RecordFailure counts one failed downstream request.
func (s *Store) RecordFailure(name string) {
	s.mu.Lock()
	s.lookup(name).failed++
	s.requestCounter++
	s.failCounter++
	prom := s.prom
	dump := s.printEvery > 0 && s.requestCounter%int64(s.printEvery) == 0
	s.mu.Unlock()

	if prom != nil {
		prom.CountProxyFailure(name)
	}
	if dump {
		s.PrintTable()
	}
}

// Totals returns the lifetime request and failure counters. The periodic
// pooler diffs consecutive calls to derive throughput and defect facts.
func (s *Store) Totals() (requests, failures int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCounter, s.failCounter
}

// SnapshotAll returns the current aggregate for every service.
func (s *Store) SnapshotAll() map[string]Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Snapshot, len(s.services))
	for name, sm := range s.services {
		out[name] = sm.snapshot()
	}
	return out
}

func (sm *serviceMetrics) snapshot() Snapshot {
	samples := sm.ring.values()
	snap := Snapshot{
		Count:  int64(len(samples)) + sm.failed,
		Failed: sm.failed,
	}
	elapsed := time.Since(sm.start).Seconds()
	if elapsed > 0 {
		snap.ReqPerSec = float64(snap.Count) / elapsed
	}
	if len(samples) == 0 {
		return snap
	}

	sum := 0.0
	snap.Min = samples[0]
	snap.Max = samples[0]
	for _, v := range samples {
		sum += v
		if v < snap.Min {
			snap.Min = v
		}
		if v > snap.Max {
			snap.Max = v
		}
	}
	snap.Avg = sum / float64(len(samples))
	snap.Median = median(samples)
	return snap
}

// PrintTable dumps the per-service grid table plus an aggregated row.
func (s *Store) PrintTable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"Type", "Name", "# reqs", "Failed reqs", "Avg (ms)", "Min (ms)", "Max (ms)", "Med (ms)", "req/s"})

	var (
		totalReqs   int64
		totalFailed int64
		allSamples  []float64
		earliest    time.Time
	)

	for _, name := range s.order {
		sm := s.services[name]
		snap := sm.snapshot()
		totalReqs += snap.Count
		totalFailed += snap.Failed
		allSamples = append(allSamples, sm.ring.values()...)
		if earliest.IsZero() || sm.start.Before(earliest) {
			earliest = sm.start
		}

		table.Append([]string{
			"GET",
			name,
			fmt.Sprintf("%d", snap.Count),
			fmt.Sprintf("%d", snap.Failed),
			fmt.Sprintf("%.2f", snap.Avg),
			fmt.Sprintf("%.2f", snap.Min),
			fmt.Sprintf("%.2f", snap.Max),
			fmt.Sprintf("%.2f", snap.Median),
			fmt.Sprintf("%.2f", snap.ReqPerSec),
		})
	}

	agg := aggregate(allSamples)
	reqPerSec := 0.0
	if !earliest.IsZero() {
		if elapsed := time.Since(earliest).Seconds(); elapsed > 0 {
			reqPerSec = float64(totalReqs) / elapsed
		}
	}
	table.Append([]string{
		"Aggregated",
		"",
		fmt.Sprintf("%d", totalReqs),
		fmt.Sprintf("%d", totalFailed),
		fmt.Sprintf("%.2f", agg.Avg),
		fmt.Sprintf("%.2f", agg.Min),
		fmt.Sprintf("%.2f", agg.Max),
		fmt.Sprintf("%.2f", agg.Median),
		fmt.Sprintf("%.2f", reqPerSec),
	})

	table.Render()
}

func aggregate(samples []float64) Snapshot {
	var snap Snapshot
	if len(samples) == 0 {
		return snap
	}
	sum := 0.0
	snap.Min = samples[0]
	snap.Max = samples[0]
	for _, v := range samples {
		sum += v
		if v < snap.Min {
			snap.Min = v
		}
		if v > snap.Max {
			snap.Max = v
		}
	}
	snap.Avg = sum / float64(len(samples))
	snap.Median = median(samples)
	return snap
}

func median(samples []float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// =============================================================================
// Bounded latency ring
// =============================================================================

// latencyRing keeps the most recent capacity samples.
type latencyRing struct {
	samples  []float64
	capacity int
	next     int
	full     bool
}

func newLatencyRing(capacity int) *latencyRing {
	return &latencyRing{samples: make([]float64, capacity), capacity: capacity}
}

func (r *latencyRing) append(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// values returns the stored samples in insertion order.
func (r *latencyRing) values() []float64 {
	if !r.full {
		return append([]float64(nil), r.samples[:r.next]...)
	}
	out := make([]float64, 0, r.capacity)
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}
