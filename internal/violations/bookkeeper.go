package violations

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// record accumulates the violation history of one objective or requirement.
type record struct {
	timestamps []time.Time
	count      int
}

// Stats is the exported violation summary for one key.
type Stats struct {
	Count int       `json:"count"`
	Last  time.Time `json:"last"`
}

// Bookkeeper counts and timestamps specification violations per objective or
// requirement and renders the summary grid on demand.
type Bookkeeper struct {
	mu         sync.Mutex
	records    map[string]*record
	order      []string
	printEvery int
	counter    int
	out        io.Writer
}

// NewBookkeeper pre-seeds a row per known key so the summary always shows
// the full set, violated or not.
func NewBookkeeper(keys []string, printEvery int) *Bookkeeper {
	b := &Bookkeeper{
		records:    make(map[string]*record, len(keys)),
		printEvery: printEvery,
		out:        os.Stdout,
	}
	for _, key := range keys {
		b.records[key] = &record{}
		b.order = append(b.order, key)
	}
	return b
}

// SetOutput redirects the summary table (used by tests).
func (b *Bookkeeper) SetOutput(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = w
}

// Record appends one violation for the key.
func (b *Bookkeeper) Record(key string, at time.Time) {
	b.mu.Lock()
	r, ok := b.records[key]
	if !ok {
		r = &record{}
		b.records[key] = r
		b.order = append(b.order, key)
	}
	r.timestamps = append(r.timestamps, at)
	r.count++

	b.counter++
	dump := b.printEvery > 0 && b.counter%b.printEvery == 0
	b.mu.Unlock()

	if dump {
		b.PrintTable()
	}
}

// Snapshot returns the violation summary per key.
func (b *Bookkeeper) Snapshot() map[string]Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Stats, len(b.records))
	for key, r := range b.records {
		st := Stats{Count: r.count}
		if n := len(r.timestamps); n > 0 {
			st.Last = r.timestamps[n-1]
		}
		out[key] = st
	}
	return out
}

// PrintTable renders the violation statistics grid.
func (b *Bookkeeper) PrintTable() {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintln(b.out, "\nSpecification Violation Statistics:")
	table := tablewriter.NewWriter(b.out)
	table.SetHeader([]string{"Objective", "Violations Count", "Last Timestamp"})

	for _, key := range b.order {
		r := b.records[key]
		last := "N/A"
		if n := len(r.timestamps); n > 0 {
			last = r.timestamps[n-1].Format("2006-01-02 15:04:05")
		}
		table.Append([]string{key, fmt.Sprintf("%d", r.count), last})
	}
	table.Render()
}
