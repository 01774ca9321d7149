package bridge

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jzilic1991/vermon-edge/internal/verifier"
)

// Bridge forwards objective verdict transitions to the requirement-tier
// instance. Steady-state verdicts are never re-asserted: the requirement
// state machine only sees change events.
type Bridge struct {
	mu       sync.Mutex
	tracked  map[string]bool
	verdicts map[string]verifier.Outcome
	order    []string

	targetHost string
	client     *http.Client
	out        io.Writer
}

// New creates a bridge posting to the requirement instance at targetHost
// (host:port). Only objectives referenced by the requirement mapping are
// tracked; verdicts of other verifiers pass through untouched.
func New(targetHost string, mapping map[string][]string) *Bridge {
	tracked := make(map[string]bool)
	for _, objectives := range mapping {
		for _, obj := range objectives {
			tracked[obj] = true
		}
	}

	order := make([]string, 0, len(tracked))
	for obj := range tracked {
		order = append(order, obj)
	}
	sort.Strings(order)

	return &Bridge{
		tracked:    tracked,
		verdicts:   make(map[string]verifier.Outcome),
		order:      order,
		targetHost: targetHost,
		client:     &http.Client{Timeout: 10 * time.Second},
		out:        os.Stdout,
	}
}

// SetOutput redirects the notification table (used by tests).
func (b *Bridge) SetOutput(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = w
}

// HandleVerdict is the pool listener. On a transition of a tracked objective
// it records the new verdict and posts it to the requirement instance.
func (b *Bridge) HandleVerdict(v verifier.Verdict, transition bool) {
	if !b.tracked[v.Verifier] {
		return
	}
	if !transition {
		return
	}

	b.mu.Lock()
	previous, known := b.verdicts[v.Verifier]
	b.verdicts[v.Verifier] = v.Outcome
	b.printNotification(v.Verifier, previous, known, v.Outcome)
	b.mu.Unlock()

	b.post(v.Verifier, v.Outcome)
}

// post delivers the flipped verdict as a form POST to the objective's
// endpoint on the requirement instance.
func (b *Bridge) post(objective string, outcome verifier.Outcome) {
	if b.targetHost == "" {
		slog.Warn("No requirement verifier configured, dropping transition", "objective", objective)
		return
	}

	endpoint := fmt.Sprintf("http://%s/%s", b.targetHost, objective)
	form := url.Values{"verdict": {fmt.Sprintf("%t", outcome == verifier.Satisfied)}}

	resp, err := b.client.PostForm(endpoint, form)
	if err != nil {
		slog.Warn("Failed to send verdict to requirement instance", "endpoint", endpoint, "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Requirement instance rejected verdict", "endpoint", endpoint, "status", resp.StatusCode)
		return
	}
	slog.Info("Bridged verdict transition", "objective", objective, "verdict", outcome.Int())
}

// printNotification renders the verdict-change grid across all tracked
// objectives. Caller holds the mutex.
func (b *Bridge) printNotification(changed string, previous verifier.Outcome, known bool, current verifier.Outcome) {
	fmt.Fprintln(b.out, "\nVerdict Change Notification:")
	table := tablewriter.NewWriter(b.out)
	table.SetHeader([]string{"Objective", "Current Verdict"})

	for _, obj := range b.order {
		label := obj
		value := "-"
		if v, ok := b.verdicts[obj]; ok {
			value = fmt.Sprintf("%d", v.Int())
		}
		if obj == changed {
			if known {
				label = fmt.Sprintf("%s (%d -> %d)", obj, previous.Int(), current.Int())
			} else {
				label = fmt.Sprintf("%s (-> %d)", obj, current.Int())
			}
		}
		table.Append([]string{label, value})
	}
	table.Render()
}

// Verdicts returns a copy of the tracked objective verdict table.
func (b *Bridge) Verdicts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.verdicts))
	for obj, v := range b.verdicts {
		out[obj] = v.Int()
	}
	return out
}

// TrackedObjectives lists the objectives the mapping references, sorted.
func (b *Bridge) TrackedObjectives() []string {
	return append([]string(nil), b.order...)
}
