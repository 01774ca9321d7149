package bridge

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jzilic1991/vermon-edge/internal/trace"
	"github.com/jzilic1991/vermon-edge/internal/verifier"
)

// Fact is one composed tier-2 predicate fact, addressed to the requirement
// worker that evaluates its pattern.
type Fact struct {
	Pattern string
	Target  string
	Line    string
}

// RequirementState is the requirement-side verdict table. For every
// requirement pattern it remembers the last reported 0/1 of each composed
// objective; an incoming objective update recomposes the facts of every
// requirement that references it.
type RequirementState struct {
	mu       sync.Mutex
	mapping  map[string][]string
	patterns []string
	verdicts map[string]map[string]int // pattern -> objective -> 0/1
	lastTS   map[string]int64
}

// NewRequirementState seeds the table with all objectives at 0.
func NewRequirementState(mapping map[string][]string) *RequirementState {
	s := &RequirementState{
		mapping:  mapping,
		verdicts: make(map[string]map[string]int, len(mapping)),
		lastTS:   make(map[string]int64),
	}
	for pattern, objectives := range mapping {
		s.patterns = append(s.patterns, pattern)
		row := make(map[string]int, len(objectives))
		for _, obj := range objectives {
			row[obj] = 0
		}
		s.verdicts[pattern] = row
	}
	sort.Strings(s.patterns)
	return s
}

// Update records a new verdict for the objective and returns the recomposed
// tier-2 facts for every requirement referencing it. An objective unknown to
// every requirement yields no facts.
func (s *RequirementState) Update(objective string, verdict int) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var facts []Fact
	for _, pattern := range s.patterns {
		row := s.verdicts[pattern]
		if _, ok := row[objective]; !ok {
			continue
		}
		row[objective] = verdict

		target, ok := verifier.RequirementProcForPattern(pattern)
		if !ok {
			continue
		}
		facts = append(facts, Fact{
			Pattern: pattern,
			Target:  target,
			Line:    s.compose(pattern),
		})
	}
	return facts
}

// compose renders "@<ts> <pattern>(v1, v2, ...)" with arguments in mapping
// order and a per-pattern monotone timestamp. Caller holds the mutex.
func (s *RequirementState) compose(pattern string) string {
	ts := time.Now().Unix()
	if last, ok := s.lastTS[pattern]; ok && ts < last {
		ts = last
	}
	s.lastTS[pattern] = ts

	row := s.verdicts[pattern]
	args := make([]string, 0, len(s.mapping[pattern]))
	for _, obj := range s.mapping[pattern] {
		args = append(args, fmt.Sprintf("%d", row[obj]))
	}
	return trace.Frame(ts, fmt.Sprintf("%s(%s)", pattern, strings.Join(args, ", ")))
}

// Knows reports whether any requirement references the objective.
func (s *RequirementState) Knows(objective string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.verdicts {
		if _, ok := row[objective]; ok {
			return true
		}
	}
	return false
}

// Table returns a copy of the composed verdict table.
func (s *RequirementState) Table() map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]int, len(s.verdicts))
	for pattern, row := range s.verdicts {
		cp := make(map[string]int, len(row))
		for obj, v := range row {
			cp[obj] = v
		}
		out[pattern] = cp
	}
	return out
}
