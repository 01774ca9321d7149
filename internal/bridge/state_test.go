package bridge

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzilic1991/vermon-edge/internal/config"
)

func factsByPattern(facts []Fact) map[string]Fact {
	out := make(map[string]Fact, len(facts))
	for _, f := range facts {
		out[f.Pattern] = f
	}
	return out
}

func TestUpdateRecomposesEveryReferencingRequirement(t *testing.T) {
	s := NewRequirementState(config.DefaultRequirementMapping())

	facts := s.Update("response", 1)
	byPattern := factsByPattern(facts)

	// response appears in all three requirements.
	require.Len(t, facts, 3)
	assert.Equal(t, "req-1", byPattern["req1"].Target)
	assert.Equal(t, "req-2", byPattern["req2"].Target)
	assert.Equal(t, "req-3", byPattern["req3"].Target)

	// Argument order follows the mapping; response is first in req1.
	assert.Regexp(t, regexp.MustCompile(`^@\d+ req1\(1, 0, 0\)$`), byPattern["req1"].Line)
	// ... third in req2.
	assert.Regexp(t, regexp.MustCompile(`^@\d+ req2\(0, 0, 1, 0\)$`), byPattern["req2"].Line)
	// ... second in req3.
	assert.Regexp(t, regexp.MustCompile(`^@\d+ req3\(0, 1, 0\)$`), byPattern["req3"].Line)
}

func TestUpdateScopedToReferencingRequirements(t *testing.T) {
	s := NewRequirementState(config.DefaultRequirementMapping())

	facts := s.Update("rel-defect", 1)
	require.Len(t, facts, 1, "rel-defect only appears in req1")
	assert.Equal(t, "req1", facts[0].Pattern)
}

func TestUpdateUnknownObjective(t *testing.T) {
	s := NewRequirementState(config.DefaultRequirementMapping())

	assert.Empty(t, s.Update("pck-throughput", 1))
	assert.False(t, s.Knows("pck-throughput"))
	assert.True(t, s.Knows("response"))
}

func TestVerdictBitsPersistAcrossUpdates(t *testing.T) {
	s := NewRequirementState(config.DefaultRequirementMapping())

	s.Update("response", 1)
	facts := s.Update("reqs-throughput", 1)
	byPattern := factsByPattern(facts)

	assert.Regexp(t, regexp.MustCompile(`^@\d+ req1\(1, 0, 1\)$`), byPattern["req1"].Line)

	table := s.Table()
	assert.Equal(t, 1, table["req1"]["response"])
	assert.Equal(t, 1, table["req1"]["reqs-throughput"])
	assert.Equal(t, 0, table["req1"]["rel-defect"])
}

func TestComposedTimestampsAreMonotone(t *testing.T) {
	s := NewRequirementState(config.DefaultRequirementMapping())

	extract := regexp.MustCompile(`^@(\d+) `)
	var last int64
	for i := 0; i < 3; i++ {
		facts := s.Update("response", i%2)
		for _, f := range facts {
			m := extract.FindStringSubmatch(f.Line)
			require.NotNil(t, m)
			var ts int64
			fmt.Sscanf(m[1], "%d", &ts)
			assert.GreaterOrEqual(t, ts, last)
			if f.Pattern == "req1" {
				last = ts
			}
		}
	}
}
