package violations

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndSnapshot(t *testing.T) {
	b := NewBookkeeper([]string{"response", "rel-defect"}, 0)

	first := time.Now()
	second := first.Add(time.Second)
	b.Record("response", first)
	b.Record("response", second)

	snap := b.Snapshot()
	require.Contains(t, snap, "response")
	assert.Equal(t, 2, snap["response"].Count)
	assert.Equal(t, second, snap["response"].Last)

	// Pre-seeded keys appear even without violations.
	assert.Equal(t, 0, snap["rel-defect"].Count)
	assert.True(t, snap["rel-defect"].Last.IsZero())
}

func TestRecordUnknownKeyIsAdded(t *testing.T) {
	b := NewBookkeeper(nil, 0)
	b.Record("req-1", time.Now())

	snap := b.Snapshot()
	assert.Equal(t, 1, snap["req-1"].Count)
}

func TestPeriodicSummaryDump(t *testing.T) {
	b := NewBookkeeper([]string{"response"}, 2)
	var buf bytes.Buffer
	b.SetOutput(&buf)

	b.Record("response", time.Now())
	assert.Zero(t, buf.Len())

	b.Record("response", time.Now())
	out := buf.String()
	assert.Contains(t, out, "Specification Violation Statistics")
	assert.Contains(t, out, "response")
}

func TestPrintTableShowsNAForCleanKeys(t *testing.T) {
	b := NewBookkeeper([]string{"response"}, 0)
	var buf bytes.Buffer
	b.SetOutput(&buf)

	b.PrintTable()
	assert.Contains(t, buf.String(), "N/A")
}
