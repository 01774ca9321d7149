package verifier

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSpecFiles drops a minimal sig/formula pair for the named verifier.
func writeSpecFiles(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".sig"),
		[]byte("responsetime(int, float)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".mfotl"),
		[]byte("ALWAYS FORALL h, rt. responsetime(h, rt) IMPLIES rt < 400.0\n"), 0o644))
}

// writeEvaluator creates a stand-in evaluator script.
func writeEvaluator(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evaluator.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func testOptions(t *testing.T, evaluatorBody string) WorkerOptions {
	t.Helper()
	dir := t.TempDir()
	writeSpecFiles(t, dir, "response")
	return WorkerOptions{
		SpecDir:     dir,
		BinaryPath:  writeEvaluator(t, evaluatorBody),
		ReadTimeout: 200 * time.Millisecond,
		QueueSize:   16,
		DrainGrace:  2 * time.Second,
	}
}

const echoSatisfied = `while read line; do echo "@1700000000.0 (time point 0): ()"; done`

func TestWorkerSatisfiedOutput(t *testing.T) {
	w, err := newWorker("response", testOptions(t, echoSatisfied))
	require.NoError(t, err)
	defer w.Close()

	outcome := w.submit("@1 responsetime(1, 12.000)", 500*time.Millisecond)
	assert.Equal(t, Satisfied, outcome)
	assert.False(t, w.Failed())
}

func TestWorkerUnexpectedOutputIsViolation(t *testing.T) {
	w, err := newWorker("response", testOptions(t,
		`while read line; do echo "no verdict here"; done`))
	require.NoError(t, err)
	defer w.Close()

	outcome := w.submit("@1 responsetime(1, 12.000)", 500*time.Millisecond)
	assert.Equal(t, Violated, outcome)
	assert.False(t, w.Failed(), "format mismatch is a verdict, not a worker failure")
}

func TestWorkerReadTimeoutIsViolation(t *testing.T) {
	w, err := newWorker("response", testOptions(t,
		`while read line; do sleep 5; done`))
	require.NoError(t, err)
	defer w.Close()

	outcome := w.submit("@1 responsetime(1, 12.000)", 500*time.Millisecond)
	assert.Equal(t, Violated, outcome)
	assert.False(t, w.Failed(), "a slow evaluator stays in the pool")
}

func TestWorkerDeadChildMarksFailed(t *testing.T) {
	w, err := newWorker("response", testOptions(t, `exit 1`))
	require.NoError(t, err)
	defer w.Close()

	// Give the child a moment to die.
	time.Sleep(100 * time.Millisecond)

	outcome := w.submit("@1 responsetime(1, 12.000)", 500*time.Millisecond)
	assert.Equal(t, Violated, outcome)

	// Every later submission short-circuits.
	outcome = w.submit("@2 responsetime(1, 13.000)", 500*time.Millisecond)
	assert.Equal(t, Violated, outcome)
	assert.True(t, w.Failed())
}

func TestWorkerMissingSpecFilesFailsConstruction(t *testing.T) {
	dir := t.TempDir() // no spec files
	_, err := newWorker("response", WorkerOptions{
		SpecDir:     dir,
		BinaryPath:  writeEvaluator(t, echoSatisfied),
		ReadTimeout: 100 * time.Millisecond,
		QueueSize:   4,
		DrainGrace:  time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec file missing")
}

func TestWorkerVerdictOrderMatchesSubmissionOrder(t *testing.T) {
	// Alternate satisfied / garbage output so consecutive verdicts differ.
	w, err := newWorker("response", testOptions(t,
		`n=0
while read line; do
  if [ $((n % 2)) -eq 0 ]; then echo "@1.0 (time point $n): ()"; else echo "nope"; fi
  n=$((n + 1))
done`))
	require.NoError(t, err)
	defer w.Close()

	expected := []Outcome{Satisfied, Violated, Satisfied, Violated}
	for i, want := range expected {
		got := w.submit("@1 responsetime(1, 1.000)", 500*time.Millisecond)
		assert.Equal(t, want, got, "submission %d", i)
	}
}

func TestWorkerCloseIsIdempotent(t *testing.T) {
	w, err := newWorker("response", testOptions(t, echoSatisfied))
	require.NoError(t, err)

	w.Close()
	w.Close()

	assert.Equal(t, Violated, w.submit("@1 responsetime(1, 1.000)", 100*time.Millisecond))
}
