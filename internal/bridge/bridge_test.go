package bridge

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzilic1991/vermon-edge/internal/config"
	"github.com/jzilic1991/vermon-edge/internal/verifier"
)

type capturedPost struct {
	path    string
	verdict string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []capturedPost) {
	t.Helper()
	var mu sync.Mutex
	var posts []capturedPost

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		posts = append(posts, capturedPost{path: r.URL.Path, verdict: r.PostForm.Get("verdict")})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedPost {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedPost(nil), posts...)
	}
}

func hostOf(srv *httptest.Server) string {
	u, _ := url.Parse(srv.URL)
	return u.Host
}

func TestBridgePostsOnTransitionOnly(t *testing.T) {
	srv, posts := newCaptureServer(t)
	b := New(hostOf(srv), config.DefaultRequirementMapping())
	b.SetOutput(&bytes.Buffer{})

	v := verifier.Verdict{Verifier: verifier.ObjResponse, Outcome: verifier.Violated, At: time.Now()}

	b.HandleVerdict(v, false)
	assert.Empty(t, posts(), "steady state must not be re-asserted")

	b.HandleVerdict(v, true)
	got := posts()
	require.Len(t, got, 1)
	assert.Equal(t, "/response", got[0].path)
	assert.Equal(t, "false", got[0].verdict)

	// The flip back is a new transition and is posted again.
	b.HandleVerdict(verifier.Verdict{Verifier: verifier.ObjResponse, Outcome: verifier.Satisfied, At: time.Now()}, true)
	got = posts()
	require.Len(t, got, 2)
	assert.Equal(t, "true", got[1].verdict)
}

func TestBridgeIgnoresUntrackedVerifiers(t *testing.T) {
	srv, posts := newCaptureServer(t)
	b := New(hostOf(srv), config.DefaultRequirementMapping())
	b.SetOutput(&bytes.Buffer{})

	b.HandleVerdict(verifier.Verdict{Verifier: "R1.1_latency", Outcome: verifier.Violated, At: time.Now()}, true)
	assert.Empty(t, posts(), "cart verifiers are not bridged")
}

func TestBridgeTracksMappingObjectives(t *testing.T) {
	b := New("", config.DefaultRequirementMapping())

	tracked := b.TrackedObjectives()
	for _, obj := range []string{"response", "rel-defect", "reqs-throughput", "avail-saas", "rel-fail", "fail-detector"} {
		assert.Contains(t, tracked, obj)
	}
}

func TestBridgeVerdictTable(t *testing.T) {
	srv, _ := newCaptureServer(t)
	b := New(hostOf(srv), config.DefaultRequirementMapping())

	var buf bytes.Buffer
	b.SetOutput(&buf)

	b.HandleVerdict(verifier.Verdict{Verifier: verifier.ObjThroughput, Outcome: verifier.Satisfied, At: time.Now()}, true)

	assert.Equal(t, map[string]int{"reqs-throughput": 1}, b.Verdicts())
	out := buf.String()
	assert.Contains(t, out, "Verdict Change Notification")
	assert.True(t, strings.Contains(out, "reqs-throughput"))
}
