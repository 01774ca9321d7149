package forward

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jzilic1991/vermon-edge/internal/metrics"
	"github.com/jzilic1991/vermon-edge/internal/session"
	"github.com/jzilic1991/vermon-edge/internal/trace"
)

// EventSink receives the semantic event synthesized from one successful
// proxied interaction.
type EventSink func(trace.Event)

// LatencySink receives the response time (milliseconds) of one successful
// proxied interaction.
type LatencySink func(ms float64)

// Forwarder proxies client calls to the configured downstream services,
// records latencies and failures, maintains session cookies, and synthesizes
// the semantic events feeding the verification pipeline.
type Forwarder struct {
	services map[string]string
	client   *http.Client

	store    *metrics.Store
	sessions *session.Tracker

	sink      EventSink
	onLatency LatencySink

	defaultUser string
}

// New creates a forwarder over the service-key -> URL map. Redirects are
// followed at most once; the final response is what the client sees.
func New(services map[string]string, store *metrics.Store, sessions *session.Tracker,
	timeout time.Duration, defaultUser string) *Forwarder {

	return &Forwarder{
		services: services,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		store:       store,
		sessions:    sessions,
		defaultUser: defaultUser,
	}
}

// SetSinks wires the event and latency callbacks. Both may be nil during
// tests.
func (f *Forwarder) SetSinks(sink EventSink, onLatency LatencySink) {
	f.sink = sink
	f.onLatency = onLatency
}

// Services returns the configured downstream keys.
func (f *Forwarder) Services() []string {
	keys := make([]string, 0, len(f.services))
	for k := range f.services {
		keys = append(keys, k)
	}
	return keys
}

// Forward proxies one client request to the named downstream service. form
// carries the already-parsed body for POSTs; pathParams are appended to the
// downstream URL.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, service, method string, form url.Values, pathParams ...string) {
	base, ok := f.services[service]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Service not found")
		return
	}

	target := strings.TrimRight(base, "/")
	for _, p := range pathParams {
		target += "/" + p
	}

	user := f.resolveUser(r, form)

	out, err := f.buildRequest(r, method, target, form, user)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to build downstream request")
		return
	}

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		slog.Warn("Downstream request failed", "service", service, "url", target, "error", err)
		f.store.RecordFailure(service)
		writeJSONError(w, http.StatusBadGateway, "Downstream service unreachable")
		return
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.store.RecordFailure(service)
		writeJSONError(w, http.StatusBadGateway, "Downstream response unreadable")
		return
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusFound {
		ms := float64(elapsed) / float64(time.Millisecond)
		f.store.RecordLatency(service, ms)
		f.sessions.Observe(user, resp)
		if f.onLatency != nil {
			f.onLatency(ms)
		}
		f.emitEvents(service, method, user, resp.StatusCode, body)
	} else {
		f.store.RecordFailure(service)
	}

	relayResponse(w, resp, body)
}

// resolveUser derives the acting user: query parameter first, then the form
// body, then the configured default.
func (f *Forwarder) resolveUser(r *http.Request, form url.Values) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	if form != nil {
		if u := form.Get("user"); u != "" {
			return u
		}
	}
	return f.defaultUser
}

// buildRequest assembles the outbound request, preserving query parameters,
// form body and the user's session cookie.
func (f *Forwarder) buildRequest(r *http.Request, method, target string, form url.Values, user string) (*http.Request, error) {
	var body io.Reader
	if method == http.MethodPost && form != nil {
		body = strings.NewReader(form.Encode())
	}

	out, err := http.NewRequestWithContext(r.Context(), method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		out.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	out.URL.RawQuery = r.URL.RawQuery

	f.sessions.Attach(out, user)
	return out, nil
}

// emitEvents synthesizes the semantic events for one successful interaction.
func (f *Forwarder) emitEvents(service, method, user string, status int, body []byte) {
	if f.sink == nil {
		return
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	sessionID, _ := f.sessions.SessionFor(user)

	if eventType, op, ok := inferEvent(method, service); ok {
		ev := trace.Event{
			Type:      eventType,
			User:      user,
			Session:   sessionID,
			Op:        op,
			Status:    status,
			Timestamp: now,
		}
		if eventType == trace.EventGetCart || eventType == trace.EventGetCartEmpty {
			ev.Cart = parseCartItems(body)
		}
		f.sink(ev)
	}

	if op, ok := cartOpName(method, service); ok {
		f.sink(trace.Event{
			Type:      trace.EventCartOp,
			User:      user,
			Session:   sessionID,
			Op:        op,
			Status:    status,
			Timestamp: now,
		})
	}
}

// inferEvent maps an observed method + service key to the cart event type it
// represents.
func inferEvent(method, service string) (eventType, op string, ok bool) {
	switch {
	case method == http.MethodPost && service == "cart":
		return trace.EventAddItem, "AddItem", true
	case method == http.MethodGet && service == "cart":
		return trace.EventGetCart, "GetCart", true
	case method == http.MethodPost && service == "empty":
		return trace.EventEmptyCart, "EmptyCart", true
	case method == http.MethodGet && service == "empty":
		return trace.EventGetCartEmpty, "GetCartEmpty", true
	}
	return "", "", false
}

// cartOpName names the cart-family operation for the failure-rate monitor.
func cartOpName(method, service string) (string, bool) {
	switch service {
	case "cart":
		if method == http.MethodPost {
			return "AddItem", true
		}
		return "GetCart", true
	case "empty":
		return "EmptyCart", true
	case "checkout":
		return "Checkout", true
	}
	return "", false
}

// parseCartItems extracts product ids from a cart response body. Best
// effort: an unparseable body yields an empty cart and never affects the
// client response.
func parseCartItems(body []byte) []string {
	var wrapped struct {
		Items []struct {
			ProductID string `json:"product_id"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Items != nil {
		items := make([]string, 0, len(wrapped.Items))
		for _, it := range wrapped.Items {
			items = append(items, it.ProductID)
		}
		return items
	}

	var list []struct {
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(body, &list); err == nil {
		items := make([]string, 0, len(list))
		for _, it := range list {
			items = append(items, it.ProductID)
		}
		return items
	}

	return nil
}

// relayResponse copies the downstream status and body to the client.
func relayResponse(w http.ResponseWriter, resp *http.Response, body []byte) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// ErrUnknownService is returned by Lookup for unmapped keys.
var ErrUnknownService = fmt.Errorf("unknown downstream service")

// Lookup resolves a service key to its downstream URL.
func (f *Forwarder) Lookup(service string) (string, error) {
	base, ok := f.services[service]
	if !ok {
		return "", ErrUnknownService
	}
	return base, nil
}
