package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jzilic1991/vermon-edge/internal/trace"
)

// NewObjectiveRouter builds the obj-mode HTTP surface: the proxied shop
// endpoints plus the metrics ingress and the observability routes.
func NewObjectiveRouter(core *Core) *mux.Router {
	h := &objHandlers{core: core}

	r := mux.NewRouter()

	r.HandleFunc("/", h.index).Methods("GET")
	r.HandleFunc("/cart", h.getCart).Methods("GET")
	r.HandleFunc("/cart", h.addToCart).Methods("POST")
	r.HandleFunc("/cart/empty", h.emptyCart).Methods("POST")
	r.HandleFunc("/cart/empty", h.getCartEmpty).Methods("GET")
	r.HandleFunc("/cart/checkout", h.checkout).Methods("POST")
	r.HandleFunc("/logout", h.logout).Methods("GET")
	r.HandleFunc("/product/{id}", h.product).Methods("GET")
	r.HandleFunc("/setCurrency", h.setCurrency).Methods("POST")
	r.HandleFunc("/metrics", h.ingestMetrics).Methods("POST")

	registerCommonRoutes(r, core)

	r.Use(LoggingMiddleware)
	return r
}

// registerCommonRoutes adds the routes both modes expose.
func registerCommonRoutes(r *mux.Router, core *Core) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}).Methods("GET")

	r.Handle("/metrics/prometheus", promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/ws/verdicts", core.Hub.HandleWebSocket)

	r.HandleFunc("/verifiers/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"verifiers":  core.Pool.Snapshot(),
			"violations": core.Book.Snapshot(),
		})
	}).Methods("GET")

	r.HandleFunc("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		bindings := core.Sessions.Bindings()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": bindings,
			"count":    len(bindings),
		})
	}).Methods("GET")
}

type objHandlers struct {
	core *Core
}

func (h *objHandlers) index(w http.ResponseWriter, r *http.Request) {
	h.core.Forwarder.Forward(w, r, "index", http.MethodGet, nil)
}

func (h *objHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.core.Forwarder.Forward(w, r, "cart", http.MethodGet, nil)
}

func (h *objHandlers) addToCart(w http.ResponseWriter, r *http.Request) {
	form, err := requireForm(r, "product_id", "quantity", "user")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	h.core.Forwarder.Forward(w, r, "cart", http.MethodPost, form)
}

func (h *objHandlers) emptyCart(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	h.core.Forwarder.Forward(w, r, "empty", http.MethodPost, r.PostForm)
}

func (h *objHandlers) getCartEmpty(w http.ResponseWriter, r *http.Request) {
	h.core.Forwarder.Forward(w, r, "empty", http.MethodGet, nil)
}

func (h *objHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	form, err := requireForm(r,
		"email", "street_address", "zip_code", "city", "state", "country",
		"credit_card_number", "credit_card_expiration_month",
		"credit_card_expiration_year", "credit_card_cvv")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	h.core.Forwarder.Forward(w, r, "checkout", http.MethodPost, form)
}

func (h *objHandlers) logout(w http.ResponseWriter, r *http.Request) {
	h.core.Forwarder.Forward(w, r, "logout", http.MethodGet, nil)
}

func (h *objHandlers) product(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	h.core.Forwarder.Forward(w, r, "product", http.MethodGet, nil, productID)
}

func (h *objHandlers) setCurrency(w http.ResponseWriter, r *http.Request) {
	form, err := requireForm(r, "currency_code")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	h.core.Forwarder.Forward(w, r, "currency", http.MethodPost, form)
}

// metricsIngest is the body of the metrics agent's POST /metrics.
type metricsIngest struct {
	ServiceName string `json:"service_name"`
	Metrics     struct {
		CPU    float64 `json:"cpu"`
		Memory float64 `json:"memory"`
	} `json:"metrics"`
}

func (h *objHandlers) ingestMetrics(w http.ResponseWriter, r *http.Request) {
	var body metricsIngest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid metrics payload"})
		return
	}
	if body.ServiceName == "" {
		body.ServiceName = "unknown"
	}

	slog.Info("Resource usage received",
		"service", strings.ToUpper(body.ServiceName),
		"cpu_percent", fmt.Sprintf("%.2f", body.Metrics.CPU),
		"memory_mb", fmt.Sprintf("%.2f", body.Metrics.Memory))

	h.core.ProcessEvent(trace.Event{
		Type:      trace.EventMetrics,
		CPU:       body.Metrics.CPU,
		Mem:       body.Metrics.Memory,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireForm parses the request form and checks the required fields are
// present, returning the parsed values.
func requireForm(r *http.Request, fields ...string) (url.Values, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body")
	}
	for _, field := range fields {
		if r.PostForm.Get(field) == "" {
			return nil, fmt.Errorf("missing form field %q", field)
		}
	}
	return r.PostForm, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
