package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jzilic1991/vermon-edge/internal/verifier"
)

// NewRequirementRouter builds the req-mode HTTP surface: verdict endpoints
// for response, reqs-throughput and rel-defect plus the observability routes.
// Other mapped objectives have no endpoint.
func NewRequirementRouter(core *Core) *mux.Router {
	r := mux.NewRouter()

	for _, objective := range []string{verifier.ObjResponse, verifier.ObjThroughput, verifier.ObjRelDefect} {
		r.HandleFunc("/"+objective, makeVerdictHandler(core, objective)).Methods("POST")
	}

	registerCommonRoutes(r, core)

	r.Use(LoggingMiddleware)
	return r
}

// makeVerdictHandler accepts one tier-1 verdict, recomposes the tier-2 facts
// of every requirement referencing the objective and evaluates them.
func makeVerdictHandler(core *Core, objective string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid form body"})
			return
		}

		verdict, err := strconv.ParseBool(r.PostForm.Get("verdict"))
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "verdict must be a boolean"})
			return
		}

		if !core.ReqState.Knows(objective) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Objective not related to any requirement"})
			return
		}

		value := 0
		if verdict {
			value = 1
		}

		for _, fact := range core.ReqState.Update(objective, value) {
			core.Submit(fact.Line, []string{fact.Target})
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}
}
