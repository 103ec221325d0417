// Package health provides the liveness and readiness endpoints for the
// Sensai server.
//
//   - /healthz — liveness probe; a process that can serve HTTP is alive.
//   - /readyz  — readiness probe; passes only when every registered
//     [Checker] (typically the Postgres conversation and knowledge stores)
//     passes.
//
// Readiness is about hard dependencies only. The router itself degrades
// gracefully when a tier is down, so tier backends are deliberately not
// readiness checks: a Sensai with only the rule tier is still ready.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and a descriptive error otherwise. It must respect context
// cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// result is the JSON response body for both endpoints.
type result struct {
	Status  string            `json:"status"`
	Service string            `json:"service,omitempty"`
	UptimeS int64             `json:"uptime_s,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, started: time.Now()}
}

// Healthz is the liveness probe. Always 200, with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{
		Status:  "ok",
		Service: "sensai",
		UptimeS: int64(time.Since(h.started).Seconds()),
	})
}

// Readyz is the readiness probe: 200 only when every checker passes. Each
// checker runs under a [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
