// Package server exposes the thin operator-facing HTTP API: connection and
// watch rule configuration, ledger inspection, manual job triggers, and
// the health/metrics endpoints. The harvesting core never depends on this
// package; configuration flows one way, from here into the database.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logharvest/internal/scheduler"
	"logharvest/internal/sshclient"
)

// Package-level collaborators, set from main before the router is built.
var (
	Sched    *scheduler.Scheduler
	Sessions *sshclient.Manager
)

// NewRouter builds the admin API router.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", healthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/connections", listConnections)
		r.Post("/connections", createConnection)
		r.Delete("/connections/{name}", deleteConnection)
		r.Post("/connections/{name}/test", testConnection)

		r.Get("/watchrules", listWatchRules)
		r.Post("/watchrules", createWatchRule)
		r.Delete("/watchrules/{name}", deleteWatchRule)
		r.Put("/watchrules/{name}/enabled", setWatchRuleEnabled)

		r.Get("/records", listRecords)

		r.Post("/jobs/{name}/run", triggerJob)

		r.Get("/logs", serverLogs)
	})

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
