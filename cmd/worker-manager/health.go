package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"legal-rag-workers/internal/common/database"
)

const readyTimeout = 3 * time.Second

type sessionCounter interface {
	Len() int
}

// newHealthMux serves /health, /ready and /metrics. /ready pings every
// dependency and answers 503 naming the ones that failed.
func newHealthMux(deps map[string]database.Pinger, sessions sessionCounter) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		failures := database.CheckAll(r.Context(), readyTimeout, deps)
		body := map[string]interface{}{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		}
		if sessions != nil {
			body["sessions"] = sessions.Len()
		}
		if len(failures) > 0 {
			body["status"] = "not_ready"
			body["failing"] = database.Names(failures)
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
