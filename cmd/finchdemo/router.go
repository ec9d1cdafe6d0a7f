package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/oliveigah/finch/finch"
)

// NewRouter returns a chi Router exposing health, pool status, and metrics
// reset endpoints for a single named pool/origin, following the teacher's
// router.NewRouter shape (middleware chain, then route registration).
func NewRouter(poolName string, origin finch.Origin, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"finchdemo"}`))
	})

	r.Get("/pools/status", func(w http.ResponseWriter, r *http.Request) {
		statuses, err := finch.GetPoolStatus(finch.DefaultRegistry, poolName, origin)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	r.Post("/pools/reset", func(w http.ResponseWriter, r *http.Request) {
		deadline := time.Now().Add(2 * time.Second)
		if err := finch.ResetMetrics(finch.DefaultRegistry, poolName, origin, deadline); err != nil {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// securityHeaders sets the same baseline response headers the teacher's
// gateway middleware sets, trimmed to what a plain admin surface needs.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
