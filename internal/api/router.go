package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"smartpesa/internal/config"
)

// UserHeader carries the authenticated caller id set by the upstream auth boundary.
const UserHeader = "X-User-ID"

type ctxKey struct{}

// RequestRecorder receives request timings. A nil recorder disables it.
type RequestRecorder interface {
	ObserveRequest(route string, code int, d time.Duration)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        http.Handler
	Recorder       RequestRecorder
}

// NewRouter registers every route and wraps the result in CORS handling.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(instrument(opts.Recorder, h.logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	// Lender endpoints are read-only and not tied to a business owner.
	lender := r.PathPrefix("/credit/lender").Subrouter()
	lender.HandleFunc("/business/{business_id}", h.LenderProfile).Methods(http.MethodGet)
	lender.HandleFunc("/businesses", h.LenderBusinesses).Methods(http.MethodGet)

	authed := r.PathPrefix("/").Subrouter()
	authed.Use(requireUser)
	authed.HandleFunc("/forecast/{business_id}/7days", h.Forecast(7)).Methods(http.MethodGet)
	authed.HandleFunc("/forecast/{business_id}/30days", h.Forecast(30)).Methods(http.MethodGet)
	authed.HandleFunc("/forecast/{business_id}/risk-alert", h.RiskAlert).Methods(http.MethodGet)
	authed.HandleFunc("/forecast/{business_id}/health", h.Health).Methods(http.MethodGet)
	authed.HandleFunc("/credit/business/{business_id}", h.CreditScore).Methods(http.MethodGet)
	authed.HandleFunc("/credit/business/{business_id}/history", h.CreditHistory).Methods(http.MethodGet)
	authed.HandleFunc("/credit/calculate-all", h.CalculateAll).Methods(http.MethodPost)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: allowCredentials(origins),
	})
	return c.Handler(r)
}

// NewHTTPServer builds the listener from server config.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
		if err != nil || id <= 0 {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func userFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(recorder RequestRecorder, logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			elapsed := time.Since(start)
			if recorder != nil {
				recorder.ObserveRequest(route, sw.status, elapsed)
			}
			logger.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", sw.status).
				Dur("duration", elapsed).
				Msg("request served")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// allowCredentials reports whether credentialed requests may be accepted. Browsers reject
// credentials against a wildcard origin.
func allowCredentials(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return false
		}
	}
	return true
}
