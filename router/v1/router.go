package v1

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"serpradio/config"
	"serpradio/router/middleware"
)

// APIPathPrefix defines the v1 API path prefix.
const APIPathPrefix = "/api/v1"

// Router defines a router wrapper used for registering v1 API routes.
type Router struct {
	logger    zerolog.Logger
	cfg       config.Config
	radar     Radar
	metrics   Metrics
	startedAt time.Time
}

func New(logger zerolog.Logger, cfg config.Config, radarWorker Radar, metrics Metrics) *Router {
	return &Router{
		logger:    logger.With().Str("module", "router").Logger(),
		cfg:       cfg,
		radar:     radarWorker,
		metrics:   metrics,
		startedAt: time.Now(),
	}
}

// RegisterRoutes mounts all v1 API routes on the provided router under the
// given path prefix.
func (r *Router) RegisterRoutes(rtr *mux.Router, prefix string) {
	v1Router := rtr.PathPrefix(prefix).Subrouter()

	mChain := middleware.Build(r.logger, r.cfg)

	// answer preflight requests before any route matching
	v1Router.Methods(http.MethodOptions).Handler(
		mChain.Then(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	v1Router.Handle(
		"/healthz",
		mChain.Then(r.healthzHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/status",
		mChain.Then(r.statusHandler()),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/metrics",
		mChain.Then(r.metricsHandler()),
	).Methods(http.MethodGet)
}

// HealthZResponse defines the payload of the healthz handler.
type HealthZResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	LastCycleID string `json:"last_cycle_id,omitempty"`
}

func (r *Router) healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthZResponse{
			Status: "available",
			Uptime: time.Since(r.startedAt).Round(time.Second).String(),
		}
		if last, ok := r.radar.LastCycle(); ok {
			resp.LastCycleID = last.CycleID
		}

		writeJSONResponse(w, http.StatusOK, resp)
	}
}

func (r *Router) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		last, ok := r.radar.LastCycle()
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, "no ingestion cycle has finished yet")
			return
		}

		writeJSONResponse(w, http.StatusOK, last)
	}
}

func (r *Router) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.metrics == nil {
			writeErrorResponse(w, http.StatusBadRequest, "telemetry is disabled")
			return
		}

		format := strings.TrimSpace(req.URL.Query().Get("format"))
		gathered, err := r.metrics.Gather(format)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("failed to gather metrics: %s", err))
			return
		}

		w.Header().Set("Content-Type", gathered.ContentType)
		_, _ = w.Write(gathered.Metrics)
	}
}
