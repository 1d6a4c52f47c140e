package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"serpradio/config"
	"serpradio/radar"
	"serpradio/telemetry"
)

type stubRadar struct {
	summary radar.CycleSummary
	ok      bool
}

func (s stubRadar) LastCycle() (radar.CycleSummary, bool) {
	return s.summary, s.ok
}

type stubMetrics struct {
	lastFormat string
	err        error
}

func (s *stubMetrics) Gather(format string) (telemetry.GatherResponse, error) {
	s.lastFormat = format
	if s.err != nil {
		return telemetry.GatherResponse{}, s.err
	}
	return telemetry.GatherResponse{
		Metrics:     []byte(`{"counters":[]}`),
		ContentType: "application/json",
	}, nil
}

func newTestRouter(radarWorker Radar, metrics Metrics) *mux.Router {
	rtr := mux.NewRouter()
	New(zerolog.Nop(), config.Config{}, radarWorker, metrics).RegisterRoutes(rtr, APIPathPrefix)
	return rtr
}

func serve(t *testing.T, rtr *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	recorder := httptest.NewRecorder()
	rtr.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthzHandler(t *testing.T) {
	rtr := newTestRouter(stubRadar{summary: radar.CycleSummary{CycleID: "cycle-42"}, ok: true}, nil)

	recorder := serve(t, rtr, "/api/v1/healthz")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp HealthZResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, "available", resp.Status)
	require.NotEmpty(t, resp.Uptime)
	require.Equal(t, "cycle-42", resp.LastCycleID)
}

func TestHealthzHandlerBeforeFirstCycle(t *testing.T) {
	rtr := newTestRouter(stubRadar{}, nil)

	recorder := serve(t, rtr, "/api/v1/healthz")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp HealthZResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, "available", resp.Status)
	require.Empty(t, resp.LastCycleID)
}

func TestStatusHandler(t *testing.T) {
	summary := radar.CycleSummary{
		CycleID:        "cycle-42",
		BatchesPlanned: 4,
		Fetched:        120,
		Upserted:       118,
		BaselineRows:   16,
		EventsEmitted:  2,
	}
	rtr := newTestRouter(stubRadar{summary: summary, ok: true}, nil)

	recorder := serve(t, rtr, "/api/v1/status")
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp radar.CycleSummary
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, summary, resp)
}

func TestStatusHandlerNoCycle(t *testing.T) {
	rtr := newTestRouter(stubRadar{}, nil)

	recorder := serve(t, rtr, "/api/v1/status")
	require.Equal(t, http.StatusNotFound, recorder.Code)

	var resp ErrResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "no ingestion cycle")
}

func TestMetricsHandler(t *testing.T) {
	metrics := &stubMetrics{}
	rtr := newTestRouter(stubRadar{}, metrics)

	recorder := serve(t, rtr, "/api/v1/metrics?format=text")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	require.Equal(t, "text", metrics.lastFormat)
	require.JSONEq(t, `{"counters":[]}`, recorder.Body.String())
}

func TestMetricsHandlerDisabled(t *testing.T) {
	rtr := newTestRouter(stubRadar{}, nil)

	recorder := serve(t, rtr, "/api/v1/metrics")
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var resp ErrResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "telemetry is disabled")
}

func TestMetricsHandlerGatherError(t *testing.T) {
	metrics := &stubMetrics{err: errors.New("unsupported metrics format: yaml")}
	rtr := newTestRouter(stubRadar{}, metrics)

	recorder := serve(t, rtr, "/api/v1/metrics?format=yaml")
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var resp ErrResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "failed to gather metrics")
}

func TestUnknownRoute(t *testing.T) {
	rtr := newTestRouter(stubRadar{}, nil)

	recorder := serve(t, rtr, "/api/v1/prices")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}
