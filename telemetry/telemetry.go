package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	metrics "github.com/armon/go-metrics"
	metricsprom "github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// globalLabels defines the set of global labels that will be applied to all
// metrics emitted using the telemetry package function wrappers.
var globalLabels = []metrics.Label{}

// Supported metrics formats.
const (
	FormatDefault    = ""
	FormatPrometheus = "prometheus"
	FormatText       = "text"
)

// Config defines the configuration options for application telemetry.
type Config struct {
	// Prefixed with keys to separate services.
	ServiceName string `mapstructure:"service-name"`

	// Enabled enables the application telemetry functionality. When enabled,
	// an in-memory sink is also enabled by default.
	Enabled bool `mapstructure:"enabled"`

	// Enable prefixing gauge values with hostname.
	EnableHostname bool `mapstructure:"enable-hostname"`

	// Enable adding hostname to labels.
	EnableHostnameLabel bool `mapstructure:"enable-hostname-label"`

	// Enable adding service to labels.
	EnableServiceLabel bool `mapstructure:"enable-service-label"`

	// GlobalLabels defines a global set of name/value label tuples applied
	// to all metrics emitted using the wrapper functions defined in this
	// package.
	GlobalLabels [][]string `mapstructure:"global-labels"`

	// PrometheusRetentionTime, when positive, enables a Prometheus metrics
	// sink. It defines the retention duration in seconds.
	PrometheusRetentionTime int64 `mapstructure:"prometheus-retention-time"`
}

// Metrics defines a wrapper around application telemetry functionality. It
// allows metrics to be gathered at any point in time.
type Metrics struct {
	memSink           *metrics.InmemSink
	prometheusEnabled bool
}

// GatherResponse is the response type of registered metrics.
type GatherResponse struct {
	Metrics     []byte
	ContentType string
}

// New creates a new instance of Metrics with the in-memory sink registered
// globally. Returns (nil, nil) when telemetry is disabled.
func New(cfg Config) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if numGlobalLabels := len(cfg.GlobalLabels); numGlobalLabels > 0 {
		parsedGlobalLabels := make([]metrics.Label, numGlobalLabels)
		for i, gl := range cfg.GlobalLabels {
			parsedGlobalLabels[i] = metrics.Label{Name: gl[0], Value: gl[1]}
		}
		globalLabels = parsedGlobalLabels
	}

	metricsConf := metrics.DefaultConfig(cfg.ServiceName)
	metricsConf.EnableHostname = cfg.EnableHostname
	metricsConf.EnableHostnameLabel = cfg.EnableHostnameLabel
	metricsConf.EnableServiceLabel = cfg.EnableServiceLabel

	memSink := metrics.NewInmemSink(10*time.Second, time.Minute)

	m := &Metrics{memSink: memSink}
	sink := metrics.Sink(memSink)

	if cfg.PrometheusRetentionTime > 0 {
		m.prometheusEnabled = true

		promSink, err := metricsprom.NewPrometheusSinkFrom(metricsprom.PrometheusOpts{
			Expiration: time.Duration(cfg.PrometheusRetentionTime) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		sink = metrics.FanoutSink{memSink, promSink}
	}

	if _, err := metrics.NewGlobal(metricsConf, sink); err != nil {
		return nil, err
	}

	return m, nil
}

// Gather collects all registered metrics and returns a GatherResponse where
// the metrics are encoded depending on the format. Metrics are either
// encoded via Prometheus or JSON.
func (m *Metrics) Gather(format string) (GatherResponse, error) {
	switch format {
	case FormatPrometheus:
		return m.gatherPrometheus()

	case FormatText, FormatDefault:
		return m.gatherGeneric()

	default:
		return GatherResponse{}, fmt.Errorf("unsupported metrics format: %s", format)
	}
}

func (m *Metrics) gatherPrometheus() (GatherResponse, error) {
	if !m.prometheusEnabled {
		return GatherResponse{}, fmt.Errorf("prometheus metrics are not enabled")
	}

	metricsFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return GatherResponse{}, fmt.Errorf("failed to gather prometheus metrics: %w", err)
	}

	buf := &bytes.Buffer{}
	e := expfmt.NewEncoder(buf, expfmt.FmtText)
	for _, mf := range metricsFamilies {
		if err := e.Encode(mf); err != nil {
			return GatherResponse{}, fmt.Errorf("failed to encode prometheus metrics: %w", err)
		}
	}

	return GatherResponse{ContentType: string(expfmt.FmtText), Metrics: buf.Bytes()}, nil
}

func (m *Metrics) gatherGeneric() (GatherResponse, error) {
	summary, err := m.memSink.DisplayMetrics(nil, nil)
	if err != nil {
		return GatherResponse{}, fmt.Errorf("failed to gather in-memory metrics: %w", err)
	}

	bz, err := json.Marshal(summary)
	if err != nil {
		return GatherResponse{}, fmt.Errorf("failed to encode in-memory metrics: %w", err)
	}

	return GatherResponse{ContentType: "application/json", Metrics: bz}, nil
}

// IncrCounter provides a wrapper functionality for emitting a counter metric
// with global labels (if any).
func IncrCounter(val float32, keys ...string) {
	metrics.IncrCounterWithLabels(keys, val, globalLabels)
}

// SetGauge provides a wrapper functionality for emitting a gauge metric with
// global labels (if any).
func SetGauge(val float32, keys ...string) {
	metrics.SetGaugeWithLabels(keys, val, globalLabels)
}

// MeasureSince provides a wrapper functionality for emitting a time measure
// metric with global labels (if any).
func MeasureSince(start time.Time, keys ...string) {
	metrics.MeasureSinceWithLabels(keys, start.UTC(), globalLabels)
}
