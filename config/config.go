package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"serpradio/radar/provider"
	"serpradio/radar/types"
)

const (
	defaultListenAddr      = "0.0.0.0:7171"
	defaultSrvWriteTimeout = 15 * time.Second
	defaultSrvReadTimeout  = 15 * time.Second

	defaultPriceSource            = provider.ProviderParallel
	defaultProviderMode           = provider.ModeBulk
	defaultProviderBatchSize      = 100
	defaultProviderTimeoutSeconds = 60
	defaultProviderRateLimit      = 8
	defaultRefreshIntervalHours   = 6
	defaultMonthsAhead            = 6
	defaultCabin                  = "economy"
	defaultObservationDb          = "serpradio.db"
)

// Environment overrides. A value set in the environment wins over the
// config file, which wins over the built-in defaults.
const (
	EnvPriceSource            = "PRICE_SOURCE"
	EnvProviderAPIKey         = "PROVIDER_API_KEY"
	EnvProviderEndpoint       = "PROVIDER_ENDPOINT"
	EnvProviderMode           = "PROVIDER_MODE"
	EnvProviderBatchSize      = "PROVIDER_BATCH_SIZE"
	EnvProviderTimeoutSeconds = "PROVIDER_TIMEOUT_SECONDS"
	EnvProviderRateLimit      = "PROVIDER_RATE_LIMIT"
	EnvRefreshIntervalHours   = "REFRESH_INTERVAL_HOURS"
	EnvMonthsAhead            = "MONTHS_AHEAD"
	EnvOrigins                = "ORIGINS"
	EnvDestinations           = "DESTINATIONS"
	EnvCabin                  = "CABIN"
	EnvOneShot                = "ONE_SHOT"
	EnvObservationDb          = "SERPRADIO_DB"
)

var (
	validate = validator.New()

	// ErrEmptyConfigPath defines a sentinel error for an empty config path.
	ErrEmptyConfigPath = errors.New("empty configuration file path")

	// SupportedSources defines a lookup table of all the supported fare
	// price sources.
	SupportedSources = map[provider.Name]struct{}{
		provider.ProviderParallel: {},
		provider.ProviderXapi:     {},
		provider.ProviderSample:   {},
	}
)

type (
	// Config defines all necessary serpradio configuration parameters.
	Config struct {
		Server    Server    `toml:"server"`
		Telemetry Telemetry `toml:"telemetry"`

		PriceSource            provider.Name `toml:"price_source" validate:"required"`
		ProviderAPIKey         string        `toml:"provider_api_key"`
		ProviderEndpoint       string        `toml:"provider_endpoint"`
		ProviderMode           provider.Mode `toml:"provider_mode" validate:"required,oneof=bulk single"`
		ProviderBatchSize      int           `toml:"provider_batch_size" validate:"required,gt=0"`
		ProviderTimeoutSeconds int           `toml:"provider_timeout_seconds" validate:"required,gt=0"`
		ProviderRateLimit      int           `toml:"provider_rate_limit" validate:"required,gt=0"`

		RefreshIntervalHours int      `toml:"refresh_interval_hours" validate:"required,gt=0"`
		MonthsAhead          int      `toml:"months_ahead" validate:"required,min=1,max=12"`
		Origins              []string `toml:"origins" validate:"required,gt=0"`
		Destinations         []string `toml:"destinations" validate:"required,gt=0"`
		Cabin                string   `toml:"cabin" validate:"required"`
		OneShot              bool     `toml:"one_shot"`

		ObservationDb string `toml:"db"`
		EnableServer  bool   `toml:"enable_server"`
	}

	// Server defines the API server configuration.
	Server struct {
		ListenAddr     string   `toml:"listen_addr"`
		WriteTimeout   string   `toml:"write_timeout"`
		ReadTimeout    string   `toml:"read_timeout"`
		VerboseCORS    bool     `toml:"verbose_cors"`
		AllowedOrigins []string `toml:"allowed_origins"`
	}

	// Telemetry defines the configuration options for application telemetry.
	Telemetry struct {
		// Prefixed with keys to separate services
		ServiceName string `toml:"service_name" mapstructure:"service-name"`

		// Enabled enables the application telemetry functionality. When enabled,
		// an in-memory sink is also enabled by default. Operators may also enable
		// other sinks such as Prometheus.
		Enabled bool `toml:"enabled" mapstructure:"enabled"`

		// Enable prefixing gauge values with hostname
		EnableHostname bool `toml:"enable_hostname" mapstructure:"enable-hostname"`

		// Enable adding hostname to labels
		EnableHostnameLabel bool `toml:"enable_hostname_label" mapstructure:"enable-hostname-label"`

		// Enable adding service to labels
		EnableServiceLabel bool `toml:"enable_service_label" mapstructure:"enable-service-label"`

		// GlobalLabels defines a global set of name/value label tuples applied to all
		// metrics emitted using the wrapper functions defined in telemetry package.
		//
		// Example:
		// [["environment", "production"]]
		GlobalLabels [][]string `toml:"global_labels" mapstructure:"global-labels"`

		// PrometheusRetentionTime, when positive, enables a Prometheus metrics sink.
		// It defines the retention duration in seconds.
		PrometheusRetentionTime int64 `toml:"prometheus_retention" mapstructure:"prometheus-retention-time"`
	}
)

// telemetryValidation is custom validation for the Telemetry struct.
func telemetryValidation(sl validator.StructLevel) {
	tel := sl.Current().Interface().(Telemetry)

	if tel.Enabled && (len(tel.GlobalLabels) == 0 || len(tel.ServiceName) == 0) {
		sl.ReportError(tel.Enabled, "enabled", "Enabled", "enabledNoOptions", "")
	}
}

// sourceValidation is custom validation for the provider related fields.
func sourceValidation(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if _, ok := SupportedSources[cfg.PriceSource]; !ok {
		sl.ReportError(cfg.PriceSource, "price_source", "PriceSource", "unsupportedSource", "")
	}

	if cfg.PriceSource == provider.ProviderXapi && cfg.ProviderMode == provider.ModeBulk {
		sl.ReportError(cfg.ProviderMode, "provider_mode", "ProviderMode", "bulkUnsupported", "")
	}

	if cfg.PriceSource != provider.ProviderSample && cfg.ProviderAPIKey == "" {
		sl.ReportError(cfg.ProviderAPIKey, "provider_api_key", "ProviderAPIKey", "missingApiKey", "")
	}

	if _, err := types.ParseCabin(cfg.Cabin); err != nil {
		sl.ReportError(cfg.Cabin, "cabin", "Cabin", "unsupportedCabin", "")
	}

	for _, code := range cfg.Origins {
		if !types.ValidAirportCode(code) {
			sl.ReportError(cfg.Origins, "origins", "Origins", "invalidAirportCode", "")
		}
	}
	for _, code := range cfg.Destinations {
		if !types.ValidAirportCode(code) {
			sl.ReportError(cfg.Destinations, "destinations", "Destinations", "invalidAirportCode", "")
		}
	}
}

// Validate returns an error if the Config object is invalid.
func (c Config) Validate() error {
	validate.RegisterStructValidation(telemetryValidation, Telemetry{})
	validate.RegisterStructValidation(sourceValidation, Config{})
	return validate.Struct(c)
}

// ProviderTimeout returns the per-request provider timeout as a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// RefreshInterval returns the pause between ingestion cycles as a duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalHours) * time.Hour
}

// ApplyEnv overlays environment variables onto the parsed configuration.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvPriceSource); v != "" {
		c.PriceSource = provider.Name(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv(EnvProviderAPIKey); v != "" {
		c.ProviderAPIKey = v
	}
	if v := os.Getenv(EnvProviderEndpoint); v != "" {
		c.ProviderEndpoint = v
	}
	if v := os.Getenv(EnvProviderMode); v != "" {
		c.ProviderMode = provider.Mode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv(EnvCabin); v != "" {
		c.Cabin = v
	}
	if v := os.Getenv(EnvObservationDb); v != "" {
		c.ObservationDb = v
	}
	if v := os.Getenv(EnvOrigins); v != "" {
		c.Origins = splitList(v)
	}
	if v := os.Getenv(EnvDestinations); v != "" {
		c.Destinations = splitList(v)
	}

	intOverrides := []struct {
		env    string
		target *int
	}{
		{EnvProviderBatchSize, &c.ProviderBatchSize},
		{EnvProviderTimeoutSeconds, &c.ProviderTimeoutSeconds},
		{EnvProviderRateLimit, &c.ProviderRateLimit},
		{EnvRefreshIntervalHours, &c.RefreshIntervalHours},
		{EnvMonthsAhead, &c.MonthsAhead},
	}
	for _, override := range intOverrides {
		v := os.Getenv(override.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", override.env, err)
		}
		*override.target = n
	}

	if v := os.Getenv(EnvOneShot); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvOneShot, err)
		}
		c.OneShot = b
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			list = append(list, part)
		}
	}
	return list
}

func normalizeCodes(codes []string) []string {
	normalized := make([]string, len(codes))
	for i, code := range codes {
		normalized[i] = strings.ToUpper(strings.TrimSpace(code))
	}
	return normalized
}

// ParseConfig attempts to read and parse configuration from the given file
// path, overlay environment overrides and validate the result. An error is
// returned if reading, parsing or validating the config fails.
func ParseConfig(configPath string) (Config, error) {
	var cfg Config
	cfg.EnableServer = true

	if configPath == "" {
		return cfg, ErrEmptyConfigPath
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if _, err := toml.Decode(string(configData), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if len(cfg.Server.WriteTimeout) == 0 {
		cfg.Server.WriteTimeout = defaultSrvWriteTimeout.String()
	}
	if len(cfg.Server.ReadTimeout) == 0 {
		cfg.Server.ReadTimeout = defaultSrvReadTimeout.String()
	}
	if cfg.PriceSource == "" {
		cfg.PriceSource = defaultPriceSource
	}
	if cfg.ProviderMode == "" {
		cfg.ProviderMode = defaultProviderMode
	}
	if cfg.ProviderBatchSize == 0 {
		cfg.ProviderBatchSize = defaultProviderBatchSize
	}
	if cfg.ProviderTimeoutSeconds == 0 {
		cfg.ProviderTimeoutSeconds = defaultProviderTimeoutSeconds
	}
	if cfg.ProviderRateLimit == 0 {
		cfg.ProviderRateLimit = defaultProviderRateLimit
	}
	if cfg.RefreshIntervalHours == 0 {
		cfg.RefreshIntervalHours = defaultRefreshIntervalHours
	}
	if cfg.MonthsAhead == 0 {
		cfg.MonthsAhead = defaultMonthsAhead
	}
	if cfg.Cabin == "" {
		cfg.Cabin = defaultCabin
	}
	if cfg.ObservationDb == "" {
		cfg.ObservationDb = defaultObservationDb
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	cfg.Origins = normalizeCodes(cfg.Origins)
	cfg.Destinations = normalizeCodes(cfg.Destinations)

	return cfg, cfg.Validate()
}
