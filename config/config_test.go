package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"serpradio/config"
	"serpradio/radar/provider"
)

func TestValidate(t *testing.T) {
	validConfig := func() config.Config {
		return config.Config{
			Server: config.Server{
				ListenAddr:     "0.0.0.0:7171",
				VerboseCORS:    false,
				AllowedOrigins: []string{},
			},
			PriceSource:            provider.ProviderSample,
			ProviderMode:           provider.ModeBulk,
			ProviderBatchSize:      100,
			ProviderTimeoutSeconds: 60,
			ProviderRateLimit:      8,
			RefreshIntervalHours:   6,
			MonthsAhead:            6,
			Origins:                []string{"JFK"},
			Destinations:           []string{"MIA", "LAX"},
			Cabin:                  "economy",
			ObservationDb:          "serpradio.db",
			Telemetry: config.Telemetry{
				ServiceName:             "serpradio",
				Enabled:                 true,
				EnableHostname:          true,
				EnableHostnameLabel:     true,
				EnableServiceLabel:      true,
				GlobalLabels:            make([][]string, 1),
				PrometheusRetentionTime: 120,
			},
		}
	}

	emptyOrigins := validConfig()
	emptyOrigins.Origins = []string{}

	invalidOrigin := validConfig()
	invalidOrigin.Origins = []string{"J1K"}

	emptyDestinations := validConfig()
	emptyDestinations.Destinations = []string{}

	invalidDestination := validConfig()
	invalidDestination.Destinations = []string{"MIAX"}

	invalidCabin := validConfig()
	invalidCabin.Cabin = "coach"

	unsupportedSource := validConfig()
	unsupportedSource.PriceSource = "kiwi"

	missingAPIKey := validConfig()
	missingAPIKey.PriceSource = provider.ProviderParallel
	missingAPIKey.ProviderAPIKey = ""

	xapiBulk := validConfig()
	xapiBulk.PriceSource = provider.ProviderXapi
	xapiBulk.ProviderAPIKey = "pk-test"
	xapiBulk.ProviderMode = provider.ModeBulk

	invalidMode := validConfig()
	invalidMode.ProviderMode = "stream"

	zeroBatchSize := validConfig()
	zeroBatchSize.ProviderBatchSize = 0

	monthsAheadTooLarge := validConfig()
	monthsAheadTooLarge.MonthsAhead = 13

	telemetryNoService := validConfig()
	telemetryNoService.Telemetry.ServiceName = ""

	testCases := []struct {
		name      string
		cfg       config.Config
		expectErr bool
	}{
		{
			"valid config",
			validConfig(),
			false,
		},
		{
			"empty origins",
			emptyOrigins,
			true,
		},
		{
			"invalid origin code",
			invalidOrigin,
			true,
		},
		{
			"empty destinations",
			emptyDestinations,
			true,
		},
		{
			"invalid destination code",
			invalidDestination,
			true,
		},
		{
			"invalid cabin",
			invalidCabin,
			true,
		},
		{
			"unsupported source",
			unsupportedSource,
			true,
		},
		{
			"missing api key",
			missingAPIKey,
			true,
		},
		{
			"xapi in bulk mode",
			xapiBulk,
			true,
		},
		{
			"invalid provider mode",
			invalidMode,
			true,
		},
		{
			"zero batch size",
			zeroBatchSize,
			true,
		},
		{
			"months ahead too large",
			monthsAheadTooLarge,
			true,
		},
		{
			"telemetry without service name",
			telemetryNoService,
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.cfg.Validate() != nil, tc.expectErr)
		})
	}
}

func TestParseConfig_Valid(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "serpradio.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
[server]
listen_addr = "0.0.0.0:99999"
read_timeout = "20s"
verbose_cors = true
write_timeout = "20s"
allowed_origins = ["https://ops.example.com"]

price_source = "parallel"
provider_api_key = "pk-test-1234"
provider_mode = "bulk"
provider_batch_size = 50
provider_timeout_seconds = 30
provider_rate_limit = 4

refresh_interval_hours = 12
months_ahead = 3
origins = ["jfk", "ewr"]
destinations = ["MIA", "lax"]
cabin = "economy"
db = "/tmp/serpradio-test.db"

[telemetry]
service_name = "serpradio"
enabled = true
enable_hostname = true
enable_hostname_label = true
enable_service_label = true
prometheus_retention = 120
global_labels = [["environment", "staging"]]
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:99999", cfg.Server.ListenAddr)
	require.Equal(t, "20s", cfg.Server.WriteTimeout)
	require.Equal(t, "20s", cfg.Server.ReadTimeout)
	require.True(t, cfg.Server.VerboseCORS)
	require.Equal(t, []string{"https://ops.example.com"}, cfg.Server.AllowedOrigins)
	require.Equal(t, provider.ProviderParallel, cfg.PriceSource)
	require.Equal(t, "pk-test-1234", cfg.ProviderAPIKey)
	require.Equal(t, provider.ModeBulk, cfg.ProviderMode)
	require.Equal(t, 50, cfg.ProviderBatchSize)
	require.Equal(t, 30*time.Second, cfg.ProviderTimeout())
	require.Equal(t, 4, cfg.ProviderRateLimit)
	require.Equal(t, 12*time.Hour, cfg.RefreshInterval())
	require.Equal(t, 3, cfg.MonthsAhead)
	require.Equal(t, []string{"JFK", "EWR"}, cfg.Origins)
	require.Equal(t, []string{"MIA", "LAX"}, cfg.Destinations)
	require.Equal(t, "economy", cfg.Cabin)
	require.False(t, cfg.OneShot)
	require.Equal(t, "/tmp/serpradio-test.db", cfg.ObservationDb)
	require.True(t, cfg.EnableServer)
	require.Equal(t, "serpradio", cfg.Telemetry.ServiceName)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, int64(120), cfg.Telemetry.PrometheusRetentionTime)
}

func TestParseConfig_Defaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "serpradio.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
price_source = "sample"
origins = ["JFK"]
destinations = ["MIA"]
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7171", cfg.Server.ListenAddr)
	require.Equal(t, "15s", cfg.Server.WriteTimeout)
	require.Equal(t, "15s", cfg.Server.ReadTimeout)
	require.Equal(t, provider.ModeBulk, cfg.ProviderMode)
	require.Equal(t, 100, cfg.ProviderBatchSize)
	require.Equal(t, time.Minute, cfg.ProviderTimeout())
	require.Equal(t, 8, cfg.ProviderRateLimit)
	require.Equal(t, 6*time.Hour, cfg.RefreshInterval())
	require.Equal(t, 6, cfg.MonthsAhead)
	require.Equal(t, "economy", cfg.Cabin)
	require.Equal(t, "serpradio.db", cfg.ObservationDb)
	require.False(t, cfg.OneShot)
	require.True(t, cfg.EnableServer)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestParseConfig_EnvOverrides(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "serpradio.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
price_source = "parallel"
provider_api_key = "pk-from-file"
origins = ["JFK"]
destinations = ["MIA"]
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	t.Setenv(config.EnvPriceSource, "sample")
	t.Setenv(config.EnvProviderBatchSize, "25")
	t.Setenv(config.EnvOrigins, "bos, sfo")
	t.Setenv(config.EnvOneShot, "true")
	t.Setenv(config.EnvObservationDb, "/tmp/serpradio-env.db")

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)

	require.Equal(t, provider.ProviderSample, cfg.PriceSource)
	require.Equal(t, 25, cfg.ProviderBatchSize)
	require.Equal(t, []string{"BOS", "SFO"}, cfg.Origins)
	require.Equal(t, []string{"MIA"}, cfg.Destinations)
	require.True(t, cfg.OneShot)
	require.Equal(t, "/tmp/serpradio-env.db", cfg.ObservationDb)
	require.Equal(t, "pk-from-file", cfg.ProviderAPIKey)
}

func TestParseConfig_InvalidEnvOverride(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "serpradio.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
price_source = "sample"
origins = ["JFK"]
destinations = ["MIA"]
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	t.Setenv(config.EnvMonthsAhead, "twelve")

	_, err = config.ParseConfig(tmpFile.Name())
	require.Error(t, err)
}

func TestParseConfig_InvalidSource(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "serpradio.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
price_source = "kiwi"
origins = ["JFK"]
destinations = ["MIA"]
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	_, err = config.ParseConfig(tmpFile.Name())
	require.Error(t, err)
}

func TestParseConfig_XapiSingleMode(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "serpradio.toml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	content := []byte(`
price_source = "xapi"
provider_api_key = "pk-test-1234"
provider_mode = "single"
origins = ["JFK"]
destinations = ["MIA"]
`)
	_, err = tmpFile.Write(content)
	require.NoError(t, err)

	cfg, err := config.ParseConfig(tmpFile.Name())
	require.NoError(t, err)
	require.Equal(t, provider.ProviderXapi, cfg.PriceSource)
	require.Equal(t, provider.ModeSingle, cfg.ProviderMode)
}

func TestParseConfig_EmptyPath(t *testing.T) {
	_, err := config.ParseConfig("")
	require.ErrorIs(t, err, config.ErrEmptyConfigPath)
}
