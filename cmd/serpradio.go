package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"serpradio/config"
	"serpradio/radar"
	"serpradio/radar/provider"
	"serpradio/radar/store"
	"serpradio/radar/types"
	v1 "serpradio/router/v1"
	"serpradio/telemetry"
)

const (
	logLevelJSON = "json"
	logLevelText = "text"

	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

var rootCmd = &cobra.Command{
	Use:   "serpradio [config-file]",
	Args:  cobra.ExactArgs(1),
	Short: "serpradio is a fare watching daemon for a configured set of flight routes",
	Long: `A daemon that watches flight fares for a configured set of routes. It
periodically fetches fare quotes from a price provider, stores the
normalized observations, maintains trailing 30-day percentile baselines
per route and departure month and records price drop notifications when a
fresh low undercuts the 25th percentile. Ingestion status and telemetry
are exposed through a small operational HTTP API.`,
	RunE: serpradioCmdHandler,
}

func init() {
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.InfoLevel.String(), "logging level")
	rootCmd.PersistentFlags().String(flagLogFormat, logLevelText, "logging format; must be either json or text")

	rootCmd.AddCommand(getVersionCmd())
	rootCmd.AddCommand(getEvaluateCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serpradioCmdHandler(cmd *cobra.Command, args []string) error {
	logger, err := getCmdLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.ParseConfig(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	g, ctx := errgroup.WithContext(ctx)

	// listen for and trap any OS signal to gracefully shutdown and exit
	trapSignal(cancel, logger)

	observationStore, err := store.NewStore(cfg.ObservationDb, logger)
	if err != nil {
		return fmt.Errorf("failed to open observation store: %w", err)
	}
	defer observationStore.Close()

	priceProvider, err := provider.New(
		cfg.PriceSource,
		logger,
		provider.Endpoint{
			Rest:      cfg.ProviderEndpoint,
			Key:       cfg.ProviderAPIKey,
			Mode:      cfg.ProviderMode,
			Timeout:   cfg.ProviderTimeout(),
			RateLimit: cfg.ProviderRateLimit,
		},
	)
	if err != nil {
		return err
	}

	cabin, err := types.ParseCabin(cfg.Cabin)
	if err != nil {
		return err
	}

	worker := radar.NewWorker(
		logger,
		observationStore,
		priceProvider,
		cfg.Origins,
		cfg.Destinations,
		cabin,
		cfg.MonthsAhead,
		cfg.ProviderBatchSize,
		cfg.RefreshInterval(),
		cfg.OneShot,
	)

	telemetryCfg := telemetry.Config{}
	if err := mapstructure.Decode(cfg.Telemetry, &telemetryCfg); err != nil {
		return err
	}
	metrics, err := telemetry.New(telemetryCfg)
	if err != nil {
		return err
	}

	if cfg.EnableServer {
		g.Go(func() error {
			// serve the operational API
			return startServer(ctx, logger, cfg, worker, metrics)
		})
	}

	g.Go(func() error {
		// run the ingestion cycles; once the worker exits (one-shot mode)
		// the server is shut down as well
		defer cancel()
		return startWorker(ctx, logger, worker)
	})

	// Block main process until all spawned goroutines have gracefully exited and
	// signal has been captured in the main process or if an error occurs.
	return g.Wait()
}

func getCmdLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logLvl, err := zerolog.ParseLevel(logLvlStr)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var logWriter io.Writer
	switch strings.ToLower(logFormatStr) {
	case logLevelJSON:
		logWriter = os.Stderr

	case logLevelText:
		logWriter = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.StampMilli,
		}

	default:
		return zerolog.Logger{}, fmt.Errorf("invalid logging format: %s", logFormatStr)
	}

	zerolog.TimeFieldFormat = time.StampMilli
	return zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger(), nil
}

// trapSignal will listen for any OS signal and invoke Done on the main
// WaitGroup allowing the main process to gracefully exit.
func trapSignal(cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh, syscall.SIGTERM)
	signal.Notify(sigCh, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("caught signal; shutting down...")
		cancel()
	}()
}

func startServer(
	ctx context.Context,
	logger zerolog.Logger,
	cfg config.Config,
	worker *radar.Worker,
	metrics *telemetry.Metrics,
) error {
	rtr := mux.NewRouter()

	// a disabled telemetry sink must reach the router as a nil interface
	var metricsSource v1.Metrics
	if metrics != nil {
		metricsSource = metrics
	}

	v1Router := v1.New(logger, cfg, worker, metricsSource)
	v1Router.RegisterRoutes(rtr, v1.APIPathPrefix)

	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		return err
	}
	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		return err
	}

	srvErrCh := make(chan error, 1)
	srv := &http.Server{
		Handler:           rtr,
		Addr:              cfg.Server.ListenAddr,
		WriteTimeout:      writeTimeout,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}

	go func() {
		logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("starting serpradio server...")
		srvErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// the parent context is already cancelled, the shutdown deadline
		// needs its own
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("shutting down serpradio server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to gracefully shutdown serpradio server")
			return err
		}

		return nil

	case err := <-srvErrCh:
		logger.Error().Err(err).Msg("failed to start serpradio server")
		return err
	}
}

func startWorker(ctx context.Context, logger zerolog.Logger, worker *radar.Worker) error {
	srvErrCh := make(chan error, 1)

	go func() {
		logger.Info().Msg("starting ingestion worker...")
		srvErrCh <- worker.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down ingestion worker...")
		worker.Stop()
		return <-srvErrCh

	case err := <-srvErrCh:
		if err != nil {
			logger.Err(err).Msg("ingestion worker terminated")
		}
		return err
	}
}
