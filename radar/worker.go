package radar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	srsync "serpradio/pkg/sync"
	"serpradio/radar/provider"
	"serpradio/radar/store"
	"serpradio/radar/types"
	"serpradio/telemetry"
)

type (
	// WorkerStore is the slice of the observation store the ingestion
	// worker writes through.
	WorkerStore interface {
		UpsertObservations(ctx context.Context, observations []types.PriceObservation) (int, int, error)
		RefreshBaselinesConcurrently(ctx context.Context, now time.Time) (int, error)
		RefreshBaselines(ctx context.Context, now time.Time) (int, error)
		EmitPriceDrops(ctx context.Context, now time.Time) ([]types.NotificationEvent, error)
	}

	// CycleSummary describes one finished ingestion cycle.
	CycleSummary struct {
		CycleID         string        `json:"cycle_id"`
		StartedAt       time.Time     `json:"started_at"`
		Duration        time.Duration `json:"duration"`
		BatchesPlanned  int           `json:"batches_planned"`
		BatchesFailed   int           `json:"batches_failed"`
		Fetched         int           `json:"observations_fetched"`
		Rejected        int           `json:"observations_rejected"`
		Upserted        int           `json:"rows_upserted"`
		BaselineRows    int           `json:"baseline_rows"`
		RefreshDegraded bool          `json:"refresh_degraded"`
		EventsEmitted   int           `json:"events_emitted"`
		Err             string        `json:"error,omitempty"`
	}

	// Worker drives the periodic ingestion cycle: plan fare searches,
	// fetch them from the configured provider, upsert the observations,
	// refresh the baselines and emit price drop notifications.
	Worker struct {
		logger        zerolog.Logger
		closer        *srsync.Closer
		store         WorkerStore
		priceProvider provider.Provider

		origins         []string
		destinations    []string
		cabin           types.Cabin
		monthsAhead     int
		batchSize       int
		refreshInterval time.Duration
		oneShot         bool

		// now stamps cycle summaries and aggregate horizons, injectable
		// for tests.
		now func() time.Time

		mtx       sync.RWMutex
		lastCycle *CycleSummary
	}
)

var _ WorkerStore = (*store.Store)(nil)

func NewWorker(
	logger zerolog.Logger,
	workerStore WorkerStore,
	priceProvider provider.Provider,
	origins []string,
	destinations []string,
	cabin types.Cabin,
	monthsAhead int,
	batchSize int,
	refreshInterval time.Duration,
	oneShot bool,
) *Worker {
	return &Worker{
		logger:          logger.With().Str("module", "worker").Logger(),
		closer:          srsync.NewCloser(),
		store:           workerStore,
		priceProvider:   priceProvider,
		origins:         origins,
		destinations:    destinations,
		cabin:           cabin,
		monthsAhead:     monthsAhead,
		batchSize:       batchSize,
		refreshInterval: refreshInterval,
		oneShot:         oneShot,
		now:             time.Now,
	}
}

// Start runs the worker in a blocking fashion: one cycle and exit in
// one-shot mode, otherwise cycles separated by the refresh interval until
// the context is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	defer w.closer.Close()

	for {
		summary := w.RunCycle(ctx)

		if w.oneShot {
			if summary.Err != "" {
				return fmt.Errorf("ingestion cycle %s failed: %s", summary.CycleID, summary.Err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.closer.Done():
			return nil
		case <-time.After(w.refreshInterval):
		}
	}
}

// Stop stops the worker loop and waits for it to exit.
func (w *Worker) Stop() {
	w.closer.Close()
	<-w.closer.Done()
}

// Done is closed once the worker has been stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.closer.Done()
}

// LastCycle returns the most recent cycle summary. The second return is
// false until the first cycle has finished.
func (w *Worker) LastCycle() (CycleSummary, bool) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	if w.lastCycle == nil {
		return CycleSummary{}, false
	}
	return *w.lastCycle, true
}

// RunCycle executes one plan, fetch, upsert, refresh, emit pass and
// returns its summary. Batch fetch failures are non-fatal; an upsert
// failure or a refresh failure on both paths aborts the cycle, and a
// failed refresh always skips the emit phase so stale baselines cannot
// fire notifications.
func (w *Worker) RunCycle(ctx context.Context) CycleSummary {
	summary := CycleSummary{
		CycleID:   uuid.NewString(),
		StartedAt: w.now().UTC(),
	}
	logger := w.logger.With().Str("cycle_id", summary.CycleID).Logger()

	queries := w.Plan(summary.StartedAt)
	summary.BatchesPlanned = len(queries)
	logger.Debug().Int("batches", len(queries)).Msg("starting ingestion cycle")

	batches := make([][]types.PriceObservation, 0, len(queries))
	for _, query := range queries {
		if ctx.Err() != nil {
			return w.finish(logger, summary, ctx.Err())
		}

		observations, err := w.fetch(ctx, logger, query)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return w.finish(logger, summary, err)
			}
			summary.BatchesFailed++
		}
		if len(observations) > 0 {
			summary.Fetched += len(observations)
			batches = append(batches, observations)
		}
	}

	for _, batch := range batches {
		if ctx.Err() != nil {
			return w.finish(logger, summary, ctx.Err())
		}

		upserted, rejected, err := w.store.UpsertObservations(ctx, batch)
		if err != nil {
			return w.finish(logger, summary, fmt.Errorf("failed to upsert observations: %w", err))
		}
		summary.Upserted += upserted
		summary.Rejected += rejected
	}

	if ctx.Err() != nil {
		return w.finish(logger, summary, ctx.Err())
	}

	baselineRows, err := w.store.RefreshBaselinesConcurrently(ctx, w.now().UTC())
	if err != nil {
		logger.Warn().Err(err).Msg("concurrent baseline refresh failed, falling back to blocking refresh")
		summary.RefreshDegraded = true
		baselineRows, err = w.store.RefreshBaselines(ctx, w.now().UTC())
	}
	if err != nil {
		// stale baselines must not fire notifications
		return w.finish(logger, summary, fmt.Errorf("failed to refresh baselines: %w", err))
	}
	summary.BaselineRows = baselineRows

	if ctx.Err() != nil {
		return w.finish(logger, summary, ctx.Err())
	}

	events, err := w.store.EmitPriceDrops(ctx, w.now().UTC())
	if err != nil {
		return w.finish(logger, summary, fmt.Errorf("failed to emit price drops: %w", err))
	}
	summary.EventsEmitted = len(events)
	for _, event := range events {
		logger.Info().
			Str("origin", event.Origin).
			Str("destination", event.Destination).
			Str("cabin", event.Cabin.String()).
			Str("depart_month", event.DepartMonth.Format("2006-01")).
			Str("price", event.Price.String()).
			Str("delta_pct", event.DeltaPct.String()).
			Msg("price drop detected")
	}

	var cycleErr error
	if summary.BatchesPlanned > 0 && summary.BatchesFailed == summary.BatchesPlanned && summary.Fetched == 0 {
		cycleErr = fmt.Errorf("all %d fare batches failed", summary.BatchesPlanned)
	}
	return w.finish(logger, summary, cycleErr)
}

// Plan expands the configured routes into provider queries: one departure
// window per month for the next monthsAhead months, the first clamped to
// today, with destinations chunked to the provider batch size. Every query
// carries exactly one origin and one window, so a batch never exceeds
// batchSize searches.
func (w *Worker) Plan(now time.Time) []types.FareQuery {
	windows := make([]types.Window, 0, w.monthsAhead)
	for i := 0; i < w.monthsAhead; i++ {
		month := types.MonthStart(now).AddDate(0, i, 0)
		if i == 0 {
			month = now
		}
		windows = append(windows, types.MonthWindow(month))
	}

	queries := []types.FareQuery{}
	for _, origin := range w.origins {
		destinations := make([]string, 0, len(w.destinations))
		for _, destination := range w.destinations {
			if destination != origin {
				destinations = append(destinations, destination)
			}
		}
		if len(destinations) == 0 {
			continue
		}

		for _, window := range windows {
			for start := 0; start < len(destinations); start += w.batchSize {
				end := start + w.batchSize
				if end > len(destinations) {
					end = len(destinations)
				}
				queries = append(queries, types.FareQuery{
					Origins:      []string{origin},
					Destinations: destinations[start:end],
					Windows:      []types.Window{window},
					Cabin:        w.cabin,
				})
			}
		}
	}
	return queries
}

// fetch runs one provider batch. Partial results are kept: a fetch
// summary error counts the batch as failed while its observations still
// flow into the upsert phase.
func (w *Worker) fetch(ctx context.Context, logger zerolog.Logger, query types.FareQuery) ([]types.PriceObservation, error) {
	start := time.Now()
	observations, err := w.priceProvider.GetFares(ctx, query)
	telemetry.MeasureSince(start, "worker", "fetch")

	if err != nil {
		telemetry.IncrCounter(1, "worker", "batch", "failure")

		permanent := !provider.IsTransient(err)
		var fetchErr *provider.FetchError
		if errors.As(err, &fetchErr) {
			permanent = fetchErr.Permanent > 0
		}

		event := logger.Warn()
		if permanent {
			event = logger.Error()
		}
		event.Err(err).
			Strs("origins", query.Origins).
			Int("searches", len(query.Searches())).
			Msg("fare batch failed")
	}
	return observations, err
}

func (w *Worker) finish(logger zerolog.Logger, summary CycleSummary, err error) CycleSummary {
	summary.Duration = w.now().UTC().Sub(summary.StartedAt)
	if err != nil {
		summary.Err = err.Error()
	}

	w.mtx.Lock()
	w.lastCycle = &summary
	w.mtx.Unlock()

	if err != nil {
		telemetry.IncrCounter(1, "cycle", "failure")
	} else {
		telemetry.IncrCounter(1, "cycle", "success")
	}
	telemetry.IncrCounter(float32(summary.Fetched), "cycle", "observations", "fetched")
	telemetry.IncrCounter(float32(summary.Rejected), "cycle", "observations", "rejected")
	telemetry.SetGauge(float32(summary.BaselineRows), "cycle", "baseline", "rows")

	logger.Err(err).
		Int("batches_planned", summary.BatchesPlanned).
		Int("batches_failed", summary.BatchesFailed).
		Int("observations_fetched", summary.Fetched).
		Int("observations_rejected", summary.Rejected).
		Int("rows_upserted", summary.Upserted).
		Int("baseline_rows", summary.BaselineRows).
		Bool("refresh_degraded", summary.RefreshDegraded).
		Int("events_emitted", summary.EventsEmitted).
		Dur("duration", summary.Duration).
		Msg("ingestion cycle finished")

	return summary
}
