package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"serpradio/radar/types"
)

const (
	// baselineWindow is the trailing observation window baselines are
	// computed over.
	baselineWindow = 30 * 24 * time.Hour

	// lowFreshness bounds how old an observation may be and still back
	// the current-low view of a route month.
	lowFreshness = 48 * time.Hour

	// upsertChunk keeps multi-row statements under the sqlite bind
	// variable limit.
	upsertChunk = 100
)

var (
	// ErrNoCurrentLow is returned when a route month has no observation
	// within the freshness horizon.
	ErrNoCurrentLow = errors.New("no recent observations")

	// ErrNoBaseline is returned when a route month has no baseline row.
	ErrNoBaseline = errors.New("no baseline")
)

type (
	// Store persists price observations and the aggregates derived from
	// them in a single sqlite database.
	Store struct {
		db     *sql.DB
		logger zerolog.Logger

		queryRange    *sql.Stmt
		queryLow      *sql.Stmt
		queryBaseline *sql.Stmt
		queryCurve    *sql.Stmt
	}

	// Low is the freshest minimum-price view of one route month.
	Low struct {
		Key      types.RouteKey
		Price    decimal.Decimal
		LastSeen time.Time
	}
)

// NewStore opens (or creates) the sqlite database at path, applies
// migrations and prepares the hot-path statements.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to open sqlite db")
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("module", "store").Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) error(err error) error {
	s.logger.Err(err).Msg("")
	return err
}

func (s *Store) migrate() error {
	version := 0
	// no row means a fresh database
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS price_observations (
				origin      TEXT NOT NULL,
				destination TEXT NOT NULL,
				cabin       TEXT NOT NULL,
				depart_date TEXT NOT NULL,
				price       TEXT NOT NULL,
				source      TEXT NOT NULL,
				observed_at INT  NOT NULL,
				CONSTRAINT id PRIMARY KEY (origin, destination, cabin, depart_date, source)
			);
			CREATE INDEX IF NOT EXISTS idx_observations_observed ON price_observations(observed_at);

			CREATE TABLE IF NOT EXISTS route_baselines (
				origin       TEXT NOT NULL,
				destination  TEXT NOT NULL,
				cabin        TEXT NOT NULL,
				depart_month TEXT NOT NULL,
				p25_30d      TEXT NOT NULL,
				p50_30d      TEXT NOT NULL,
				p75_30d      TEXT NOT NULL,
				n_samples    INT  NOT NULL,
				last_updated INT  NOT NULL,
				CONSTRAINT id PRIMARY KEY (origin, destination, cabin, depart_month)
			);

			CREATE TABLE IF NOT EXISTS lead_time_curves (
				origin       TEXT NOT NULL,
				destination  TEXT NOT NULL,
				cabin        TEXT NOT NULL,
				depart_month TEXT NOT NULL,
				lead_days    INT  NOT NULL,
				q25          TEXT NOT NULL,
				q50          TEXT NOT NULL,
				q75          TEXT NOT NULL,
				CONSTRAINT id PRIMARY KEY (origin, destination, cabin, depart_month, lead_days)
			);

			CREATE TABLE IF NOT EXISTS notification_events (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				origin       TEXT NOT NULL,
				destination  TEXT NOT NULL,
				cabin        TEXT NOT NULL,
				depart_month TEXT NOT NULL,
				event_type   TEXT NOT NULL,
				delta_pct    TEXT NOT NULL,
				price        TEXT NOT NULL,
				baseline_p50 TEXT NOT NULL,
				created_at   INT  NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_events_dedup ON notification_events(event_type, origin, destination, cabin, depart_month, created_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return s.error(err)
		}
	}

	return nil
}

func (s *Store) prepare() error {
	queryRange, err := s.db.Prepare(`
		SELECT origin, destination, cabin, depart_date, price, source, observed_at
		FROM price_observations
		WHERE origin = ? AND destination = ? AND cabin = ?
			AND depart_date >= ? AND depart_date < ?
			AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC
	`)
	if err != nil {
		return s.error(err)
	}

	queryLow, err := s.db.Prepare(`
		SELECT price, observed_at
		FROM price_observations
		WHERE origin = ? AND destination = ? AND cabin = ?
			AND depart_date >= ? AND depart_date < ?
			AND observed_at >= ?
	`)
	if err != nil {
		return s.error(err)
	}

	queryBaseline, err := s.db.Prepare(`
		SELECT p25_30d, p50_30d, p75_30d, n_samples, last_updated
		FROM route_baselines
		WHERE origin = ? AND destination = ? AND cabin = ? AND depart_month = ?
	`)
	if err != nil {
		return s.error(err)
	}

	queryCurve, err := s.db.Prepare(`
		SELECT lead_days, q25, q50, q75
		FROM lead_time_curves
		WHERE origin = ? AND destination = ? AND cabin = ? AND depart_month = ?
		ORDER BY lead_days ASC
	`)
	if err != nil {
		return s.error(err)
	}

	s.queryRange = queryRange
	s.queryLow = queryLow
	s.queryBaseline = queryBaseline
	s.queryCurve = queryCurve
	return nil
}

// UpsertObservations validates and writes a batch of observations. The
// natural key is (origin, destination, cabin, depart_date, source) and the
// latest quote wins: an incoming row only replaces a stored one when its
// observed_at is not older. Invalid observations are rejected one by one
// and never fail the batch. All chunks commit in a single transaction so
// readers see the whole batch or none of it. Returns (upserted, rejected).
func (s *Store) UpsertObservations(ctx context.Context, observations []types.PriceObservation) (int, int, error) {
	valid := make([]types.PriceObservation, 0, len(observations))
	rejected := 0
	for _, observation := range observations {
		if err := observation.Validate(); err != nil {
			s.logger.Warn().
				Err(err).
				Str("origin", observation.Origin).
				Str("destination", observation.Destination).
				Str("source", observation.Source).
				Msg("rejecting invalid observation")
			rejected++
			continue
		}
		valid = append(valid, observation)
	}
	if len(valid) == 0 {
		return 0, rejected, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rejected, s.error(err)
	}
	defer tx.Rollback()

	tmpl := `
		INSERT INTO price_observations(
			origin, destination, cabin, depart_date, price, source, observed_at
		) VALUES %s
		ON CONFLICT(origin, destination, cabin, depart_date, source) DO UPDATE SET
			price = excluded.price,
			observed_at = excluded.observed_at
		WHERE excluded.observed_at >= price_observations.observed_at
	`

	for start := 0; start < len(valid); start += upsertChunk {
		end := start + upsertChunk
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]

		placeholders := make([]string, len(chunk))
		for i := range placeholders {
			placeholders[i] = "(?, ?, ?, ?, ?, ?, ?)"
		}

		values := []interface{}{}
		for _, observation := range chunk {
			values = append(values,
				observation.Origin,
				observation.Destination,
				observation.Cabin.String(),
				observation.DepartDate.Format(time.DateOnly),
				observation.Price.String(),
				observation.Source,
				observation.ObservedAt.Unix(),
			)
		}

		query := fmt.Sprintf(tmpl, strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, query, values...); err != nil {
			return 0, rejected, s.error(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, rejected, s.error(err)
	}
	return len(valid), rejected, nil
}

// RangeQuery returns the observations of one route month with observed_at
// in [from, to), oldest first.
func (s *Store) RangeQuery(ctx context.Context, key types.RouteKey, from, to time.Time) ([]types.PriceObservation, error) {
	monthStart, monthEnd := monthBounds(key.DepartMonth)
	rows, err := s.queryRange.QueryContext(ctx,
		key.Origin, key.Destination, key.Cabin.String(),
		monthStart, monthEnd,
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, s.error(err)
	}
	defer rows.Close()

	observations := []types.PriceObservation{}
	for rows.Next() {
		var origin, destination, cabin, departDate, price, source string
		var observedAt int64
		if err := rows.Scan(&origin, &destination, &cabin, &departDate, &price, &source, &observedAt); err != nil {
			return nil, s.error(err)
		}

		observation, err := scanObservation(origin, destination, cabin, departDate, price, source, observedAt)
		if err != nil {
			return nil, s.error(err)
		}
		observations = append(observations, observation)
	}
	if err := rows.Err(); err != nil {
		return nil, s.error(err)
	}
	return observations, nil
}

// CurrentLow returns the lowest fresh price of one route month together
// with the latest time that price was seen. Freshness is bounded by the
// 48h horizon. Misses return ErrNoCurrentLow.
func (s *Store) CurrentLow(ctx context.Context, key types.RouteKey, now time.Time) (Low, error) {
	monthStart, monthEnd := monthBounds(key.DepartMonth)
	rows, err := s.queryLow.QueryContext(ctx,
		key.Origin, key.Destination, key.Cabin.String(),
		monthStart, monthEnd,
		now.Add(-lowFreshness).Unix(),
	)
	if err != nil {
		return Low{}, s.error(err)
	}
	defer rows.Close()

	low := Low{Key: key}
	found := false
	for rows.Next() {
		var price string
		var observedAt int64
		if err := rows.Scan(&price, &observedAt); err != nil {
			return Low{}, s.error(err)
		}

		priceDec, err := decimal.NewFromString(price)
		if err != nil {
			return Low{}, s.error(err)
		}
		seen := time.Unix(observedAt, 0).UTC()

		switch {
		case !found, priceDec.LessThan(low.Price):
			low.Price = priceDec
			low.LastSeen = seen
			found = true
		case priceDec.Equal(low.Price) && seen.After(low.LastSeen):
			low.LastSeen = seen
		}
	}
	if err := rows.Err(); err != nil {
		return Low{}, s.error(err)
	}
	if !found {
		return Low{}, ErrNoCurrentLow
	}
	return low, nil
}

// CurrentLows returns the current-low view of every route month that has
// at least one fresh observation, ordered by key.
func (s *Store) CurrentLows(ctx context.Context, now time.Time) ([]Low, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, cabin, depart_date, price, observed_at
		FROM price_observations
		WHERE observed_at >= ?
		ORDER BY origin, destination, cabin, depart_date
	`, now.Add(-lowFreshness).Unix())
	if err != nil {
		return nil, s.error(err)
	}
	defer rows.Close()

	lows := []Low{}
	groupID := ""
	for rows.Next() {
		var origin, destination, cabin, departDate, price string
		var observedAt int64
		if err := rows.Scan(&origin, &destination, &cabin, &departDate, &price, &observedAt); err != nil {
			return nil, s.error(err)
		}

		priceDec, err := decimal.NewFromString(price)
		if err != nil {
			return nil, s.error(err)
		}
		seen := time.Unix(observedAt, 0).UTC()

		month := monthOfDate(departDate)
		id := origin + "|" + destination + "|" + cabin + "|" + month
		if id != groupID {
			departMonth, err := time.Parse(time.DateOnly, month)
			if err != nil {
				return nil, s.error(err)
			}
			lows = append(lows, Low{
				Key: types.RouteKey{
					Origin:      origin,
					Destination: destination,
					Cabin:       types.Cabin(cabin),
					DepartMonth: departMonth,
				},
				Price:    priceDec,
				LastSeen: seen,
			})
			groupID = id
			continue
		}

		low := &lows[len(lows)-1]
		switch {
		case priceDec.LessThan(low.Price):
			low.Price = priceDec
			low.LastSeen = seen
		case priceDec.Equal(low.Price) && seen.After(low.LastSeen):
			low.LastSeen = seen
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.error(err)
	}
	return lows, nil
}

func scanObservation(origin, destination, cabin, departDate, price, source string, observedAt int64) (types.PriceObservation, error) {
	date, err := time.Parse(time.DateOnly, departDate)
	if err != nil {
		return types.PriceObservation{}, err
	}
	priceDec, err := decimal.NewFromString(price)
	if err != nil {
		return types.PriceObservation{}, err
	}
	return types.PriceObservation{
		Origin:      origin,
		Destination: destination,
		Cabin:       types.Cabin(cabin),
		DepartDate:  date,
		Price:       priceDec,
		Source:      source,
		ObservedAt:  time.Unix(observedAt, 0).UTC(),
	}, nil
}

// monthBounds returns the [start, end) depart_date bounds of a month as
// stored date strings.
func monthBounds(month time.Time) (string, string) {
	start := types.MonthStart(month)
	return start.Format(time.DateOnly), start.AddDate(0, 1, 0).Format(time.DateOnly)
}

// monthKey returns the canonical depart_month column value.
func monthKey(month time.Time) string {
	return types.MonthStart(month).Format(time.DateOnly)
}

// monthOfDate truncates a stored depart_date string to its month key.
func monthOfDate(departDate string) string {
	return departDate[:8] + "01"
}
