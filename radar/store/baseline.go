package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"serpradio/radar/types"
)

var (
	q25 = decimal.NewFromFloat(0.25)
	q50 = decimal.NewFromFloat(0.5)
	q75 = decimal.NewFromFloat(0.75)
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Baseline returns the stored trailing-window percentiles of one route
// month. Misses return ErrNoBaseline.
func (s *Store) Baseline(ctx context.Context, key types.RouteKey) (types.RouteBaseline, error) {
	var p25, p50, p75 string
	var nSamples int
	var lastUpdated int64

	err := s.queryBaseline.QueryRowContext(ctx,
		key.Origin, key.Destination, key.Cabin.String(), monthKey(key.DepartMonth),
	).Scan(&p25, &p50, &p75, &nSamples, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RouteBaseline{}, ErrNoBaseline
	}
	if err != nil {
		return types.RouteBaseline{}, s.error(err)
	}

	return scanBaseline(
		key.Origin, key.Destination, key.Cabin.String(), monthKey(key.DepartMonth),
		p25, p50, p75, nSamples, lastUpdated,
	)
}

// Baselines returns every stored baseline row, ordered by key.
func (s *Store) Baselines(ctx context.Context) ([]types.RouteBaseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, cabin, depart_month, p25_30d, p50_30d, p75_30d, n_samples, last_updated
		FROM route_baselines
		ORDER BY origin, destination, cabin, depart_month
	`)
	if err != nil {
		return nil, s.error(err)
	}
	defer rows.Close()

	baselines := []types.RouteBaseline{}
	for rows.Next() {
		var origin, destination, cabin, departMonth, p25, p50, p75 string
		var nSamples int
		var lastUpdated int64
		if err := rows.Scan(&origin, &destination, &cabin, &departMonth, &p25, &p50, &p75, &nSamples, &lastUpdated); err != nil {
			return nil, s.error(err)
		}

		baseline, err := scanBaseline(origin, destination, cabin, departMonth, p25, p50, p75, nSamples, lastUpdated)
		if err != nil {
			return nil, s.error(err)
		}
		baselines = append(baselines, baseline)
	}
	if err := rows.Err(); err != nil {
		return nil, s.error(err)
	}
	return baselines, nil
}

// RefreshBaselines recomputes every baseline from the trailing observation
// window and replaces the stored set in one blocking transaction.
func (s *Store) RefreshBaselines(ctx context.Context, now time.Time) (int, error) {
	baselines, err := s.computeBaselines(ctx, now)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.error(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM route_baselines"); err != nil {
		return 0, s.error(err)
	}
	if err := s.insertBaselines(ctx, tx, "route_baselines", baselines, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, s.error(err)
	}
	return len(baselines), nil
}

// RefreshBaselinesConcurrently recomputes every baseline without holding
// the route_baselines write lock during computation: the replacement set
// is built in a staging table first and swapped in with a short
// DELETE + INSERT SELECT transaction. Readers see the old set or the new
// set, never a mix. The swap relies on the unique key index, so its
// absence is an error and callers should fall back to RefreshBaselines.
func (s *Store) RefreshBaselinesConcurrently(ctx context.Context, now time.Time) (int, error) {
	var indexName string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'route_baselines' LIMIT 1
	`).Scan(&indexName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("route_baselines has no unique key index")
	}
	if err != nil {
		return 0, s.error(err)
	}

	baselines, err := s.computeBaselines(ctx, now)
	if err != nil {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS route_baselines_staging"); err != nil {
		return 0, s.error(err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE route_baselines_staging AS SELECT * FROM route_baselines WHERE 0
	`); err != nil {
		return 0, s.error(err)
	}
	if err := s.insertBaselines(ctx, s.db, "route_baselines_staging", baselines, now); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.error(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM route_baselines"); err != nil {
		return 0, s.error(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO route_baselines SELECT * FROM route_baselines_staging
	`); err != nil {
		return 0, s.error(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.error(err)
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS route_baselines_staging"); err != nil {
		s.logger.Warn().Err(err).Msg("failed to drop staging table")
	}
	return len(baselines), nil
}

type baselineGroup struct {
	origin      string
	destination string
	cabin       string
	departMonth string
	prices      []decimal.Decimal
}

// computeBaselines folds the trailing observation window into one
// percentile row per route month. Route months without observations in the
// window produce no row.
func (s *Store) computeBaselines(ctx context.Context, now time.Time) ([]baselineGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, cabin, depart_date, price
		FROM price_observations
		WHERE observed_at >= ?
		ORDER BY origin, destination, cabin, depart_date
	`, now.Add(-baselineWindow).Unix())
	if err != nil {
		return nil, s.error(err)
	}
	defer rows.Close()

	groups := []baselineGroup{}
	groupID := ""
	for rows.Next() {
		var origin, destination, cabin, departDate, price string
		if err := rows.Scan(&origin, &destination, &cabin, &departDate, &price); err != nil {
			return nil, s.error(err)
		}

		priceDec, err := decimal.NewFromString(price)
		if err != nil {
			return nil, s.error(err)
		}

		month := monthOfDate(departDate)
		id := origin + "|" + destination + "|" + cabin + "|" + month
		if id != groupID {
			groups = append(groups, baselineGroup{
				origin:      origin,
				destination: destination,
				cabin:       cabin,
				departMonth: month,
			})
			groupID = id
		}
		group := &groups[len(groups)-1]
		group.prices = append(group.prices, priceDec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.error(err)
	}
	return groups, nil
}

func (s *Store) insertBaselines(ctx context.Context, db execer, table string, groups []baselineGroup, now time.Time) error {
	if len(groups) == 0 {
		return nil
	}

	tmpl := `
		INSERT INTO ` + table + `(
			origin, destination, cabin, depart_month, p25_30d, p50_30d, p75_30d, n_samples, last_updated
		) VALUES %s
	`

	for start := 0; start < len(groups); start += upsertChunk {
		end := start + upsertChunk
		if end > len(groups) {
			end = len(groups)
		}
		chunk := groups[start:end]

		placeholders := make([]string, len(chunk))
		for i := range placeholders {
			placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		}

		values := []interface{}{}
		for _, group := range chunk {
			prices := group.prices
			sort.Slice(prices, func(i, j int) bool {
				return prices[i].LessThan(prices[j])
			})

			values = append(values,
				group.origin,
				group.destination,
				group.cabin,
				group.departMonth,
				percentile(prices, q25).String(),
				percentile(prices, q50).String(),
				percentile(prices, q75).String(),
				len(prices),
				now.Unix(),
			)
		}

		query := fmt.Sprintf(tmpl, strings.Join(placeholders, ", "))
		if _, err := db.ExecContext(ctx, query, values...); err != nil {
			return s.error(err)
		}
	}
	return nil
}

// percentile computes the q-th percentile of sorted prices with continuous
// linear interpolation: rank = q * (n - 1), interpolated between the two
// neighboring samples. Arithmetic stays in exact decimals.
func percentile(sorted []decimal.Decimal, q decimal.Decimal) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}

	rank := q.Mul(decimal.NewFromInt(int64(n - 1)))
	floor := rank.Floor()
	idx := int(floor.IntPart())
	frac := rank.Sub(floor)

	if frac.IsZero() || idx+1 >= n {
		return sorted[idx]
	}
	return sorted[idx].Add(sorted[idx+1].Sub(sorted[idx]).Mul(frac))
}

func scanBaseline(origin, destination, cabin, departMonth, p25, p50, p75 string, nSamples int, lastUpdated int64) (types.RouteBaseline, error) {
	month, err := time.Parse(time.DateOnly, departMonth)
	if err != nil {
		return types.RouteBaseline{}, err
	}
	p25Dec, err := decimal.NewFromString(p25)
	if err != nil {
		return types.RouteBaseline{}, err
	}
	p50Dec, err := decimal.NewFromString(p50)
	if err != nil {
		return types.RouteBaseline{}, err
	}
	p75Dec, err := decimal.NewFromString(p75)
	if err != nil {
		return types.RouteBaseline{}, err
	}

	return types.RouteBaseline{
		Origin:      origin,
		Destination: destination,
		Cabin:       types.Cabin(cabin),
		DepartMonth: month,
		P25:         p25Dec,
		P50:         p50Dec,
		P75:         p75Dec,
		NSamples:    nSamples,
		LastUpdated: time.Unix(lastUpdated, 0).UTC(),
	}, nil
}
