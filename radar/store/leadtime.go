package store

import (
	"context"

	"github.com/shopspring/decimal"

	"serpradio/radar/types"
)

// LeadTimeCurve returns the externally maintained lead-time quartile curve
// of one route month, ordered by lead days. An empty curve is not an
// error.
func (s *Store) LeadTimeCurve(ctx context.Context, key types.RouteKey) ([]types.LeadTimePoint, error) {
	rows, err := s.queryCurve.QueryContext(ctx,
		key.Origin, key.Destination, key.Cabin.String(), monthKey(key.DepartMonth),
	)
	if err != nil {
		return nil, s.error(err)
	}
	defer rows.Close()

	points := []types.LeadTimePoint{}
	for rows.Next() {
		var leadDays int
		var q25Str, q50Str, q75Str string
		if err := rows.Scan(&leadDays, &q25Str, &q50Str, &q75Str); err != nil {
			return nil, s.error(err)
		}

		point := types.LeadTimePoint{LeadDays: leadDays}
		if point.Q25, err = decimal.NewFromString(q25Str); err != nil {
			return nil, s.error(err)
		}
		if point.Q50, err = decimal.NewFromString(q50Str); err != nil {
			return nil, s.error(err)
		}
		if point.Q75, err = decimal.NewFromString(q75Str); err != nil {
			return nil, s.error(err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, s.error(err)
	}
	return points, nil
}

// ReplaceLeadTimeCurve swaps the whole curve of one route month in one
// transaction.
func (s *Store) ReplaceLeadTimeCurve(ctx context.Context, key types.RouteKey, points []types.LeadTimePoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.error(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM lead_time_curves
		WHERE origin = ? AND destination = ? AND cabin = ? AND depart_month = ?
	`, key.Origin, key.Destination, key.Cabin.String(), monthKey(key.DepartMonth)); err != nil {
		return s.error(err)
	}

	for _, point := range points {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lead_time_curves(origin, destination, cabin, depart_month, lead_days, q25, q50, q75)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			key.Origin,
			key.Destination,
			key.Cabin.String(),
			monthKey(key.DepartMonth),
			point.LeadDays,
			point.Q25.String(),
			point.Q50.String(),
			point.Q75.String(),
		); err != nil {
			return s.error(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.error(err)
	}
	return nil
}
