package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"serpradio/radar/types"
)

const (
	// dropSeenWithin bounds how stale a current low may be and still fire
	// a price_drop.
	dropSeenWithin = time.Hour

	// dropBaselineWithin bounds the age of the baseline backing a
	// price_drop.
	dropBaselineWithin = 12 * time.Hour

	// dropDedupWindow suppresses repeat price_drops for the same route
	// month.
	dropDedupWindow = 24 * time.Hour
)

var hundred = decimal.NewFromInt(100)

// EmitPriceDrops scans the fresh current lows against the stored baselines
// and emits a price_drop event for every route month whose low undercuts
// the trailing 25th percentile. A drop only fires when the low was seen
// within the last hour, the baseline was refreshed within the last 12
// hours and no price_drop for the same key exists within the dedup window.
// All events insert in one transaction and are returned with their ids.
func (s *Store) EmitPriceDrops(ctx context.Context, now time.Time) ([]types.NotificationEvent, error) {
	lows, err := s.CurrentLows(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(lows) == 0 {
		return nil, nil
	}

	baselines, err := s.Baselines(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]types.RouteBaseline, len(baselines))
	for _, baseline := range baselines {
		byKey[eventKey(baseline.Origin, baseline.Destination, baseline.Cabin.String(), monthKey(baseline.DepartMonth))] = baseline
	}

	recent, err := s.recentDropKeys(ctx, now)
	if err != nil {
		return nil, err
	}

	events := []types.NotificationEvent{}
	for _, low := range lows {
		id := eventKey(low.Key.Origin, low.Key.Destination, low.Key.Cabin.String(), monthKey(low.Key.DepartMonth))

		baseline, ok := byKey[id]
		if !ok {
			continue
		}
		if !low.Price.LessThan(baseline.P25) {
			continue
		}
		if low.LastSeen.Before(now.Add(-dropSeenWithin)) {
			continue
		}
		if baseline.LastUpdated.Before(now.Add(-dropBaselineWithin)) {
			continue
		}
		if recent[id] {
			continue
		}

		deltaPct := low.Price.Sub(baseline.P50).Div(baseline.P50).Mul(hundred).Round(1)
		events = append(events, types.NotificationEvent{
			Origin:      low.Key.Origin,
			Destination: low.Key.Destination,
			Cabin:       low.Key.Cabin,
			DepartMonth: low.Key.DepartMonth,
			EventType:   types.EventPriceDrop,
			DeltaPct:    deltaPct,
			Price:       low.Price,
			BaselineP50: baseline.P50,
			CreatedAt:   now.UTC(),
		})
	}
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.error(err)
	}
	defer tx.Rollback()

	for i, event := range events {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO notification_events(
				origin, destination, cabin, depart_month, event_type, delta_pct, price, baseline_p50, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.Origin,
			event.Destination,
			event.Cabin.String(),
			monthKey(event.DepartMonth),
			event.EventType,
			event.DeltaPct.String(),
			event.Price.String(),
			event.BaselineP50.String(),
			event.CreatedAt.Unix(),
		)
		if err != nil {
			return nil, s.error(err)
		}

		if events[i].ID, err = result.LastInsertId(); err != nil {
			return nil, s.error(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.error(err)
	}
	return events, nil
}

// recentDropKeys returns the route months with a price_drop inside the
// dedup window.
func (s *Store) recentDropKeys(ctx context.Context, now time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, cabin, depart_month
		FROM notification_events
		WHERE event_type = ? AND created_at >= ?
	`, types.EventPriceDrop, now.Add(-dropDedupWindow).Unix())
	if err != nil {
		return nil, s.error(err)
	}
	defer rows.Close()

	keys := map[string]bool{}
	for rows.Next() {
		var origin, destination, cabin, departMonth string
		if err := rows.Scan(&origin, &destination, &cabin, &departMonth); err != nil {
			return nil, s.error(err)
		}
		keys[eventKey(origin, destination, cabin, departMonth)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, s.error(err)
	}
	return keys, nil
}

func eventKey(origin, destination, cabin, departMonth string) string {
	return origin + "|" + destination + "|" + cabin + "|" + departMonth
}
