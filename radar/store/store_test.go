package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"serpradio/radar/types"
)

var (
	testNow   = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	testMarch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	testKey = types.RouteKey{
		Origin:      "JFK",
		Destination: "MIA",
		Cabin:       types.CabinEconomy,
		DepartMonth: testMarch,
	}
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "radar.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newObs(origin, destination, departDate, price, source string, observedAt time.Time) types.PriceObservation {
	date, err := time.Parse(time.DateOnly, departDate)
	if err != nil {
		panic(err)
	}
	return types.PriceObservation{
		Origin:      origin,
		Destination: destination,
		Cabin:       types.CabinEconomy,
		DepartDate:  date,
		Price:       decimal.RequireFromString(price),
		Source:      source,
		ObservedAt:  observedAt,
	}
}

func TestUpsertObservations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []types.PriceObservation{
		newObs("JFK", "MIA", "2026-03-14", "129.99", "parallel", testNow),
		newObs("JFK", "MIA", "2026-03-20", "150.00", "parallel", testNow.Add(time.Minute)),
		newObs("JFK", "JFK", "2026-03-14", "99.00", "parallel", testNow), // invalid route
	}

	upserted, rejected, err := s.UpsertObservations(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, upserted)
	require.Equal(t, 1, rejected)

	observations, err := s.RangeQuery(ctx, testKey, testNow.Add(-time.Hour), testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 2)
	require.True(t, decimal.RequireFromString("129.99").Equal(observations[0].Price))
}

func TestUpsertObservationsLatestWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := newObs("JFK", "MIA", "2026-03-14", "129.99", "parallel", testNow)
	_, _, err := s.UpsertObservations(ctx, []types.PriceObservation{first})
	require.NoError(t, err)

	// a newer quote for the same natural key replaces the row
	newer := newObs("JFK", "MIA", "2026-03-14", "119.99", "parallel", testNow.Add(time.Hour))
	_, _, err = s.UpsertObservations(ctx, []types.PriceObservation{newer})
	require.NoError(t, err)

	observations, err := s.RangeQuery(ctx, testKey, testNow.Add(-time.Hour), testNow.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 1)
	require.True(t, decimal.RequireFromString("119.99").Equal(observations[0].Price))
	require.Equal(t, testNow.Add(time.Hour), observations[0].ObservedAt)

	// an older quote does not regress the stored one
	older := newObs("JFK", "MIA", "2026-03-14", "200.00", "parallel", testNow.Add(-time.Hour))
	_, _, err = s.UpsertObservations(ctx, []types.PriceObservation{older})
	require.NoError(t, err)

	observations, err = s.RangeQuery(ctx, testKey, testNow.Add(-2*time.Hour), testNow.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 1)
	require.True(t, decimal.RequireFromString("119.99").Equal(observations[0].Price))
}

func TestUpsertObservationsChunked(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []types.PriceObservation{}
	for day := 1; day <= 30; day++ {
		for src := 0; src < 5; src++ {
			batch = append(batch, newObs(
				"JFK", "MIA",
				fmt.Sprintf("2026-03-%02d", day),
				fmt.Sprintf("%d.00", 100+day+src),
				fmt.Sprintf("source-%d", src),
				testNow,
			))
		}
	}

	upserted, rejected, err := s.UpsertObservations(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 150, upserted)
	require.Equal(t, 0, rejected)

	observations, err := s.RangeQuery(ctx, testKey, testNow.Add(-time.Hour), testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 150)
}

func TestRangeQueryBounds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertObservations(ctx, []types.PriceObservation{
		newObs("JFK", "MIA", "2026-03-14", "100.00", "a", testNow),
		newObs("JFK", "MIA", "2026-03-15", "110.00", "a", testNow.Add(time.Hour)),
		newObs("JFK", "MIA", "2026-04-14", "120.00", "a", testNow), // next month
	})
	require.NoError(t, err)

	// [from, to): from inclusive, to exclusive
	observations, err := s.RangeQuery(ctx, testKey, testNow, testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 1)
	require.Equal(t, testNow, observations[0].ObservedAt)

	observations, err = s.RangeQuery(ctx, testKey, testNow, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 2)
}

func TestCurrentLow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertObservations(ctx, []types.PriceObservation{
		newObs("JFK", "MIA", "2026-03-14", "150.00", "a", testNow.Add(-2*time.Hour)),
		newObs("JFK", "MIA", "2026-03-15", "120.00", "b", testNow.Add(-3*time.Hour)),
		newObs("JFK", "MIA", "2026-03-16", "90.00", "c", testNow.Add(-72*time.Hour)), // beyond horizon
	})
	require.NoError(t, err)

	low, err := s.CurrentLow(ctx, testKey, testNow)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("120.00").Equal(low.Price))
	require.Equal(t, testNow.Add(-3*time.Hour), low.LastSeen)
}

func TestCurrentLowTieKeepsLatest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertObservations(ctx, []types.PriceObservation{
		newObs("JFK", "MIA", "2026-03-14", "120.00", "a", testNow.Add(-5*time.Hour)),
		newObs("JFK", "MIA", "2026-03-15", "120.00", "b", testNow.Add(-1*time.Hour)),
	})
	require.NoError(t, err)

	low, err := s.CurrentLow(ctx, testKey, testNow)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("120.00").Equal(low.Price))
	require.Equal(t, testNow.Add(-1*time.Hour), low.LastSeen)
}

func TestCurrentLowMiss(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CurrentLow(ctx, testKey, testNow)
	require.ErrorIs(t, err, ErrNoCurrentLow)

	// stale observations do not count
	_, _, err = s.UpsertObservations(ctx, []types.PriceObservation{
		newObs("JFK", "MIA", "2026-03-14", "100.00", "a", testNow.Add(-49*time.Hour)),
	})
	require.NoError(t, err)

	_, err = s.CurrentLow(ctx, testKey, testNow)
	require.ErrorIs(t, err, ErrNoCurrentLow)
}

func TestCurrentLows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertObservations(ctx, []types.PriceObservation{
		newObs("JFK", "MIA", "2026-03-14", "150.00", "a", testNow.Add(-2*time.Hour)),
		newObs("JFK", "MIA", "2026-03-20", "130.00", "a", testNow.Add(-4*time.Hour)),
		newObs("JFK", "MIA", "2026-04-02", "210.00", "a", testNow.Add(-2*time.Hour)),
		newObs("EWR", "LAX", "2026-03-10", "310.00", "a", testNow.Add(-2*time.Hour)),
	})
	require.NoError(t, err)

	lows, err := s.CurrentLows(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, lows, 3)

	// ordered by key: EWR-LAX march, JFK-MIA march, JFK-MIA april
	require.Equal(t, "EWR", lows[0].Key.Origin)
	require.True(t, decimal.RequireFromString("310.00").Equal(lows[0].Price))

	require.Equal(t, "JFK", lows[1].Key.Origin)
	require.Equal(t, testMarch, lows[1].Key.DepartMonth)
	require.True(t, decimal.RequireFromString("130.00").Equal(lows[1].Price))
	require.Equal(t, testNow.Add(-4*time.Hour), lows[1].LastSeen)

	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), lows[2].Key.DepartMonth)
	require.True(t, decimal.RequireFromString("210.00").Equal(lows[2].Price))
}
