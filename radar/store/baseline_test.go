package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"serpradio/radar/types"
)

func TestPercentile(t *testing.T) {
	sorted := []decimal.Decimal{
		decimal.NewFromInt(10),
		decimal.NewFromInt(20),
		decimal.NewFromInt(30),
		decimal.NewFromInt(40),
	}

	require.True(t, decimal.RequireFromString("17.5").Equal(percentile(sorted, q25)))
	require.True(t, decimal.RequireFromString("25").Equal(percentile(sorted, q50)))
	require.True(t, decimal.RequireFromString("32.5").Equal(percentile(sorted, q75)))

	t.Run("single_sample", func(t *testing.T) {
		single := []decimal.Decimal{decimal.RequireFromString("42.42")}
		require.True(t, decimal.RequireFromString("42.42").Equal(percentile(single, q25)))
		require.True(t, decimal.RequireFromString("42.42").Equal(percentile(single, q50)))
		require.True(t, decimal.RequireFromString("42.42").Equal(percentile(single, q75)))
	})

	t.Run("cent_interpolation", func(t *testing.T) {
		pair := []decimal.Decimal{
			decimal.RequireFromString("101.10"),
			decimal.RequireFromString("103.30"),
		}
		require.True(t, decimal.RequireFromString("101.65").Equal(percentile(pair, q25)))
		require.True(t, decimal.RequireFromString("102.20").Equal(percentile(pair, q50)))
		require.True(t, decimal.RequireFromString("102.75").Equal(percentile(pair, q75)))
	})
}

// seedBaselineObservations writes ten JFK-MIA March fares (100..190), three
// EWR-LAX April fares and one fare outside the trailing window.
func seedBaselineObservations(t *testing.T, s *Store) {
	t.Helper()

	batch := []types.PriceObservation{}
	for i := 0; i < 10; i++ {
		batch = append(batch, newObs(
			"JFK", "MIA",
			fmt.Sprintf("2026-03-%02d", i+1),
			fmt.Sprintf("%d.00", 100+10*i),
			"parallel",
			testNow.Add(-24*time.Hour),
		))
	}
	batch = append(batch,
		newObs("EWR", "LAX", "2026-04-05", "200.00", "parallel", testNow.Add(-24*time.Hour)),
		newObs("EWR", "LAX", "2026-04-06", "210.00", "parallel", testNow.Add(-24*time.Hour)),
		newObs("EWR", "LAX", "2026-04-07", "220.00", "parallel", testNow.Add(-24*time.Hour)),
		newObs("JFK", "MIA", "2026-05-01", "500.00", "parallel", testNow.Add(-31*24*time.Hour)),
	)

	_, rejected, err := s.UpsertObservations(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 0, rejected)
}

func TestRefreshBaselines(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedBaselineObservations(t, s)

	refreshed, err := s.RefreshBaselines(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 2, refreshed)

	baseline, err := s.Baseline(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, 10, baseline.NSamples)
	require.True(t, decimal.RequireFromString("122.5").Equal(baseline.P25), baseline.P25.String())
	require.True(t, decimal.RequireFromString("145").Equal(baseline.P50), baseline.P50.String())
	require.True(t, decimal.RequireFromString("167.5").Equal(baseline.P75), baseline.P75.String())
	require.Equal(t, testNow, baseline.LastUpdated)

	// the stale-window route month produced no row
	mayKey := testKey
	mayKey.DepartMonth = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.Baseline(ctx, mayKey)
	require.ErrorIs(t, err, ErrNoBaseline)
}

func TestRefreshBaselinesDropsEmptyKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedBaselineObservations(t, s)

	_, err := s.RefreshBaselines(ctx, testNow)
	require.NoError(t, err)
	_, err = s.Baseline(ctx, testKey)
	require.NoError(t, err)

	// a refresh after every observation aged out removes the rows
	refreshed, err := s.RefreshBaselines(ctx, testNow.Add(31*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, refreshed)

	_, err = s.Baseline(ctx, testKey)
	require.ErrorIs(t, err, ErrNoBaseline)
}

func TestRefreshBaselinesConcurrently(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedBaselineObservations(t, s)

	refreshed, err := s.RefreshBaselinesConcurrently(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 2, refreshed)

	baseline, err := s.Baseline(ctx, testKey)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("145").Equal(baseline.P50))

	// the staging table does not outlive the refresh
	var name string
	err = s.db.QueryRow(`
		SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'route_baselines_staging'
	`).Scan(&name)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRefreshVariantsAgree(t *testing.T) {
	ctx := context.Background()

	blocking := testStore(t)
	concurrent := testStore(t)
	seedBaselineObservations(t, blocking)
	seedBaselineObservations(t, concurrent)

	_, err := blocking.RefreshBaselines(ctx, testNow)
	require.NoError(t, err)
	_, err = concurrent.RefreshBaselinesConcurrently(ctx, testNow)
	require.NoError(t, err)

	fromBlocking, err := blocking.Baselines(ctx)
	require.NoError(t, err)
	fromConcurrent, err := concurrent.Baselines(ctx)
	require.NoError(t, err)

	require.Equal(t, fromBlocking, fromConcurrent)
	require.Len(t, fromBlocking, 2)
}
