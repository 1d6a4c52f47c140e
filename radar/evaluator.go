package radar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"serpradio/radar/store"
	"serpradio/radar/types"
)

var (
	hundred = decimal.NewFromInt(100)

	// sweetSpotTolerance widens the booking window to every point whose
	// median fare sits within 5% of the curve minimum.
	sweetSpotTolerance = decimal.RequireFromString("1.05")
)

type (
	// EvalStore is the slice of the observation store the evaluator
	// reads.
	EvalStore interface {
		Baseline(ctx context.Context, key types.RouteKey) (types.RouteBaseline, error)
		CurrentLow(ctx context.Context, key types.RouteKey, now time.Time) (store.Low, error)
		LeadTimeCurve(ctx context.Context, key types.RouteKey) ([]types.LeadTimePoint, error)
	}

	// Evaluator answers deal queries by joining the current low fare of a
	// route month against its baseline and lead-time curve. It never
	// writes; two calls with the same arguments against an unchanged
	// store return identical records.
	Evaluator struct {
		logger zerolog.Logger
		store  EvalStore

		// now resolves the departure month and freshness horizons,
		// injectable for tests.
		now func() time.Time
	}
)

var _ EvalStore = (*store.Store)(nil)

func NewEvaluator(logger zerolog.Logger, evalStore EvalStore) *Evaluator {
	return &Evaluator{
		logger: logger.With().Str("module", "evaluator").Logger(),
		store:  evalStore,
		now:    time.Now,
	}
}

// EvaluateDeal grades the current low fare of a route and departure month.
// Errors are reserved for invalid input and storage failure. Missing data
// is answered with HasData=false and a reason, never an error.
func (e *Evaluator) EvaluateDeal(ctx context.Context, origin, destination string, month int, cabin string) (types.Evaluation, error) {
	origin = strings.ToUpper(strings.TrimSpace(origin))
	destination = strings.ToUpper(strings.TrimSpace(destination))

	if !types.ValidAirportCode(origin) {
		return types.Evaluation{}, fmt.Errorf("invalid origin %q", origin)
	}
	if !types.ValidAirportCode(destination) {
		return types.Evaluation{}, fmt.Errorf("invalid destination %q", destination)
	}
	if origin == destination {
		return types.Evaluation{}, errors.New("origin and destination must differ")
	}
	if month < 1 || month > 12 {
		return types.Evaluation{}, fmt.Errorf("month must be between 1 and 12, got %d", month)
	}
	parsedCabin, err := types.ParseCabin(cabin)
	if err != nil {
		return types.Evaluation{}, err
	}

	now := e.now().UTC()
	key := types.RouteKey{
		Origin:      origin,
		Destination: destination,
		Cabin:       parsedCabin,
		DepartMonth: types.NextDepartMonth(now, time.Month(month)),
	}

	evaluation := types.Evaluation{
		Origin:      origin,
		Destination: destination,
		Cabin:       parsedCabin,
		Month:       month,
		DepartMonth: key.DepartMonth,
	}

	baseline, err := e.store.Baseline(ctx, key)
	if errors.Is(err, store.ErrNoBaseline) {
		evaluation.Reason = "no baseline for route/month"
		return evaluation, nil
	}
	if err != nil {
		return types.Evaluation{}, err
	}
	evaluation.Baseline = &baseline

	low, err := e.store.CurrentLow(ctx, key, now)
	if errors.Is(err, store.ErrNoCurrentLow) {
		evaluation.Reason = "no recent observations"
		return evaluation, nil
	}
	if err != nil {
		return types.Evaluation{}, err
	}
	evaluation.CurrentPrice = low.Price
	evaluation.LastSeen = low.LastSeen

	curve, err := e.store.LeadTimeCurve(ctx, key)
	if err != nil {
		return types.Evaluation{}, err
	}
	evaluation.SweetSpot = SweetSpotFromCurve(curve)

	// thin baselines still return their snapshot, just no recommendation
	if !baseline.Sufficient() {
		evaluation.Reason = fmt.Sprintf("insufficient sample size (n=%d)", baseline.NSamples)
		return evaluation, nil
	}

	evaluation.HasData = true
	evaluation.DeltaPct = low.Price.Sub(baseline.P50).Div(baseline.P50).Mul(hundred).Round(1)
	evaluation.DealScore = dealScore(low.Price, baseline)

	evaluation.Recommendation, evaluation.Confidence, evaluation.Rationale = recommend(
		low.Price, baseline, evaluation.DeltaPct, evaluation.SweetSpot,
	)
	return evaluation, nil
}

// dealScore maps the current low onto the percentile bands. Boundaries are
// inclusive downward: a low exactly on p25 scores 90.
func dealScore(low decimal.Decimal, baseline types.RouteBaseline) int {
	switch {
	case low.LessThanOrEqual(baseline.P25):
		return 90
	case low.LessThanOrEqual(baseline.P50):
		return 70
	case low.LessThanOrEqual(baseline.P75):
		return 45
	default:
		return 20
	}
}

// recommend picks the first matching clause. Order matters: the percentile
// buy beats the booking-window buy, which beats the below-median track.
// The rationale quotes the absolute delta, the signed value stays in the
// delta_pct field.
func recommend(low decimal.Decimal, baseline types.RouteBaseline, deltaPct decimal.Decimal, sweetSpot *types.SweetSpot) (string, int, string) {
	switch {
	case low.LessThanOrEqual(baseline.P25):
		return types.RecommendationBuy, 85, fmt.Sprintf(
			"Current low %s is at or below the 25th percentile (%s) for this route and month.",
			low, baseline.P25,
		)
	case sweetSpot != nil && low.LessThanOrEqual(baseline.P50):
		return types.RecommendationBuy, 80, fmt.Sprintf(
			"Price is at or below the median and the best booking window is %d-%d days out.",
			sweetSpot.MinDays, sweetSpot.MaxDays,
		)
	case low.LessThanOrEqual(baseline.P50):
		return types.RecommendationTrack, 70, fmt.Sprintf(
			"Price is %s%% below the median but may improve.",
			deltaPct.Abs(),
		)
	case low.LessThanOrEqual(baseline.P75):
		return types.RecommendationTrack, 65,
			"Price is near the median for this route and month, watch for a dip."
	default:
		return types.RecommendationWait, 70, fmt.Sprintf(
			"Current low %s is above the 75th percentile (%s), better fares are likely later.",
			low, baseline.P75,
		)
	}
}

// SweetSpotFromCurve finds the booking window whose median fares sit
// within tolerance of the curve minimum: the contiguous run of points
// around the minimum, sorted by lead days. A missing curve has no sweet
// spot.
func SweetSpotFromCurve(points []types.LeadTimePoint) *types.SweetSpot {
	if len(points) == 0 {
		return nil
	}

	sorted := make([]types.LeadTimePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LeadDays < sorted[j].LeadDays
	})

	minIdx := 0
	for i, point := range sorted {
		if point.Q50.LessThan(sorted[minIdx].Q50) {
			minIdx = i
		}
	}
	threshold := sorted[minIdx].Q50.Mul(sweetSpotTolerance)

	lo, hi := minIdx, minIdx
	for lo > 0 && sorted[lo-1].Q50.LessThanOrEqual(threshold) {
		lo--
	}
	for hi < len(sorted)-1 && sorted[hi+1].Q50.LessThanOrEqual(threshold) {
		hi++
	}

	return &types.SweetSpot{
		MinDays: sorted[lo].LeadDays,
		MaxDays: sorted[hi].LeadDays,
	}
}
