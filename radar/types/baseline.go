package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinBaselineSamples is the smallest trailing-window sample count that
// consumers treat as statistically meaningful.
const MinBaselineSamples = 10

// RouteBaseline holds trailing 30-day fare percentiles for one route,
// cabin and departure month bucket.
type RouteBaseline struct {
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	Cabin       Cabin           `json:"cabin"`
	DepartMonth time.Time       `json:"depart_month"`
	P25         decimal.Decimal `json:"p25_30d"`
	P50         decimal.Decimal `json:"p50_30d"`
	P75         decimal.Decimal `json:"p75_30d"`
	NSamples    int             `json:"n_samples"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Sufficient reports whether the baseline carries enough samples to back a
// recommendation.
func (b RouteBaseline) Sufficient() bool {
	return b.NSamples >= MinBaselineSamples
}

// Key returns the bucket the baseline describes.
func (b RouteBaseline) Key() RouteKey {
	return RouteKey{
		Origin:      b.Origin,
		Destination: b.Destination,
		Cabin:       b.Cabin,
		DepartMonth: b.DepartMonth,
	}
}

// LeadTimePoint is one point on an externally maintained lead-time fare
// curve: quartile fares quoted LeadDays before departure.
type LeadTimePoint struct {
	LeadDays int             `json:"lead_days"`
	Q25      decimal.Decimal `json:"q25"`
	Q50      decimal.Decimal `json:"q50"`
	Q75      decimal.Decimal `json:"q75"`
}

// SweetSpot is a contiguous range of booking lead days whose median fares
// sit within 5% of the curve minimum.
type SweetSpot struct {
	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`
}
