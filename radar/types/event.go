package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventPriceDrop marks a current low that undercut the trailing 25th
// percentile for its bucket.
const EventPriceDrop = "price_drop"

// NotificationEvent records one emitted pricing alert.
type NotificationEvent struct {
	ID          int64           `json:"id"`
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	Cabin       Cabin           `json:"cabin"`
	DepartMonth time.Time       `json:"depart_month"`
	EventType   string          `json:"event_type"`
	DeltaPct    decimal.Decimal `json:"delta_pct"` // signed, vs the 30d median
	Price       decimal.Decimal `json:"price"`
	BaselineP50 decimal.Decimal `json:"baseline_p50"`
	CreatedAt   time.Time       `json:"created_at"`
}
