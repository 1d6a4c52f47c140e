package types

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RecommendationBuy   = "BUY"
	RecommendationTrack = "TRACK"
	RecommendationWait  = "WAIT"
)

// Evaluation is the deal evaluator's answer for one route, departure month
// and cabin. When HasData is false only the echoed inputs, Reason and any
// context that could still be resolved are populated.
type Evaluation struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Cabin       Cabin     `json:"cabin"`
	Month       int       `json:"month"`
	DepartMonth time.Time `json:"depart_month"`

	HasData bool   `json:"has_data"`
	Reason  string `json:"reason,omitempty"`

	CurrentPrice decimal.Decimal `json:"current_price"`
	LastSeen     time.Time       `json:"last_seen"`
	Baseline     *RouteBaseline  `json:"baseline,omitempty"`

	DeltaPct  decimal.Decimal `json:"delta_pct"`
	DealScore int             `json:"deal_score"`
	SweetSpot *SweetSpot      `json:"sweet_spot,omitempty"`

	Recommendation string `json:"recommendation,omitempty"`
	Confidence     int    `json:"confidence,omitempty"`
	Rationale      string `json:"rationale,omitempty"`
}
