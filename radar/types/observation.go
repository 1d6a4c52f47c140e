package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is a single normalized fare quote for a directed route,
// cabin and departure date, as reported by one provider.
type PriceObservation struct {
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	Cabin       Cabin           `json:"cabin"`
	DepartDate  time.Time       `json:"depart_date"`
	Price       decimal.Decimal `json:"price"` // USD
	Source      string          `json:"source"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// NewPriceObservation builds an observation from provider wire values,
// normalizing codes and parsing the departure date and price. The returned
// observation already passed Validate.
func NewPriceObservation(
	origin string,
	destination string,
	cabin Cabin,
	departDate string,
	price string,
	source string,
	observedAt time.Time,
) (PriceObservation, error) {
	date, err := time.ParseInLocation(time.DateOnly, departDate, time.UTC)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("failed to parse depart date: %w", err)
	}
	priceDec, err := decimal.NewFromString(price)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("failed to parse fare price: %w", err)
	}
	observation := PriceObservation{
		Origin:      strings.ToUpper(strings.TrimSpace(origin)),
		Destination: strings.ToUpper(strings.TrimSpace(destination)),
		Cabin:       cabin,
		DepartDate:  date,
		Price:       priceDec,
		Source:      source,
		ObservedAt:  observedAt.UTC(),
	}
	return observation, observation.Validate()
}

// Validate returns an error if the observation violates an ingestion
// invariant. A violation rejects the single observation, never the batch
// it arrived in.
func (o PriceObservation) Validate() error {
	if !ValidAirportCode(o.Origin) {
		return fmt.Errorf("invalid origin code: %q", o.Origin)
	}
	if !ValidAirportCode(o.Destination) {
		return fmt.Errorf("invalid destination code: %q", o.Destination)
	}
	if o.Origin == o.Destination {
		return fmt.Errorf("origin and destination are equal: %s", o.Origin)
	}
	if _, err := ParseCabin(o.Cabin.String()); err != nil {
		return err
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", o.Price)
	}
	if o.Source == "" {
		return errors.New("empty observation source")
	}
	if o.ObservedAt.IsZero() {
		return errors.New("zero observation time")
	}
	if o.DepartDate.Before(DateOf(o.ObservedAt)) {
		return fmt.Errorf(
			"depart date %s is before observation date %s",
			o.DepartDate.Format(time.DateOnly),
			o.ObservedAt.Format(time.DateOnly),
		)
	}
	return nil
}

// RouteKey returns the baseline bucket the observation belongs to.
func (o PriceObservation) RouteKey() RouteKey {
	return RouteKey{
		Origin:      o.Origin,
		Destination: o.Destination,
		Cabin:       o.Cabin,
		DepartMonth: MonthStart(o.DepartDate),
	}
}

// FareQuery is one batch of fare searches submitted to a provider in a
// single adapter call.
type FareQuery struct {
	Origins      []string
	Destinations []string
	Windows      []Window
	Cabin        Cabin
}

// Searches expands the query into its (origin, destination, window)
// search triples, skipping same-airport routes.
func (q FareQuery) Searches() []Search {
	searches := make([]Search, 0, len(q.Origins)*len(q.Destinations)*len(q.Windows))
	for _, origin := range q.Origins {
		for _, destination := range q.Destinations {
			if origin == destination {
				continue
			}
			for _, window := range q.Windows {
				searches = append(searches, Search{
					Origin:      origin,
					Destination: destination,
					Window:      window,
				})
			}
		}
	}
	return searches
}
