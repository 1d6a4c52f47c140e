package provider

import (
	"context"
	"hash/fnv"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"serpradio/radar/types"
)

var _ Provider = (*SampleProvider)(nil)

// SampleProvider returns deterministic synthetic fares without touching the
// network. The same query always yields the same routes, dates and prices,
// which makes it suitable for local development and offline runs. Only the
// observation timestamp varies.
type SampleProvider struct {
	name   Name
	logger zerolog.Logger

	// now stamps the generated observations, injectable for tests.
	now func() time.Time
}

func NewSampleProvider(logger zerolog.Logger, endpoint Endpoint) *SampleProvider {
	return &SampleProvider{
		name:   endpoint.Name,
		logger: logger,
		now:    time.Now,
	}
}

// GetFares generates one synthetic fare per search.
func (p *SampleProvider) GetFares(_ context.Context, query types.FareQuery) ([]types.PriceObservation, error) {
	fetchedAt := p.now().UTC()

	searches := query.Searches()
	observations := make([]types.PriceObservation, 0, len(searches))
	for _, search := range searches {
		observations = append(observations, p.fare(search, query.Cabin, fetchedAt))
	}
	return observations, nil
}

// Name returns the adapter identity recorded on every observation.
func (p *SampleProvider) Name() Name {
	return p.name
}

// fare derives a synthetic fare from a hash of the search terms. The depart
// date lands inside the requested window and the price stays stable across
// calls for the same search. The cabin scales the price but never feeds the
// hash, so a pricier cabin always quotes above a cheaper one on the same
// route.
func (p *SampleProvider) fare(search types.Search, cabin types.Cabin, fetchedAt time.Time) types.PriceObservation {
	h := fnv.New64a()
	io.WriteString(h, search.Origin)
	io.WriteString(h, search.Destination)
	io.WriteString(h, search.Window.Start.Format(time.DateOnly))
	sum := h.Sum64()

	span := int(search.Window.End.Sub(search.Window.Start).Hours()/24) + 1
	if span < 1 {
		span = 1
	}
	departDate := search.Window.Start.AddDate(0, 0, int(sum%uint64(span)))

	base := decimal.NewFromInt(int64(80 + sum%320))
	price := base.Mul(cabinMultiplier(cabin)).Round(2)

	return types.PriceObservation{
		Origin:      search.Origin,
		Destination: search.Destination,
		Cabin:       cabin,
		DepartDate:  departDate,
		Price:       price,
		Source:      p.name.String(),
		ObservedAt:  fetchedAt,
	}
}

func cabinMultiplier(cabin types.Cabin) decimal.Decimal {
	switch cabin {
	case types.CabinPremium:
		return decimal.NewFromFloat(1.8)
	case types.CabinBusiness:
		return decimal.NewFromFloat(3.2)
	case types.CabinFirst:
		return decimal.NewFromFloat(4.5)
	}
	return decimal.NewFromInt(1)
}
