package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"serpradio/radar/types"
	"serpradio/telemetry"
)

var (
	_ Provider = (*XapiProvider)(nil)

	xapiDefaultEndpoints = Endpoint{
		Name: ProviderXapi,
		Rest: "https://xapi.faredata.net",
	}
)

type (
	// XapiProvider defines a fare source implemented by the Xapi fare data
	// API. Xapi has no batch endpoint, so every search is a separate GET
	// and only the single submission mode is supported.
	//
	// REF: https://xapi.faredata.net/docs
	XapiProvider struct {
		restProvider
	}

	XapiFaresResponse struct {
		Data []XapiFare `json:"data"`
	}

	XapiFare struct {
		From     string  `json:"from"`      // ex.: "JFK"
		To       string  `json:"to"`        // ex.: "MIA"
		Date     string  `json:"date"`      // ex.: "2026-03-14"
		PriceUSD float64 `json:"price_usd"` // ex.: 129.99
	}
)

func NewXapiProvider(logger zerolog.Logger, endpoint Endpoint) (*XapiProvider, error) {
	if endpoint.Mode == ModeBulk {
		return nil, fmt.Errorf("provider %s does not support bulk mode", ProviderXapi)
	}

	provider := &XapiProvider{}
	provider.init(logger, endpoint, xapiDefaultEndpoints)
	return provider, nil
}

// GetFares fans the query out one GET per search.
func (p *XapiProvider) GetFares(ctx context.Context, query types.FareQuery) ([]types.PriceObservation, error) {
	searches := query.Searches()
	return fanOutSingle(ctx, p.name, searches, func(ctx context.Context, search types.Search) ([]types.PriceObservation, error) {
		return p.search(ctx, search, query.Cabin)
	})
}

func (p *XapiProvider) search(ctx context.Context, search types.Search, cabin types.Cabin) ([]types.PriceObservation, error) {
	params := url.Values{}
	params.Set("from", search.Origin)
	params.Set("to", search.Destination)
	params.Set("depart_from", search.Window.Start.Format(time.DateOnly))
	params.Set("depart_to", search.Window.End.Format(time.DateOnly))
	params.Set("cabin", cabin.String())

	var faresResp XapiFaresResponse
	err := p.doJSON(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, p.rest+"/fares?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Api-Key", p.key)
		return req, nil
	}, &faresResp)
	if err != nil {
		return nil, err
	}

	return p.normalize(faresResp.Data, cabin), nil
}

func (p *XapiProvider) normalize(fares []XapiFare, cabin types.Cabin) []types.PriceObservation {
	fetchedAt := p.now().UTC()

	observations := make([]types.PriceObservation, 0, len(fares))
	dropped := 0
	for _, fare := range fares {
		price := decimal.NewFromFloat(fare.PriceUSD).Round(2)
		observation, err := types.NewPriceObservation(
			fare.From,
			fare.To,
			cabin,
			fare.Date,
			price.String(),
			p.name.String(),
			fetchedAt,
		)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("origin", fare.From).
				Str("destination", fare.To).
				Str("depart_date", fare.Date).
				Msg("dropping invalid fare")
			dropped++
			continue
		}

		observations = append(observations, observation)
	}

	if dropped > 0 {
		telemetry.IncrCounter(float32(dropped), "provider", "fares", "rejected")
	}
	return observations
}
