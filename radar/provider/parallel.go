package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"serpradio/radar/types"
	"serpradio/telemetry"
)

var (
	_ Provider = (*ParallelProvider)(nil)

	parallelDefaultEndpoints = Endpoint{
		Name: ProviderParallel,
		Rest: "https://api.parallelfares.io",
	}
)

type (
	// ParallelProvider defines a fare source implemented by the Parallel
	// flight search API. The bulk mode submits a whole search batch in a
	// single POST; the single mode falls back to one request per search.
	//
	// REF: https://docs.parallelfares.io
	ParallelProvider struct {
		restProvider
	}

	// ParallelSearchRequest is the body of the bulk search POST.
	ParallelSearchRequest struct {
		Cabin    string           `json:"cabin"`    // ex.: "economy"
		Searches []ParallelSearch `json:"searches"` //
	}

	ParallelSearch struct {
		Origin      string `json:"origin"`      // ex.: "JFK"
		Destination string `json:"destination"` // ex.: "MIA"
		DepartFrom  string `json:"depart_from"` // ex.: "2026-03-01"
		DepartTo    string `json:"depart_to"`   // ex.: "2026-03-31"
	}

	ParallelFaresResponse struct {
		Fares []ParallelFare `json:"fares"`
	}

	ParallelFare struct {
		Origin      string `json:"origin"`      // ex.: "JFK"
		Destination string `json:"destination"` // ex.: "MIA"
		DepartDate  string `json:"depart_date"` // ex.: "2026-03-14"
		Price       string `json:"price"`       // USD, ex.: "129.99"
		Cabin       string `json:"cabin"`       // ex.: "economy"
	}
)

func NewParallelProvider(logger zerolog.Logger, endpoint Endpoint) (*ParallelProvider, error) {
	provider := &ParallelProvider{}
	provider.init(logger, endpoint, parallelDefaultEndpoints)
	return provider, nil
}

// GetFares submits the query and normalizes the returned fares into price
// observations. Fares that fail validation are dropped one by one, they
// never fail the batch.
func (p *ParallelProvider) GetFares(ctx context.Context, query types.FareQuery) ([]types.PriceObservation, error) {
	if p.mode == ModeSingle {
		searches := query.Searches()
		return fanOutSingle(ctx, p.name, searches, func(ctx context.Context, search types.Search) ([]types.PriceObservation, error) {
			return p.search(ctx, []types.Search{search}, query.Cabin)
		})
	}

	return p.search(ctx, query.Searches(), query.Cabin)
}

// search performs one bulk POST covering the given searches.
func (p *ParallelProvider) search(ctx context.Context, searches []types.Search, cabin types.Cabin) ([]types.PriceObservation, error) {
	if len(searches) == 0 {
		return nil, nil
	}

	reqBody := ParallelSearchRequest{
		Cabin:    cabin.String(),
		Searches: make([]ParallelSearch, len(searches)),
	}
	for i, search := range searches {
		reqBody.Searches[i] = ParallelSearch{
			Origin:      search.Origin,
			Destination: search.Destination,
			DepartFrom:  search.Window.Start.Format(time.DateOnly),
			DepartTo:    search.Window.End.Format(time.DateOnly),
		}
	}

	bz, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &RequestError{Kind: ErrorPermanent, Err: err}
	}

	var faresResp ParallelFaresResponse
	err = p.doJSON(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.rest+"/v1/fares/search", bytes.NewReader(bz))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.key)
		return req, nil
	}, &faresResp)
	if err != nil {
		return nil, err
	}

	return p.normalize(faresResp.Fares, cabin), nil
}

// normalize converts raw fares into validated price observations, dropping
// invalid entries individually.
func (p *ParallelProvider) normalize(fares []ParallelFare, queryCabin types.Cabin) []types.PriceObservation {
	fetchedAt := p.now().UTC()

	observations := make([]types.PriceObservation, 0, len(fares))
	dropped := 0
	for _, fare := range fares {
		cabin := queryCabin
		if fare.Cabin != "" {
			parsed, err := types.ParseCabin(fare.Cabin)
			if err != nil {
				dropped++
				continue
			}
			cabin = parsed
		}

		observation, err := types.NewPriceObservation(
			fare.Origin,
			fare.Destination,
			cabin,
			fare.DepartDate,
			fare.Price,
			p.name.String(),
			fetchedAt,
		)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("origin", fare.Origin).
				Str("destination", fare.Destination).
				Str("depart_date", fare.DepartDate).
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
