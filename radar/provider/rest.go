package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"serpradio/telemetry"
)

const (
	breakerTripFailures uint32 = 5
	breakerResetTimeout        = 30 * time.Second
)

// restProvider collects the plumbing shared by the HTTP fare providers: a
// timeout-bound client, a token-bucket rate limiter, a circuit breaker and
// retry handling for transient failures.
type restProvider struct {
	name    Name
	logger  zerolog.Logger
	client  *http.Client
	rest    string
	key     string
	mode    Mode
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	// now stamps fetched observations, injectable for tests.
	now func() time.Time
}

func (p *restProvider) init(logger zerolog.Logger, endpoint, defaults Endpoint) {
	if endpoint.Rest == "" {
		endpoint.Rest = defaults.Rest
	}
	if endpoint.Timeout == 0 {
		endpoint.Timeout = defaultTimeout
	}
	if endpoint.RateLimit <= 0 {
		endpoint.RateLimit = defaultRateLimit
	}

	p.name = endpoint.Name
	p.logger = logger
	p.client = newHTTPClientWithTimeout(endpoint.Timeout)
	p.rest = endpoint.Rest
	p.key = endpoint.Key
	p.mode = endpoint.Mode
	p.limiter = rate.NewLimiter(rate.Limit(endpoint.RateLimit), endpoint.RateLimit)
	p.now = time.Now
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint.Name.String(),
		Timeout: breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker changed state")
		},
	})
}

// Name returns the adapter identity recorded on every observation.
func (p *restProvider) Name() Name {
	return p.name
}

// doJSON performs one logical provider request, decoding the response body
// into out. Every attempt passes the rate limiter and the circuit breaker;
// transient failures are retried up to maxRetries times with exponential
// backoff. newReq must build a fresh request per attempt so the body can be
// resent.
func (p *restProvider) doJSON(ctx context.Context, newReq func() (*http.Request, error), out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			telemetry.IncrCounter(1, "provider", p.name.String(), "retry")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := p.breaker.Execute(func() (interface{}, error) {
			bz, err := p.doOnce(ctx, newReq)
			if err != nil {
				return nil, err
			}
			return bz, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = &RequestError{Kind: ErrorTransient, Err: err}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			lastErr = err
			if !IsTransient(err) {
				telemetry.IncrCounter(1, "provider", p.name.String(), "failure", "permanent")
				return err
			}
			telemetry.IncrCounter(1, "provider", p.name.String(), "failure", "transient")

			p.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Msg("provider request failed")
			continue
		}

		if err := json.Unmarshal(body.([]byte), out); err != nil {
			return &RequestError{
				Kind: ErrorPermanent,
				Err:  fmt.Errorf("failed to decode response: %w", err),
			}
		}
		return nil
	}

	return lastErr
}

// doOnce performs a single HTTP attempt and returns the raw body.
func (p *restProvider) doOnce(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	req, err := newReq()
	if err != nil {
		return nil, &RequestError{Kind: ErrorPermanent, Err: err}
	}

	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &RequestError{Kind: ErrorTransient, Err: err}
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return nil, err
	}

	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Kind: ErrorTransient, Err: err}
	}
	return bz, nil
}
