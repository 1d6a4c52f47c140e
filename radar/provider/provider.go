package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"serpradio/radar/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultRateLimit = 8 // requests per second

	// maxRetries bounds how often a transient failure is retried. The
	// backoff schedule before each retry is 2s, 4s, 8s with ±25% jitter.
	maxRetries    = 3
	backoffJitter = 0.25

	// singleFetchLimit bounds the concurrent in-flight requests when a
	// batch is submitted search by search.
	singleFetchLimit = 4

	ProviderParallel Name = "parallel"
	ProviderXapi     Name = "xapi"
	ProviderSample   Name = "sample"
)

// baseBackoff is a var so the retry schedule can be shortened in tests.
var baseBackoff = 2 * time.Second

type (
	// Provider defines an interface a fare price source must implement.
	Provider interface {
		// GetFares returns normalized price observations for the query.
		// On partial failure it returns the observations collected so far
		// together with a summary error the caller may treat as
		// non-fatal.
		GetFares(ctx context.Context, query types.FareQuery) ([]types.PriceObservation, error)

		// Name returns the adapter identity recorded as the source of
		// every observation it produces.
		Name() Name
	}

	// Name of a fare provider, ex.: "parallel", "xapi".
	Name string

	// Mode selects how a batch of searches is submitted to a provider.
	Mode string

	// Endpoint defines a provider connection override and the operational
	// knobs shared by the HTTP providers.
	Endpoint struct {
		// Name of the provider, ex. "parallel".
		Name Name

		// Rest endpoint of the provider, ex. "https://api.parallelfares.io".
		// Adapters fall back to their default when empty.
		Rest string

		// Key authenticates requests against the provider API.
		Key string

		// Mode selects bulk or single submission.
		Mode Mode

		// Timeout bounds every single HTTP request. A retry issues a
		// fresh request with a fresh timeout.
		Timeout time.Duration

		// RateLimit caps outgoing requests per second.
		RateLimit int
	}
)

const (
	// ModeBulk submits the whole search batch in one request.
	ModeBulk Mode = "bulk"

	// ModeSingle submits one request per search. This is the
	// compatibility fallback for providers without a batch endpoint.
	ModeSingle Mode = "single"
)

// New returns the fare provider implementing the given source name.
func New(name Name, logger zerolog.Logger, endpoint Endpoint) (Provider, error) {
	endpoint.Name = name
	providerLogger := logger.With().Str("provider", name.String()).Logger()
	switch name {
	case ProviderParallel:
		return NewParallelProvider(providerLogger, endpoint)
	case ProviderXapi:
		return NewXapiProvider(providerLogger, endpoint)
	case ProviderSample:
		return NewSampleProvider(providerLogger, endpoint), nil
	}
	return nil, fmt.Errorf("provider %s not found", name)
}

// String casts the provider name to string.
func (n Name) String() string {
	return string(n)
}

// String casts the submission mode to string.
func (m Mode) String() string {
	return string(m)
}

// ErrorKind classifies a failed provider request.
type ErrorKind int

const (
	// ErrorTransient marks failures worth retrying: timeouts, connection
	// errors, HTTP 429 and 5xx responses.
	ErrorTransient ErrorKind = iota

	// ErrorPermanent marks failures a retry cannot fix: malformed
	// requests, authentication errors, unparseable bodies.
	ErrorPermanent
)

func (k ErrorKind) String() string {
	if k == ErrorTransient {
		return "transient"
	}
	return "permanent"
}

// RequestError wraps a failed provider request with its retry class and,
// when caused by an HTTP response, the status code.
type RequestError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s request failure (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failure: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind == ErrorTransient
	}
	return false
}

// classifyStatus maps an HTTP status code to a retry class: 429 and 5xx
// are transient, everything else is permanent.
func classifyStatus(status int) ErrorKind {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return ErrorTransient
	}
	return ErrorPermanent
}

// FetchError summarizes the failures of a partially successful fetch. The
// observations gathered before the failures are still returned to the
// caller alongside this error.
type FetchError struct {
	Provider  Name
	Transient int
	Permanent int
	Errs      []error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf(
		"%s fetch finished with %d transient and %d permanent failures: %v",
		e.Provider, e.Transient, e.Permanent, errors.Join(e.Errs...),
	)
}

func (e *FetchError) record(err error) {
	if IsTransient(err) {
		e.Transient++
	} else {
		e.Permanent++
	}
	e.Errs = append(e.Errs, err)
}

// orNil collapses an empty summary into a nil error.
func (e *FetchError) orNil() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e
}

// retryDelay returns the backoff before retry n (1-based) with jitter
// applied.
func retryDelay(retry int) time.Duration {
	delay := baseBackoff << (retry - 1)
	jitter := (rand.Float64()*2 - 1) * backoffJitter * float64(delay)
	return delay + time.Duration(jitter)
}

// preventRedirect avoid any redirect in the http.Client the request call
// will not return an error, but a valid response with redirect response code.
func preventRedirect(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

func newHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: preventRedirect,
	}
}

func checkHTTPStatus(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return &RequestError{
			Kind:   classifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}
	return nil
}

// fanOutSingle runs one fetch per search with bounded concurrency,
// preserving search order in the returned observations. Failed searches
// are collected into the summary error; context cancellation aborts the
// whole fan-out.
func fanOutSingle(
	ctx context.Context,
	name Name,
	searches []types.Search,
	fetch func(context.Context, types.Search) ([]types.PriceObservation, error),
) ([]types.PriceObservation, error) {
	results := make([][]types.PriceObservation, len(searches))
	fetchErr := &FetchError{Provider: name}
	mtx := new(sync.Mutex)

	g := new(errgroup.Group)
	g.SetLimit(singleFetchLimit)

	for i, search := range searches {
		i, search := i, search
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			observations, err := fetch(ctx, search)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mtx.Lock()
				fetchErr.record(err)
				mtx.Unlock()
				return nil
			}

			results[i] = observations
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	observations := []types.PriceObservation{}
	for _, result := range results {
		observations = append(observations, result...)
	}
	return observations, fetchErr.orNil()
}
