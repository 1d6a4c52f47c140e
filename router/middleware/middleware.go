package middleware

import (
	"net/http"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"serpradio/config"
)

// Build constructs the middleware chain every API route is served through:
// request logging and CORS.
func Build(logger zerolog.Logger, cfg config.Config) alice.Chain {
	mChain := alice.New()
	mChain = AddRequestLoggingMiddleware(mChain, logger)
	mChain = AddCORSMiddleware(mChain, cfg)

	return mChain
}

// AddRequestLoggingMiddleware appends HTTP logging middleware to the
// provided application middleware chain.
func AddRequestLoggingMiddleware(mChain alice.Chain, logger zerolog.Logger) alice.Chain {
	mChain = mChain.Append(hlog.NewHandler(logger))
	mChain = mChain.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	mChain = mChain.Append(hlog.RequestIDHandler("req_id", "Request-Id"))

	return mChain
}

// AddCORSMiddleware appends CORS middleware to the provided application
// middleware chain.
func AddCORSMiddleware(mChain alice.Chain, cfg config.Config) alice.Chain {
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
		},
		AllowedHeaders: []string{
			"Accept",
			"Accept-Language",
			"Content-Language",
			"Content-Type",
		},
		AllowCredentials: true,
		Debug:            cfg.Server.VerboseCORS,
	})
	mChain = mChain.Append(c.Handler)

	return mChain
}
