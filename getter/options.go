package getter

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Poster sends one bulk request body to path and returns the response body.
// The default Poster is an HTTP client for Config.BaseURL.
type Poster interface {
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
}

type options struct {
	logger         zerolog.Logger
	httpClient     *http.Client
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	poster         Poster
}

// Option configures a Getter
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient replaces the pooled HTTP client used for bulk calls
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithRegisterer registers the getter's prometheus metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the provider used for batch and HTTP spans.
// The default is the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithPoster sends bulk calls through p instead of HTTP. Rate limiting,
// retries and the circuit breaker are bypassed.
func WithPoster(p Poster) Option {
	return func(o *options) {
		o.poster = p
	}
}
