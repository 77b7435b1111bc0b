package opendata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opencarto/territoria/internal/resilience"
)

// ClientOptions configures the HTTP open-data client.
type ClientOptions struct {
	UserAgent    string
	Timeout      time.Duration
	Retry        resilience.RetryConfig
	RateLimiters map[string]*rate.Limiter
}

// DefaultRateLimiters returns per-host limits for the known public sources.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"api.insee.fr":            rate.NewLimiter(5, 5),
		"www.data.gouv.fr":        rate.NewLimiter(10, 10),
		"public.opendatasoft.com": rate.NewLimiter(10, 10),
	}
}

// Client fetches observations from JSON HTTP sources with per-host rate
// limiting, retry, and a circuit breaker per host.
type Client struct {
	httpClient *http.Client
	opts       ClientOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*resilience.CircuitBreaker
}

// NewClient creates a Client with the given options.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "territoria/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	limiters := opts.RateLimiters
	if limiters == nil {
		limiters = DefaultRateLimiters()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(20, 20)
	c.limiters[host] = lim
	return lim
}

func (c *Client) breakerFor(host string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("opendata: circuit state change",
				zap.String("host", host),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	c.breakers[host] = cb
	return cb
}

// Fetch downloads the URL body with retry and rate limiting. Responses with
// status 429 or 5xx are surfaced as transient errors so the retry layer backs
// off, with the longer 429 backoff applied by the retry config.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "opendata: parse url")
	}

	limiter := c.limiterFor(u.Host)
	breaker := c.breakerFor(u.Host)

	cfg := c.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(u.Host, "fetch")
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		var body []byte
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			if err := limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "opendata: rate limiter wait")
			}
			var fetchErr error
			body, fetchErr = c.fetchOnce(ctx, rawURL)
			return fetchErr
		})
		return body, err
	})
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "opendata: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "opendata: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, resilience.NewTransientError(
			eris.Errorf("opendata: rate limited by %s", req.URL.Host),
			http.StatusTooManyRequests,
		)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, resilience.NewTransientError(
			eris.Errorf("opendata: http %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode,
		)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, eris.Errorf("opendata: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "opendata: read body"), 0)
	}
	return body, nil
}

// FetchObservations downloads and decodes a JSON array of observations.
func (c *Client) FetchObservations(ctx context.Context, rawURL string) ([]Observation, error) {
	body, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var obs []Observation
	if err := json.Unmarshal(body, &obs); err != nil {
		return nil, eris.Wrap(err, "opendata: decode observations")
	}
	return obs, nil
}

// FetchStations downloads and decodes a JSON array of station readings.
func (c *Client) FetchStations(ctx context.Context, rawURL string) ([]StationReading, error) {
	body, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var readings []StationReading
	if err := json.Unmarshal(body, &readings); err != nil {
		return nil, eris.Wrap(err, "opendata: decode station readings")
	}
	return readings, nil
}
