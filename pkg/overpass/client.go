package overpass

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riverwatch/streamgate/pkg/monitoring"
	"github.com/riverwatch/streamgate/pkg/tracing"
	"github.com/riverwatch/streamgate/pkg/upstream"
)

const (
	// DefaultBaseURL is the public Overpass API interpreter endpoint
	DefaultBaseURL = "https://overpass-api.de/api/interpreter"

	// DefaultBoundaryTimeout bounds the administrative boundary query.
	// Boundary relations over a whole city are the slowest call this
	// service makes.
	DefaultBoundaryTimeout = 30 * time.Second

	// Cache defaults for converted-overlay source payloads
	DefaultCacheSize = 64
	DefaultCacheTTL  = 5 * time.Minute
)

// Config configures an Overpass client
type Config struct {
	// BaseURL of the Overpass interpreter; DefaultBaseURL if empty
	BaseURL string

	// BoundaryTimeout bounds the boundary query; DefaultBoundaryTimeout if zero
	BoundaryTimeout time.Duration

	// CacheTTL is how long successful responses are reused. Zero disables
	// the cache entirely.
	CacheTTL time.Duration

	// CacheSize caps the number of cached responses
	CacheSize int

	Logger *slog.Logger
}

// Client queries the Overpass API. A single instance is shared across
// requests; it holds no per-request state beyond the response cache.
type Client struct {
	baseURL         string
	boundaryTimeout time.Duration
	logger          *slog.Logger
	cache           *expirable.LRU[string, []byte]
}

// NewClient creates an Overpass client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BoundaryTimeout == 0 {
		cfg.BoundaryTimeout = DefaultBoundaryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var cache *expirable.LRU[string, []byte]
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = DefaultCacheSize
		}
		cache = expirable.NewLRU[string, []byte](size, nil, cfg.CacheTTL)
	}

	return &Client{
		baseURL:         cfg.BaseURL,
		boundaryTimeout: cfg.BoundaryTimeout,
		logger:          cfg.Logger.With("component", "overpass"),
		cache:           cache,
	}
}

// Waterways fetches river and stream geometry for the named area.
// The query is posted as a raw text body, which the interpreter accepts.
func (c *Client) Waterways(ctx context.Context, area string) upstream.Result {
	query := WaterwayQuery(area)
	return c.run(ctx, "waterways", query, strings.NewReader(query), "text/plain; charset=utf-8", 0)
}

// Boundary fetches the administrative boundary relation of the named
// area, form-encoded under data= and bounded by the boundary timeout.
func (c *Client) Boundary(ctx context.Context, area string) upstream.Result {
	query := BoundaryQuery(area)
	form := url.Values{"data": {query}}
	return c.run(ctx, "boundary", query, strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded", c.boundaryTimeout)
}

// run executes one Overpass query, consulting the cache first.
func (c *Client) run(ctx context.Context, operation, query string, body io.Reader, contentType string, timeout time.Duration) upstream.Result {
	ctx, span := tracing.StartSpan(ctx, "overpass."+operation,
		trace.WithAttributes(
			attribute.String(tracing.AttrServiceName, upstream.ServiceOverpass),
			attribute.String(tracing.AttrServiceOperation, operation),
		),
	)
	defer span.End()

	if c.cache != nil {
		if cached, found := c.cache.Get(query); found {
			c.logger.Debug("cache hit", "operation", operation)
			span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, true))
			monitoring.RecordCacheHit(upstream.ServiceOverpass)
			return upstream.Success(cached, http.StatusOK)
		}
		span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, false))
		monitoring.RecordCacheMiss(upstream.ServiceOverpass)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		span.SetStatus(codes.Error, "request build failed")
		return upstream.Failure(0, fmt.Sprintf("failed to build Overpass request: %v", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := upstream.DoRequest(ctx, req, operation)
	if err != nil {
		c.logger.Error("overpass request failed", "operation", operation, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return upstream.Failure(0, "Failed to fetch data from Overpass API")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("overpass returned error status", "operation", operation, "status", resp.StatusCode)
		span.SetStatus(codes.Error, "error status")
		return upstream.Failure(resp.StatusCode, "Failed to fetch data from Overpass API")
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("failed to read overpass response", "operation", operation, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return upstream.Failure(resp.StatusCode, "Failed to fetch data from Overpass API")
	}

	if c.cache != nil {
		c.cache.Add(query, payload)
	}

	span.SetStatus(codes.Ok, "")
	return upstream.Success(payload, resp.StatusCode)
}

// CheckHealth checks if the Overpass API is available
func (c *Client) CheckHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create overpass health check request: %w", err)
	}

	// A minimal query to check responsiveness
	req.URL.RawQuery = "data=" + url.QueryEscape("[out:json];out meta;")

	resp, err := upstream.DoRequest(ctx, req, "health")
	if err != nil {
		return fmt.Errorf("overpass health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("overpass health check returned status %d", resp.StatusCode)
	}

	return nil
}
