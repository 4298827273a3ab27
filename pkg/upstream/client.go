// Package upstream provides shared plumbing for outbound calls to the
// services streamgate aggregates: the local detection service, the
// Roboflow dataset API, and the Overpass geodata API.
package upstream

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/riverwatch/streamgate/pkg/tracing"
)

const (
	// DefaultUserAgent is the default User-Agent string
	DefaultUserAgent = "streamgate/0.1.0"
)

// Service names for rate limiting, metrics and tracing.
const (
	ServiceInference = "inference"
	ServiceRoboflow  = "roboflow"
	ServiceOverpass  = "overpass"
)

var (
	// Global HTTP client with connection pooling
	httpClient *http.Client

	// Rate limiters for each service
	inferenceLimiter *rate.Limiter
	roboflowLimiter  *rate.Limiter
	overpassLimiter  *rate.Limiter

	// Hosts registered for per-service rate limiting
	serviceHosts   map[string]string
	serviceHostsMu sync.RWMutex

	// User agent string
	userAgent     string
	userAgentLock sync.RWMutex
)

// init initializes the global HTTP client and rate limiters
func init() {
	httpClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 30 * time.Second,
	}

	initRateLimiters()
	serviceHosts = make(map[string]string)
	SetUserAgent(DefaultUserAgent)
}

// initRateLimiters initializes the rate limiters with default values
func initRateLimiters() {
	// The local inference service tolerates a lot more traffic than the
	// public APIs do.
	inferenceLimiter = rate.NewLimiter(rate.Limit(50), 10)
	roboflowLimiter = rate.NewLimiter(rate.Limit(2), 2)
	overpassLimiter = rate.NewLimiter(rate.Limit(1), 1)
}

// UpdateInferenceRateLimits updates the inference service rate limiter
func UpdateInferenceRateLimits(rps float64, burst int) {
	inferenceLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// UpdateRoboflowRateLimits updates the Roboflow rate limiter
func UpdateRoboflowRateLimits(rps float64, burst int) {
	roboflowLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// UpdateOverpassRateLimits updates the Overpass rate limiter
func UpdateOverpassRateLimits(rps float64, burst int) {
	overpassLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// RegisterServiceHost associates an upstream base URL with a named service
// so requests to it are matched to the right rate limiter. Called once at
// startup for each configured upstream.
func RegisterServiceHost(service, baseURL string) {
	serviceHostsMu.Lock()
	defer serviceHostsMu.Unlock()
	serviceHosts[hostFromURL(baseURL)] = service
}

// SetUserAgent sets the User-Agent string
func SetUserAgent(ua string) {
	userAgentLock.Lock()
	defer userAgentLock.Unlock()
	userAgent = ua
}

// GetUserAgent returns the current User-Agent string
func GetUserAgent() string {
	userAgentLock.RLock()
	defer userAgentLock.RUnlock()
	return userAgent
}

// GetClient returns the global HTTP client
func GetClient() *http.Client {
	return httpClient
}

// hostFromURL extracts the host from a URL string
func hostFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}

// serviceForHost returns the registered service name for a host
func serviceForHost(host string) string {
	serviceHostsMu.RLock()
	defer serviceHostsMu.RUnlock()
	return serviceHosts[host]
}

// limiterForService returns the rate limiter for a named service
func limiterForService(service string) *rate.Limiter {
	switch service {
	case ServiceInference:
		return inferenceLimiter
	case ServiceRoboflow:
		return roboflowLimiter
	case ServiceOverpass:
		return overpassLimiter
	default:
		return nil
	}
}

// waitForRateLimit waits for the appropriate rate limiter based on the request URL
func waitForRateLimit(ctx context.Context, req *http.Request) error {
	service := serviceForHost(req.URL.Host)
	limiter := limiterForService(service)
	if limiter == nil {
		return nil // No rate limiting for unknown hosts
	}

	if !limiter.Allow() {
		startWait := time.Now()

		tracing.AddEvent(ctx, "rate_limit_wait",
			trace.WithAttributes(
				attribute.String(tracing.AttrRateLimitService, service),
			),
		)

		err := limiter.Wait(ctx)

		waitDuration := time.Since(startWait)
		tracing.SetAttributes(ctx,
			attribute.String(tracing.AttrRateLimitService, service),
			attribute.Int64(tracing.AttrRateLimitWaitMs, waitDuration.Milliseconds()),
		)

		hooks := getMonitoringHooks()
		if hooks != nil && hooks.OnRateLimit != nil {
			hooks.OnRateLimit(service, waitDuration)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// DoRequest performs an HTTP request with the User-Agent header, rate
// limiting and monitoring hooks applied. It is the single outbound door
// for all upstream traffic.
func DoRequest(ctx context.Context, req *http.Request, operation string) (*http.Response, error) {
	req.Header.Set("User-Agent", GetUserAgent())

	service := serviceForHost(req.URL.Host)

	hooks := getMonitoringHooks()
	if hooks != nil && hooks.OnRequest != nil {
		hooks.OnRequest(service, operation)
	}

	if err := waitForRateLimit(ctx, req); err != nil {
		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(service, "rate_limit_wait_error")
		}
		return nil, err
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	duration := time.Since(start)

	success := err == nil && resp != nil && resp.StatusCode < 400
	if hooks != nil && hooks.OnResponse != nil {
		hooks.OnResponse(service, operation, duration, success)
	}
	if err != nil && hooks != nil && hooks.OnError != nil {
		hooks.OnError(service, "request_error")
	}

	return resp, err
}
