package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for streamgate operations
const (
	// External service attributes
	AttrServiceName      = "streamgate.service.name"
	AttrServiceOperation = "streamgate.service.operation"
	AttrServiceURL       = "streamgate.service.url"
	AttrServiceStatus    = "streamgate.service.status"

	// Cache attributes
	AttrCacheType = "streamgate.cache.type"
	AttrCacheHit  = "streamgate.cache.hit"
	AttrCacheKey  = "streamgate.cache.key"

	// Rate limiting attributes
	AttrRateLimitService = "streamgate.ratelimit.service"
	AttrRateLimitWaitMs  = "streamgate.ratelimit.wait_ms"

	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// ServiceAttributes returns attributes for external service calls
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// CacheAttributes returns attributes for cache operations
func CacheAttributes(cacheType string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
