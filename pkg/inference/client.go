// Package inference proxies detection requests to the local YOLOv7
// inference service. The service is trusted and local, so calls carry no
// authentication, and its failures are hidden behind a fixed sentinel so
// the live overlay never sees a transport error.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riverwatch/streamgate/pkg/tracing"
	"github.com/riverwatch/streamgate/pkg/upstream"
)

const (
	// DefaultBaseURL is where the local inference service listens
	DefaultBaseURL = "http://127.0.0.1:5001"

	// Sentinel is returned verbatim whenever the inference upstream
	// fails. The overlay client treats it as "nothing detected".
	Sentinel = `{"detections":[],"gaugePct":null}`
)

// Client proxies requests to the detection service
type Client struct {
	baseURL string
	logger  *slog.Logger
}

// NewClient creates an inference proxy client
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "inference"),
	}
}

// Detect forwards the raw request body to the detection service and
// returns the upstream payload untouched. The body is opaque to this
// layer.
func (c *Client) Detect(ctx context.Context, body []byte) upstream.Result {
	ctx, span := tracing.StartSpan(ctx, "inference.detect",
		trace.WithAttributes(
			attribute.String(tracing.AttrServiceName, upstream.ServiceInference),
			attribute.String(tracing.AttrServiceOperation, "detect"),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, "request build failed")
		return upstream.Failure(0, fmt.Sprintf("failed to build detect request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := upstream.DoRequest(ctx, req, "detect")
	if err != nil {
		c.logger.Warn("inference service unreachable", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return upstream.Failure(0, err.Error())
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode))

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("failed to read inference response", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return upstream.Failure(resp.StatusCode, err.Error())
	}

	// The upstream's own payload is forwarded even on non-200: the
	// detection service reports its errors inside the JSON body.
	span.SetStatus(codes.Ok, "")
	return upstream.Success(payload, resp.StatusCode)
}

// CheckHealth checks if the inference service is reachable
func (c *Client) CheckHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create inference health check request: %w", err)
	}

	resp, err := upstream.DoRequest(ctx, req, "health")
	if err != nil {
		return fmt.Errorf("inference health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("inference health check returned status %d", resp.StatusCode)
	}

	return nil
}
