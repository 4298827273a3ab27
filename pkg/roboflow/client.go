// Package roboflow is a client for the Roboflow dataset and hosted
// inference API. Credentials are per request: the caller's API key is
// passed on every call and attached as the api_key query parameter the
// upstream expects.
package roboflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/riverwatch/streamgate/pkg/tracing"
	"github.com/riverwatch/streamgate/pkg/upstream"
)

const (
	// DefaultBaseURL is the public Roboflow API
	DefaultBaseURL = "https://api.roboflow.com"

	// DefaultProjectID is the dataset project this deployment manages
	DefaultProjectID = "stream-cw7hj"

	// defaultOverlap is the fixed NMS overlap threshold sent with every
	// hosted inference call
	defaultOverlap = 0.5
)

// Client talks to the Roboflow API for a single configured project.
// It is stateless apart from configuration and safe for concurrent use.
type Client struct {
	baseURL   string
	projectID string
	logger    *slog.Logger
}

// NewClient creates a Roboflow client for the given project
func NewClient(baseURL, projectID string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if projectID == "" {
		projectID = DefaultProjectID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		projectID: projectID,
		logger:    logger.With("component", "roboflow"),
	}
}

// ProjectID returns the configured project identifier
func (c *Client) ProjectID() string {
	return c.projectID
}

// ProjectInfo fetches the raw project metadata payload. The body is
// passed through untouched so the client sees exactly what Roboflow
// returned.
func (c *Client) ProjectInfo(ctx context.Context, apiKey string) upstream.Result {
	res := c.get(ctx, "project_info", c.projectID, url.Values{"api_key": {apiKey}})
	if !res.OK {
		return upstream.Failure(res.Status, fmt.Sprintf("failed to get project info: %s", res.ErrText))
	}
	return res
}

// ProjectVersions fetches the project's version list. Failures and
// malformed payloads degrade to an empty list; the version listing is
// informational and must not error out the management UI.
func (c *Client) ProjectVersions(ctx context.Context, apiKey string) []Version {
	res := c.get(ctx, "project_versions", c.projectID, url.Values{"api_key": {apiKey}})
	if !res.OK {
		return []Version{}
	}

	var project Project
	if err := json.Unmarshal(res.Body, &project); err != nil {
		c.logger.Warn("malformed project payload", "error", err)
		return []Version{}
	}
	if project.Versions == nil {
		return []Version{}
	}
	return project.Versions
}

// DownloadLink requests an export of the given dataset version in the
// given format and returns the download link from the export.link field.
// A successful response with no link yields an empty string.
func (c *Client) DownloadLink(ctx context.Context, apiKey string, version int, format string) (string, error) {
	path := fmt.Sprintf("%s/%d/download", c.projectID, version)
	res := c.get(ctx, "download_dataset", path, url.Values{
		"api_key": {apiKey},
		"format":  {format},
	})
	if !res.OK {
		return "", fmt.Errorf("failed to get download link: %s", res.ErrText)
	}

	var info download
	if err := json.Unmarshal(res.Body, &info); err != nil {
		c.logger.Warn("malformed download payload", "error", err)
		return "", nil
	}
	if info.Export == nil {
		return "", nil
	}
	return info.Export.Link, nil
}

// Infer runs hosted inference for a model version against the given
// image bytes. The image is sent base64-encoded in the body, as the
// hosted inference endpoint expects.
func (c *Client) Infer(ctx context.Context, apiKey string, version int, confidence float64, image []byte) (*InferenceResult, error) {
	query := url.Values{
		"api_key":    {apiKey},
		"confidence": {strconv.FormatFloat(confidence, 'f', -1, 64)},
		"overlap":    {strconv.FormatFloat(defaultOverlap, 'f', -1, 64)},
	}
	endpoint := fmt.Sprintf("%s/%s/%d?%s", c.baseURL, c.projectID, version, query.Encode())

	encoded := base64.StdEncoding.EncodeToString(image)
	res := c.do(ctx, "run_inference", http.MethodPost, endpoint,
		strings.NewReader(encoded), "application/x-www-form-urlencoded")
	if !res.OK {
		return nil, fmt.Errorf("inference failed: %s", res.ErrText)
	}

	var result InferenceResult
	if err := json.Unmarshal(res.Body, &result); err != nil {
		c.logger.Warn("malformed inference payload", "error", err)
		return &InferenceResult{Predictions: []Prediction{}}, nil
	}
	if result.Predictions == nil {
		result.Predictions = []Prediction{}
	}
	return &result, nil
}

// Upload adds an image to the dataset. split selects the train split
// when true, valid otherwise. Upload never errors outward: any failure
// reports success=false, which is all the caller acts on.
func (c *Client) Upload(ctx context.Context, apiKey string, image []byte, filename, name string, split bool) bool {
	splitValue := "valid"
	if split {
		splitValue = "train"
	}
	query := url.Values{
		"api_key": {apiKey},
		"name":    {name},
		"split":   {splitValue},
	}
	endpoint := fmt.Sprintf("%s/%s/upload?%s", c.baseURL, c.projectID, query.Encode())

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		c.logger.Error("failed to build multipart body", "error", err)
		return false
	}
	if _, err := part.Write(image); err != nil {
		c.logger.Error("failed to write multipart body", "error", err)
		return false
	}
	if err := writer.Close(); err != nil {
		c.logger.Error("failed to finalize multipart body", "error", err)
		return false
	}

	res := c.do(ctx, "upload_image", http.MethodPost, endpoint, &body, writer.FormDataContentType())
	return res.OK
}

// get issues a GET against a project-relative path with query parameters
func (c *Client) get(ctx context.Context, operation, path string, query url.Values) upstream.Result {
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, path, query.Encode())
	return c.do(ctx, operation, http.MethodGet, endpoint, nil, "")
}

// do performs one request and folds the outcome into a Result
func (c *Client) do(ctx context.Context, operation, method, endpoint string, body io.Reader, contentType string) upstream.Result {
	ctx, span := tracing.StartSpan(ctx, "roboflow."+operation,
		trace.WithAttributes(
			attribute.String(tracing.AttrServiceName, upstream.ServiceRoboflow),
			attribute.String(tracing.AttrServiceOperation, operation),
			attribute.String(tracing.AttrHTTPMethod, method),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		span.SetStatus(codes.Error, "request build failed")
		return upstream.Failure(0, fmt.Sprintf("failed to build request: %v", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := upstream.DoRequest(ctx, req, operation)
	if err != nil {
		c.logger.Error("roboflow request failed", "operation", operation, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return upstream.Failure(0, err.Error())
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode))

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("failed to read roboflow response", "operation", operation, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return upstream.Failure(resp.StatusCode, "failed to read upstream response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("roboflow returned error status", "operation", operation, "status", resp.StatusCode)
		span.SetStatus(codes.Error, "error status")
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
		}
		return upstream.Failure(resp.StatusCode, msg)
	}

	span.SetStatus(codes.Ok, "")
	return upstream.Success(payload, resp.StatusCode)
}
