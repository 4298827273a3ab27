// Package server provides the HTTP surface of the streamgate service:
// the detection proxy, the Roboflow management endpoints, and the
// geodata endpoints serving static and live-converted GeoJSON.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/riverwatch/streamgate/pkg/geojson"
	"github.com/riverwatch/streamgate/pkg/inference"
	"github.com/riverwatch/streamgate/pkg/overpass"
	"github.com/riverwatch/streamgate/pkg/roboflow"
)

const (
	// DefaultAreaName is the administrative area all geodata queries
	// are scoped to
	DefaultAreaName = "Naga City"

	// DefaultRiverHighlightsFile is the pre-generated waterway overlay
	DefaultRiverHighlightsFile = "wwwroot/river_stream_highlights/export.geojson"

	// DefaultGeofenceFile is the pre-generated geofence boundary
	DefaultGeofenceFile = "wwwroot/naga_geofence/naga_geofence.geojson"

	// DefaultConfidence is the inference confidence threshold applied
	// when the request does not supply one
	DefaultConfidence = 0.5

	// DefaultDownloadFormat is the dataset export format applied when
	// the request does not supply one
	DefaultDownloadFormat = "yolov7"

	// DefaultMaxBodyBytes bounds inbound request bodies
	DefaultMaxBodyBytes = 32 << 20
)

// Config carries everything the HTTP layer needs. All fields are fixed
// at startup.
type Config struct {
	Logger              *slog.Logger
	Inference           *inference.Client
	Roboflow            *roboflow.Client
	Overpass            *overpass.Client
	AreaName            string
	RiverHighlightsFile string
	GeofenceFile        string
	DefaultConfidence   float64
	AllowedOrigins      []string
	RateLimit           rate.Limit
	RateBurst           int
	MaxBodyBytes        int64
}

// Server routes inbound requests to the upstream clients
type Server struct {
	logger    *slog.Logger
	inference *inference.Client
	roboflow  *roboflow.Client
	overpass  *overpass.Client
	cfg       Config
	limiter   *RateLimiter
	router    chi.Router
}

// New creates the HTTP server with all routes and middleware wired
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AreaName == "" {
		cfg.AreaName = DefaultAreaName
	}
	if cfg.RiverHighlightsFile == "" {
		cfg.RiverHighlightsFile = DefaultRiverHighlightsFile
	}
	if cfg.GeofenceFile == "" {
		cfg.GeofenceFile = DefaultGeofenceFile
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = DefaultConfidence
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		logger:    cfg.Logger.With("component", "server"),
		inference: cfg.Inference,
		roboflow:  cfg.Roboflow,
		overpass:  cfg.Overpass,
		cfg:       cfg,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases background resources held by the middleware stack
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.limiter.Middleware)
	r.Use(RequestSizeLimiter(s.cfg.MaxBodyBytes))
	r.Use(LoggingMiddleware(s.logger))
	r.Use(TracingMiddleware())
	r.Use(MetricsMiddleware())

	r.Post("/detect", s.handleDetect)

	r.Route("/api", func(r chi.Router) {
		r.Route("/roboflow", func(r chi.Router) {
			r.Get("/project", s.handleProject)
			r.Get("/versions", s.handleVersions)
			r.Post("/download/{version}", s.handleDownload)
			r.Post("/inference/{version}", s.handleInference)
			r.Post("/upload", s.handleUpload)
		})
		r.Get("/river-highlights", s.handleRiverHighlights)
		r.Get("/river-highlights/overpass", s.handleRiverHighlightsOverpass)
		r.Get("/geofence", s.handleGeofence)
		r.Get("/geofence/overpass", s.handleGeofenceOverpass)
	})

	return r
}

// handleDetect forwards a raw detection request to the local inference
// service. The overlay client must never see a transport error here, so
// any upstream failure becomes a 200 with the empty sentinel.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	res := s.inference.Detect(r.Context(), body)

	// The overlay always gets 200 here: the payload itself carries the
	// outcome, and a failed upstream call degrades to the sentinel.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if !res.OK {
		if _, err := io.WriteString(w, inference.Sentinel); err != nil {
			s.logger.Error("failed to write sentinel response", "error", err)
		}
		return
	}

	if _, err := w.Write(res.Body); err != nil {
		s.logger.Error("failed to write detect response", "error", err)
	}
}

// handleProject returns the raw project metadata from Roboflow
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeUnauthorized(w)
		return
	}

	res := s.roboflow.ProjectInfo(r.Context(), apiKey)
	if !res.OK {
		writeError(w, http.StatusBadRequest, res.ErrText)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Body); err != nil {
		s.logger.Error("failed to write project response", "error", err)
	}
}

// handleVersions returns the project's version list
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeUnauthorized(w)
		return
	}

	versions := s.roboflow.ProjectVersions(r.Context(), apiKey)
	writeJSON(w, http.StatusOK, versions)
}

// handleDownload requests a dataset export and returns its link
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeUnauthorized(w)
		return
	}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = DefaultDownloadFormat
	}

	link, err := s.roboflow.DownloadLink(r.Context(), apiKey, version, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"downloadLink": link})
}

// handleInference runs hosted inference against an uploaded image. The
// image is staged through a temporary file that is removed on every
// exit path.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeUnauthorized(w)
		return
	}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}

	confidence := s.cfg.DefaultConfidence
	if raw := r.URL.Query().Get("confidence"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			confidence = parsed
		}
	}

	image, _, ok := s.readUploadedImage(w, r)
	if !ok {
		return
	}

	result, err := s.roboflow.Infer(r.Context(), apiKey, version, confidence, image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleUpload adds an uploaded image to the dataset
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeUnauthorized(w)
		return
	}

	name := r.URL.Query().Get("name")
	split, _ := strconv.ParseBool(r.URL.Query().Get("split"))

	image, filename, ok := s.readUploadedImage(w, r)
	if !ok {
		return
	}
	if name == "" {
		name = filename
	}

	success := s.roboflow.Upload(r.Context(), apiKey, image, filename, name, split)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

// handleRiverHighlights serves the pre-generated waterway overlay
func (s *Server) handleRiverHighlights(w http.ResponseWriter, r *http.Request) {
	s.serveGeoJSONFile(w, r, s.cfg.RiverHighlightsFile, "River highlights data not found")
}

// handleRiverHighlightsOverpass fetches waterway geometry live from
// Overpass and converts it to GeoJSON
func (s *Server) handleRiverHighlightsOverpass(w http.ResponseWriter, r *http.Request) {
	res := s.overpass.Waterways(r.Context(), s.cfg.AreaName)
	if !res.OK {
		writeError(w, http.StatusBadRequest, res.ErrText)
		return
	}
	s.writeConverted(w, res.Body)
}

// handleGeofence serves the pre-generated geofence boundary
func (s *Server) handleGeofence(w http.ResponseWriter, r *http.Request) {
	s.serveGeoJSONFile(w, r, s.cfg.GeofenceFile, "Geofence data not found")
}

// handleGeofenceOverpass fetches the administrative boundary live from
// Overpass and converts it to GeoJSON
func (s *Server) handleGeofenceOverpass(w http.ResponseWriter, r *http.Request) {
	res := s.overpass.Boundary(r.Context(), s.cfg.AreaName)
	if !res.OK {
		writeError(w, http.StatusBadRequest, res.ErrText)
		return
	}
	s.writeConverted(w, res.Body)
}

// readUploadedImage pulls the multipart image field, stages it through
// a temp file, and returns its bytes. The temp file never outlives the
// request.
func (s *Server) readUploadedImage(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return nil, "", false
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "streamgate-image-*")
	if err != nil {
		s.logger.Error("failed to create temp file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stage uploaded image")
		return nil, "", false
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.logger.Error("failed to write temp file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stage uploaded image")
		return nil, "", false
	}
	if err := tmp.Close(); err != nil {
		s.logger.Error("failed to close temp file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stage uploaded image")
		return nil, "", false
	}

	image, err := os.ReadFile(tmpName)
	if err != nil {
		s.logger.Error("failed to read temp file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stage uploaded image")
		return nil, "", false
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "image file is required")
		return nil, "", false
	}

	return image, header.Filename, true
}

// serveGeoJSONFile serves a static GeoJSON file, or a plain 404 message
// when it is absent
func (s *Server) serveGeoJSONFile(w http.ResponseWriter, r *http.Request, path, notFound string) {
	if _, err := os.Stat(path); err != nil {
		http.Error(w, notFound, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}

// writeConverted converts an Overpass payload and writes the resulting
// FeatureCollection
func (s *Server) writeConverted(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(geojson.Convert(payload)); err != nil {
		s.logger.Error("failed to write geodata response", "error", err)
	}
}

// extractAPIKey resolves the caller's credential. The Authorization
// header takes precedence over the api_key query parameter; absence
// yields the empty string.
func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token
		}
	}
	return r.URL.Query().Get("api_key")
}

func writeUnauthorized(w http.ResponseWriter) {
	http.Error(w, "API key required", http.StatusUnauthorized)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
