package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/riverwatch/streamgate/pkg/inference"
	"github.com/riverwatch/streamgate/pkg/monitoring"
	"github.com/riverwatch/streamgate/pkg/overpass"
	"github.com/riverwatch/streamgate/pkg/registration"
	"github.com/riverwatch/streamgate/pkg/roboflow"
	"github.com/riverwatch/streamgate/pkg/server"
	"github.com/riverwatch/streamgate/pkg/tracing"
	"github.com/riverwatch/streamgate/pkg/upstream"
	ver "github.com/riverwatch/streamgate/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	userAgent       string

	// HTTP flags
	listenAddr     string
	allowedOrigins string
	maxBodyBytes   int64
	inboundRPS     float64
	inboundBurst   int

	// Upstream flags
	inferenceURL      string
	roboflowURL       string
	overpassURL       string
	projectID         string
	areaName          string
	defaultConfidence float64
	overpassTimeout   time.Duration
	overpassCacheTTL  time.Duration

	// Static geodata flags
	riverHighlightsFile string
	geofenceFile        string

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string

	// Registration flags
	enableRegistration bool
	registryURL        string
	serviceURL         string
	internalURL        string

	// Rate limits for each upstream
	inferenceRPS   float64
	inferenceBurst int
	roboflowRPS    float64
	roboflowBurst  int
	overpassRPS    float64
	overpassBurst  int
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&userAgent, "user-agent", upstream.DefaultUserAgent, "User-Agent string for upstream requests")

	// HTTP flags
	flag.StringVar(&listenAddr, "addr", ":8080", "API server address")
	flag.StringVar(&allowedOrigins, "allowed-origins", "*", "Comma-separated CORS origins")
	flag.Int64Var(&maxBodyBytes, "max-body-bytes", server.DefaultMaxBodyBytes, "Maximum inbound request body size in bytes")
	flag.Float64Var(&inboundRPS, "inbound-rps", 10, "Per-client inbound rate limit in requests per second")
	flag.IntVar(&inboundBurst, "inbound-burst", 20, "Per-client inbound rate limit burst size")

	// Upstream flags
	flag.StringVar(&inferenceURL, "inference-url", inference.DefaultBaseURL, "Local inference service base URL")
	flag.StringVar(&roboflowURL, "roboflow-url", roboflow.DefaultBaseURL, "Roboflow API base URL")
	flag.StringVar(&overpassURL, "overpass-url", overpass.DefaultBaseURL, "Overpass API interpreter URL")
	flag.StringVar(&projectID, "project-id", roboflow.DefaultProjectID, "Roboflow project identifier")
	flag.StringVar(&areaName, "area-name", server.DefaultAreaName, "Named area for geodata queries")
	flag.Float64Var(&defaultConfidence, "confidence", server.DefaultConfidence, "Default inference confidence threshold")
	flag.DurationVar(&overpassTimeout, "overpass-timeout", overpass.DefaultBoundaryTimeout, "Timeout for Overpass boundary queries")
	flag.DurationVar(&overpassCacheTTL, "overpass-cache-ttl", overpass.DefaultCacheTTL, "TTL for cached Overpass responses (0 disables the cache)")

	// Static geodata flags
	flag.StringVar(&riverHighlightsFile, "river-highlights-file", server.DefaultRiverHighlightsFile, "Pre-generated river highlights GeoJSON file")
	flag.StringVar(&geofenceFile, "geofence-file", server.DefaultGeofenceFile, "Pre-generated geofence GeoJSON file")

	// Monitoring flags
	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")

	// Registration flags
	flag.BoolVar(&enableRegistration, "enable-registration", false, "Enable registration with a service registry")
	flag.StringVar(&registryURL, "registry-url", "", "Service registry URL")
	flag.StringVar(&serviceURL, "service-url", "", "External URL where this service is accessible")
	flag.StringVar(&internalURL, "internal-url", "", "Internal URL for container environments")

	// Inference rate limits
	flag.Float64Var(&inferenceRPS, "inference-rps", 50, "Inference service rate limit in requests per second")
	flag.IntVar(&inferenceBurst, "inference-burst", 10, "Inference service rate limit burst size")

	// Roboflow rate limits
	flag.Float64Var(&roboflowRPS, "roboflow-rps", 2, "Roboflow rate limit in requests per second")
	flag.IntVar(&roboflowBurst, "roboflow-burst", 2, "Roboflow rate limit burst size")

	// Overpass rate limits
	flag.Float64Var(&overpassRPS, "overpass-rps", 1, "Overpass rate limit in requests per second")
	flag.IntVar(&overpassBurst, "overpass-burst", 1, "Overpass rate limit burst size")
}

func main() {
	flag.Parse()

	// Configure logging
	var logLevel slog.Level
	if debug {
		logLevel = slog.LevelDebug
	} else {
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Show version and exit if requested
	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	// Initialize OpenTelemetry tracing
	ctx := context.Background()
	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		// Continue without tracing - it's not critical
	} else {
		defer func() {
			if err := shutdownTracing(ctx); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()

		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	// Update global user agent if specified
	if userAgent != upstream.DefaultUserAgent {
		upstream.SetUserAgent(userAgent)
	}

	// Update rate limits if specified
	if inferenceRPS != 50 || inferenceBurst != 10 {
		upstream.UpdateInferenceRateLimits(inferenceRPS, inferenceBurst)
	}
	if roboflowRPS != 2 || roboflowBurst != 2 {
		upstream.UpdateRoboflowRateLimits(roboflowRPS, roboflowBurst)
	}
	if overpassRPS != 1 || overpassBurst != 1 {
		upstream.UpdateOverpassRateLimits(overpassRPS, overpassBurst)
	}

	// Map upstream hosts to services for rate limiting and metrics
	upstream.RegisterServiceHost(upstream.ServiceInference, inferenceURL)
	upstream.RegisterServiceHost(upstream.ServiceRoboflow, roboflowURL)
	upstream.RegisterServiceHost(upstream.ServiceOverpass, overpassURL)

	logger.Info("starting streamgate",
		"version", ver.BuildVersion,
		"log_level", logLevel.String(),
		"addr", listenAddr,
		"inference_url", inferenceURL,
		"roboflow_url", roboflowURL,
		"overpass_url", overpassURL,
		"project_id", projectID,
		"area_name", areaName,
		"monitoring_enabled", enableMonitoring,
		"monitoring_addr", monitoringAddr)

	// Build upstream clients
	inferenceClient := inference.NewClient(inferenceURL, logger)
	roboflowClient := roboflow.NewClient(roboflowURL, projectID, logger)
	overpassClient := overpass.NewClient(overpass.Config{
		BaseURL:         overpassURL,
		BoundaryTimeout: overpassTimeout,
		CacheTTL:        overpassCacheTTL,
		Logger:          logger,
	})

	// Initialize health checker and wire request metrics
	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()

		upstream.SetMonitoringHooks(&upstream.MonitoringHooks{
			OnResponse: func(service, operation string, duration time.Duration, success bool) {
				monitoring.RecordExternalServiceRequest(service, operation, duration, success)
			},
			OnRateLimit: func(service string, waitTime time.Duration) {
				monitoring.RecordRateLimitWait(service, waitTime)
				monitoring.RecordRateLimitExceeded(service)
			},
			OnError: func(service, errorType string) {
				monitoring.RecordError(service, errorType)
			},
		})

		startUpstreamMonitoring(healthChecker, inferenceClient, overpassClient, logger)
	}

	srv := server.New(server.Config{
		Logger:              logger,
		Inference:           inferenceClient,
		Roboflow:            roboflowClient,
		Overpass:            overpassClient,
		AreaName:            areaName,
		RiverHighlightsFile: riverHighlightsFile,
		GeofenceFile:        geofenceFile,
		DefaultConfidence:   defaultConfidence,
		AllowedOrigins:      strings.Split(allowedOrigins, ","),
		RateLimit:           rate.Limit(inboundRPS),
		RateBurst:           inboundBurst,
		MaxBodyBytes:        maxBodyBytes,
	})
	defer srv.Close()

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Announce this instance to the service registry if configured
	if enableRegistration {
		svcURL := serviceURL
		if svcURL == "" {
			svcURL = fmt.Sprintf("http://localhost%s", listenAddr)
		}
		// Health endpoints live on the monitoring listener
		healthURL := fmt.Sprintf("http://localhost%s/health", monitoringAddr)
		if serviceURL != "" {
			healthURL = serviceURL + "/health"
		}

		regClient := registration.NewClient(registration.Config{
			Enabled:           enableRegistration,
			RegistryURL:       registryURL,
			ServiceName:       monitoring.ServiceName,
			ServiceType:       "api",
			ServiceURL:        svcURL,
			HealthURL:         healthURL,
			InternalURL:       internalURL,
			InternalHealthURL: internalURL + "/health",
			Version:           ver.BuildVersion,
			Capabilities:      []string{"detection", "dataset", "geodata"},
			Endpoints: []string{
				"/detect",
				"/api/roboflow/project",
				"/api/roboflow/versions",
				"/api/roboflow/download/{version}",
				"/api/roboflow/inference/{version}",
				"/api/roboflow/upload",
				"/api/river-highlights",
				"/api/river-highlights/overpass",
				"/api/geofence",
				"/api/geofence/overpass",
			},
			Metadata: map[string]any{
				"project_id": projectID,
				"area_name":  areaName,
			},
		}, logger)
		regClient.Start(ctx)
		defer regClient.Stop()
	}

	apiServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting API server", "addr", listenAddr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	if enableMonitoring {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", healthChecker.HealthHandler())
		mux.HandleFunc("/health/live", healthChecker.LivenessHandler())
		mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler())

		monitoringServer := &http.Server{
			Addr:              monitoringAddr,
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting monitoring server", "addr", monitoringAddr)
			if err := monitoringServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("monitoring server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return monitoringServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// startUpstreamMonitoring begins background health probes of the
// inference and Overpass upstreams. Roboflow is not probed: every call
// to it needs a caller credential this process does not hold.
func startUpstreamMonitoring(healthChecker *monitoring.HealthChecker, inferenceClient *inference.Client, overpassClient *overpass.Client, logger *slog.Logger) {
	inferenceMonitor := monitoring.NewConnectionMonitor(
		"inference",
		healthChecker,
		inferenceClient.CheckHealth,
		30*time.Second,
	)
	inferenceMonitor.Start()

	overpassMonitor := monitoring.NewConnectionMonitor(
		"overpass",
		healthChecker,
		overpassClient.CheckHealth,
		30*time.Second,
	)
	overpassMonitor.Start()

	logger.Info("started upstream monitoring",
		"services", []string{"inference", "overpass"},
		"check_interval", "30s")
}
