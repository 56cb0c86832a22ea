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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/ratedispatch/internal/admission"
	"github.com/eugener/ratedispatch/internal/apiclient"
	"github.com/eugener/ratedispatch/internal/config"
	"github.com/eugener/ratedispatch/internal/dispatch"
	"github.com/eugener/ratedispatch/internal/dispatcher"
	"github.com/eugener/ratedispatch/internal/inputstream"
	"github.com/eugener/ratedispatch/internal/outputlog"
	"github.com/eugener/ratedispatch/internal/retryqueue"
	"github.com/eugener/ratedispatch/internal/statusserver"
	"github.com/eugener/ratedispatch/internal/telemetry"
	"github.com/eugener/ratedispatch/internal/tokencount"
	"github.com/eugener/ratedispatch/internal/worker"
)

func run(f cliFlags) error {
	overlay, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyConfigDefaults(&f, overlay)

	setupLogging(f.loggingLevel)

	if f.requestsFilepath == "" {
		return errors.New("--requests_filepath is required")
	}
	if f.apiKey == "" {
		f.apiKey = os.Getenv("API_KEY")
	}
	if f.saveFilepath == "" {
		f.saveFilepath = defaultSaveFilepath(f.requestsFilepath)
	}

	endpointKind, ok := tokencount.DetectEndpointKind(f.requestURL)
	if !ok {
		return fmt.Errorf("unsupported endpoint in request_url %q: %w", f.requestURL, dispatch.ErrUnsupportedEndpoint)
	}

	encoder, err := tokencount.ResolveEncoder(f.tokenEncodingName)
	if err != nil {
		return err
	}

	runID := uuid.Must(uuid.NewV7()).String()
	slog.Info("starting ratedispatch",
		"version", version,
		"run_id", runID,
		"requests_filepath", f.requestsFilepath,
		"save_filepath", f.saveFilepath,
		"endpoint_kind", endpointKind.String(),
		"max_requests_per_minute", f.maxRequestsPerMinute,
		"max_tokens_per_minute", f.maxTokensPerMinute,
		"max_attempts", f.maxAttempts,
	)

	inputFile, err := os.Open(f.requestsFilepath)
	if err != nil {
		return fmt.Errorf("open requests_filepath: %w", err)
	}
	defer inputFile.Close()

	input := inputstream.New(inputFile)

	outLog, err := outputlog.Open(f.saveFilepath)
	if err != nil {
		return err
	}

	// Shared DNS cache for the outbound client, refreshed periodically the
	// same way the teacher's run.go does for its provider clients.
	dnsResolver := &dnscache.Resolver{}
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-t.C:
				dnsResolver.Refresh(true)
			}
		}
	}()

	// OpenTelemetry tracing. tracer stays nil (disabling span creation in
	// apiclient.Client.Send) unless --otlp_endpoint is set and setup
	// succeeds, matching the teacher's cmd/gandalf/run.go.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if f.otlpEndpoint != "" {
		ctx := context.Background()
		shutdown, err := telemetry.SetupTracing(ctx, f.otlpEndpoint, 0.1, runID)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("ratedispatch/apiclient")
			slog.Info("opentelemetry tracing enabled", "endpoint", f.otlpEndpoint)
		}
	}

	client := apiclient.New(f.requestURL, f.apiKey, dnsResolver, tracer)
	tracker := dispatch.NewTracker()
	admissionCtl := admission.New(f.maxRequestsPerMinute, f.maxTokensPerMinute, time.Now())
	retryQueue := retryqueue.New()

	workers := []worker.Worker{outLog}

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	var poller *telemetry.Poller
	if f.statusAddr != "" && f.metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		poller = telemetry.NewPoller(metrics)
		slog.Info("prometheus metrics enabled")
	}

	engine := dispatcher.New(dispatcher.Config{
		MaxAttempts:  f.maxAttempts,
		EndpointKind: endpointKind,
		Encoder:      encoder,
		Metrics:      metrics,
	}, input, retryQueue, admissionCtl, tracker, client, outLog)

	startedAt := time.Now()
	if f.statusAddr != "" {
		handler := statusserver.New(statusserver.Deps{
			RunID:          runID,
			Tracker:        tracker,
			Admission:      admissionCtl,
			Retry:          retryQueue,
			StartedAt:      startedAt,
			MetricsHandler: metricsHandler,
		})
		workers = append(workers, statusserver.NewListenerWorker(f.statusAddr, handler))
		slog.Info("status server enabled", "addr", f.statusAddr)
	}

	runner := worker.NewRunner(workers...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	if poller != nil {
		go func() {
			t := time.NewTicker(time.Second)
			defer t.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-t.C:
					poller.Poll(tracker.Snapshot(), telemetry.AdmissionState{
						AvailableRequests: admissionCtl.AvailableRequests(),
						AvailableTokens:   admissionCtl.AvailableTokens(),
						RetryQueueDepth:   retryQueue.Len(),
					})
				}
			}
		}()
	}

	// Run the dispatcher loop to completion, or until a shutdown signal
	// arrives. The dispatcher is not itself a worker.Worker: it is the
	// program's main body, and its completion is what ends the run, rather
	// than an external signal (SPEC_FULL.md §5).
	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	var engineErr error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
		cancelEngine()
		engineErr = <-engineDone
	case engineErr = <-engineDone:
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	if engineErr != nil && !errors.Is(engineErr, context.Canceled) {
		return engineErr
	}

	logSummary(tracker.Snapshot(), f.saveFilepath)
	return nil
}

// logSummary emits the end-of-run summary line spec.md §7 requires: total
// failed over total started, referencing the output file, plus a separate
// warning when any rate-limit errors were observed.
func logSummary(snap dispatch.Snapshot, saveFilepath string) {
	slog.Info("run complete",
		"succeeded", snap.Succeeded,
		"failed", snap.Failed,
		"started", snap.Started,
		"output_file", saveFilepath,
	)
	if snap.RateLimitErrors > 0 {
		slog.Warn("rate-limit errors observed during run; consider lowering max_requests_per_minute or max_tokens_per_minute",
			"rate_limit_errors", snap.RateLimitErrors,
		)
	}
}

// defaultSaveFilepath mirrors the original script's default: the input
// path with its extension replaced by _results.jsonl.
func defaultSaveFilepath(requestsFilepath string) string {
	ext := filepath.Ext(requestsFilepath)
	base := strings.TrimSuffix(requestsFilepath, ext)
	return base + "_results.jsonl"
}

// applyConfigDefaults fills in any flag the caller did not pass explicitly
// from the optional --config overlay, never overriding a flag the command
// line did set (SPEC_FULL.md §4.9).
func applyConfigDefaults(f *cliFlags, overlay *config.Config) {
	set := map[string]bool{}
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if !set["requests_filepath"] {
		f.requestsFilepath = config.StringOr(overlay.RequestsFilepath, f.requestsFilepath)
	}
	if !set["save_filepath"] {
		f.saveFilepath = config.StringOr(overlay.SaveFilepath, f.saveFilepath)
	}
	if !set["request_url"] {
		f.requestURL = config.StringOr(overlay.RequestURL, f.requestURL)
	}
	if !set["api_key"] {
		f.apiKey = config.StringOr(overlay.APIKey, f.apiKey)
	}
	if !set["max_requests_per_minute"] {
		f.maxRequestsPerMinute = config.Float64Or(overlay.MaxRequestsPerMinute, f.maxRequestsPerMinute)
	}
	if !set["max_tokens_per_minute"] {
		f.maxTokensPerMinute = config.Float64Or(overlay.MaxTokensPerMinute, f.maxTokensPerMinute)
	}
	if !set["token_encoding_name"] {
		f.tokenEncodingName = config.StringOr(overlay.TokenEncodingName, f.tokenEncodingName)
	}
	if !set["max_attempts"] {
		f.maxAttempts = config.IntOr(overlay.MaxAttempts, f.maxAttempts)
	}
	if !set["logging_level"] {
		f.loggingLevel = config.StringOr(overlay.LoggingLevel, f.loggingLevel)
	}
	if !set["status_addr"] {
		f.statusAddr = config.StringOr(overlay.StatusAddr, f.statusAddr)
	}
	if !set["otlp_endpoint"] {
		f.otlpEndpoint = config.StringOr(overlay.OTLPEndpoint, f.otlpEndpoint)
	}
	if !set["metrics"] {
		f.metrics = config.BoolOr(overlay.Metrics, f.metrics)
	}
}

// setupLogging configures the default slog logger's level from the
// --logging_level flag, matching the original script's logging.basicConfig.
func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
