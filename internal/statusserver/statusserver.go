// Package statusserver implements the optional read-only status endpoint
// (spec.md's ambient observability surface, outside Non-goals since those
// only exclude dispatcher *features* -- spec.md §9 still carries
// observability the way the teacher does): /healthz, /status, and
// /metrics.
//
// Grounded on the teacher's internal/server/health.go (pre-allocated
// response bodies) and internal/server/middleware.go's logging/recovery
// shape, adapted way down from a full multi-route authenticated API
// gateway server to three unauthenticated routes -- there is no client
// traffic here, only an operator checking on a running batch job.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/ratedispatch/internal/admission"
	"github.com/eugener/ratedispatch/internal/dispatch"
	"github.com/eugener/ratedispatch/internal/retryqueue"
)

var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain"}
)

// StatusProvider supplies the live state the /status route reports.
type StatusProvider interface {
	Snapshot() dispatch.Snapshot
}

// Deps holds the status server's collaborators. MetricsHandler is nil when
// Prometheus metrics are disabled (spec.md §6's optional --metrics flag).
type Deps struct {
	RunID          string
	Tracker        StatusProvider
	Admission      *admission.Controller
	Retry          *retryqueue.Queue
	StartedAt      time.Time
	MetricsHandler http.Handler
}

// New builds the chi-routed handler for the status server.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(recovery)
	r.Use(logging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = plainCT
		w.WriteHeader(http.StatusOK)
		w.Write(okBody)
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, deps)
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}

type statusResponse struct {
	RunID             string  `json:"run_id"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Started           int64   `json:"started"`
	InProgress        int64   `json:"in_progress"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	RateLimitErrors   int64   `json:"rate_limit_errors"`
	APIErrors         int64   `json:"api_errors"`
	OtherErrors       int64   `json:"other_errors"`
	RetryQueueDepth   int     `json:"retry_queue_depth"`
	AvailableRequests float64 `json:"available_requests"`
	AvailableTokens   float64 `json:"available_tokens"`
}

func writeStatus(w http.ResponseWriter, deps Deps) {
	snap := deps.Tracker.Snapshot()
	resp := statusResponse{
		RunID:           deps.RunID,
		UptimeSeconds:   time.Since(deps.StartedAt).Seconds(),
		Started:         snap.Started,
		InProgress:      snap.InProgress,
		Succeeded:       snap.Succeeded,
		Failed:          snap.Failed,
		RateLimitErrors: snap.RateLimitErrors,
		APIErrors:       snap.APIErrors,
		OtherErrors:     snap.OtherErrors,
		RetryQueueDepth: deps.Retry.Len(),
	}
	if deps.Admission != nil {
		resp.AvailableRequests = deps.Admission.AvailableRequests()
		resp.AvailableTokens = deps.Admission.AvailableTokens()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("status encode failed", "error", err)
	}
}

func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.LogAttrs(r.Context(), slog.LevelDebug, "status request",
			slog.String("path", r.URL.Path),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

// ListenerWorker runs the status server's http.Server as a worker.Worker,
// so its lifecycle is tied to the same Runner that drives the output log
// (SPEC_FULL.md §4.13): it stops serving when ctx is cancelled rather than
// reacting to OS signals directly.
type ListenerWorker struct {
	srv *http.Server
}

// NewListenerWorker wraps handler behind an *http.Server bound to addr.
func NewListenerWorker(addr string, handler http.Handler) *ListenerWorker {
	return &ListenerWorker{srv: &http.Server{Addr: addr, Handler: handler}}
}

// Name identifies this worker for startup logging.
func (w *ListenerWorker) Name() string { return "status_server" }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (w *ListenerWorker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
