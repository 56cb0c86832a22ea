package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eugener/ratedispatch/internal/admission"
	"github.com/eugener/ratedispatch/internal/dispatch"
	"github.com/eugener/ratedispatch/internal/inputstream"
	"github.com/eugener/ratedispatch/internal/outputlog"
	"github.com/eugener/ratedispatch/internal/retryqueue"
	"github.com/eugener/ratedispatch/internal/testutil"
	"github.com/eugener/ratedispatch/internal/tokencount"
)

func newTestEngine(t *testing.T, lines string, client *testutil.FakeClient, maxAttempts int) (*Engine, *dispatch.Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.jsonl")
	log, err := outputlog.Open(path)
	if err != nil {
		t.Fatalf("outputlog.Open() error = %v", err)
	}

	tracker := dispatch.NewTracker()
	adm := admission.New(1000, 1_000_000, time.Now())
	input := inputstream.New(strings.NewReader(lines))
	retry := retryqueue.New()

	e := New(Config{
		MaxAttempts:  maxAttempts,
		EndpointKind: tokencount.PlainCompletion,
		Encoder:      tokencount.HeuristicEncoder{},
	}, input, retry, adm, tracker, client, log)

	return e, tracker, path
}

// runWithLog drives the engine and the output log worker together, exactly
// as cmd/ratedispatch wires them, and returns once both have shut down.
func runWithLog(t *testing.T, e *Engine, log *outputlog.Log) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logDone := make(chan error, 1)
	go func() { logDone <- log.Run(ctx) }()

	if err := e.Run(context.Background()); err != nil {
		cancel()
		t.Fatalf("Run() error = %v", err)
	}
	cancel()
	if err := <-logDone; err != nil {
		t.Fatalf("output log Run() error = %v", err)
	}
}

func TestEngine_AllSucceed(t *testing.T) {
	t.Parallel()
	client := &testutil.FakeClient{}
	e, tracker, path := newTestEngine(t, "{\"prompt\":\"a\"}\n{\"prompt\":\"b\"}\n", client, 3)

	runWithLog(t, e, e.log)

	snap := tracker.Snapshot()
	if snap.Succeeded != 2 || snap.Failed != 0 || snap.InProgress != 0 {
		t.Fatalf("snapshot = %+v, want 2 succeeded, 0 failed, 0 in-progress", snap)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Errorf("output has %d lines, want 2", got)
	}
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	client := &testutil.FakeClient{
		SendFn: func(_ context.Context, payload dispatch.Payload, attempt int) (*dispatch.Response, error) {
			if attempt < 3 {
				return &dispatch.Response{HasError: true, ErrorMessage: "Internal error", ErrorBody: map[string]any{"message": "Internal error"}}, nil
			}
			return &dispatch.Response{Body: map[string]any{"ok": true}}, nil
		},
	}
	e, tracker, _ := newTestEngine(t, "{\"prompt\":\"a\"}\n", client, 5)

	runWithLog(t, e, e.log)

	snap := tracker.Snapshot()
	if snap.Succeeded != 1 || snap.APIErrors != 2 {
		t.Fatalf("snapshot = %+v, want 1 succeeded after 2 api errors", snap)
	}
}

func TestEngine_ExhaustsAttemptsAndFails(t *testing.T) {
	t.Parallel()
	client := &testutil.FakeClient{
		SendFn: func(_ context.Context, _ dispatch.Payload, _ int) (*dispatch.Response, error) {
			return &dispatch.Response{HasError: true, ErrorMessage: "Internal error", ErrorBody: map[string]any{"message": "Internal error"}}, nil
		},
	}
	e, tracker, path := newTestEngine(t, "{\"prompt\":\"a\"}\n", client, 2)

	runWithLog(t, e, e.log)

	snap := tracker.Snapshot()
	if snap.Failed != 1 || snap.Succeeded != 0 {
		t.Fatalf("snapshot = %+v, want 1 failed", snap)
	}
	if client.Calls() != 2 {
		t.Errorf("Calls() = %d, want exactly max_attempts=2", client.Calls())
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Internal error") {
		t.Errorf("output %q does not contain accumulated error text", data)
	}
}

func TestEngine_RateLimitSetsCooldown(t *testing.T) {
	t.Parallel()
	client := &testutil.FakeClient{
		SendFn: func(_ context.Context, _ dispatch.Payload, attempt int) (*dispatch.Response, error) {
			if attempt == 1 {
				return &dispatch.Response{HasError: true, ErrorMessage: "Rate limit reached for requests", ErrorBody: map[string]any{"message": "Rate limit reached for requests"}}, nil
			}
			return &dispatch.Response{Body: map[string]any{"ok": true}}, nil
		},
	}
	e, tracker, _ := newTestEngine(t, "{\"prompt\":\"a\"}\n", client, 3)

	start := time.Now()
	runWithLog(t, e, e.log)
	elapsed := time.Since(start)

	snap := tracker.Snapshot()
	if snap.RateLimitErrors != 1 {
		t.Fatalf("RateLimitErrors = %d, want 1", snap.RateLimitErrors)
	}
	if elapsed < admission.CooldownWindow {
		t.Errorf("elapsed = %v, want at least the %v cooldown window", elapsed, admission.CooldownWindow)
	}
}

func TestEngine_BackpressureHoldsNextPendingUntilAdmitted(t *testing.T) {
	t.Parallel()
	client := &testutil.FakeClient{}
	path := filepath.Join(t.TempDir(), "out.jsonl")
	log, err := outputlog.Open(path)
	if err != nil {
		t.Fatalf("outputlog.Open() error = %v", err)
	}

	tracker := dispatch.NewTracker()
	// Only one request per minute: the second input line must wait behind
	// nextPending rather than being read early (spec.md §4.8 step 3).
	adm := admission.New(1, 1_000_000, time.Now())
	input := inputstream.New(strings.NewReader("{\"prompt\":\"a\"}\n{\"prompt\":\"b\"}\n"))
	retry := retryqueue.New()

	e := New(Config{
		MaxAttempts:  3,
		EndpointKind: tokencount.PlainCompletion,
		Encoder:      tokencount.HeuristicEncoder{},
	}, input, retry, adm, tracker, client, log)

	runWithLog(t, e, log)

	snap := tracker.Snapshot()
	if snap.Succeeded != 2 {
		t.Fatalf("snapshot = %+v, want both requests to eventually succeed", snap)
	}
}

func TestEngine_TransportErrorIncrementsOtherErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	client := &testutil.FakeClient{
		SendFn: func(_ context.Context, _ dispatch.Payload, attempt int) (*dispatch.Response, error) {
			calls++
			if attempt == 1 {
				return nil, context.DeadlineExceeded
			}
			return &dispatch.Response{Body: map[string]any{"ok": true}}, nil
		},
	}
	e, tracker, _ := newTestEngine(t, "{\"prompt\":\"a\"}\n", client, 3)

	runWithLog(t, e, e.log)

	snap := tracker.Snapshot()
	if snap.OtherErrors != 1 || snap.Succeeded != 1 {
		t.Fatalf("snapshot = %+v, want 1 other error then 1 success", snap)
	}
}
