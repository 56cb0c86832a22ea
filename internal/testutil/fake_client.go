// Package testutil provides configurable test fakes for the dispatcher's
// collaborator interfaces, in the style of the teacher's FakeProvider: a
// struct of swappable function fields with a sane zero-value default.
package testutil

import (
	"context"
	"sync"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

// FakeClient is a configurable dispatch.APIClient. SendFn is called for
// every attempt if set; otherwise Send always succeeds with the body
// {"ok": true}.
type FakeClient struct {
	mu     sync.Mutex
	SendFn func(ctx context.Context, payload dispatch.Payload, attempt int) (*dispatch.Response, error)

	calls int
}

// Send delegates to SendFn, passing a 1-based call counter shared across all
// payloads (not tracked per payload), so single-record tests can script
// "fail twice then succeed" style scenarios.
func (f *FakeClient) Send(ctx context.Context, payload dispatch.Payload) (*dispatch.Response, error) {
	f.mu.Lock()
	f.calls++
	attempt := f.calls
	f.mu.Unlock()

	if f.SendFn != nil {
		return f.SendFn(ctx, payload, attempt)
	}
	return &dispatch.Response{Body: map[string]any{"ok": true}}, nil
}

// Calls reports how many times Send has been invoked so far.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
