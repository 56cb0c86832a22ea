package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Response is the decoded result of one HTTP attempt to the remote
// endpoint (spec.md §4.3 step 1-2): either a JSON body (which may itself
// carry an "error" object) or a transport/decode failure, never both.
type Response struct {
	Body         map[string]any
	HasError     bool
	ErrorMessage string
	ErrorBody    any // the full "error" object, preserved for the output log
	StatusCode   int
}

// HTTPStatus satisfies dispatch's httpStatusError interface so IsRateLimitError
// can classify on status code as well as message substring.
func (r *Response) HTTPStatus() int { return r.StatusCode }

// APIClient sends one request attempt to the remote endpoint. Implemented by
// internal/apiclient.Client; declared here (the dependency root) so this
// package stays import-free of the HTTP layer, mirroring how the teacher's
// gateway.go defines the Provider interface that concrete provider adapters
// implement.
type APIClient interface {
	Send(ctx context.Context, payload Payload) (*Response, error)
}

// Attempt performs one dispatch attempt (spec.md §4.3): send, classify, and
// decide whether the record is now terminal or must be retried. The caller
// is responsible for admission (capacity deduction, attempts_left
// decrement) before calling Attempt, and for re-enqueueing or logging the
// outcome afterward -- Attempt only updates the Tracker and returns the
// decision, it does not touch the retry queue or output log itself, so
// that ownership transfer (spec.md §3's "exactly one of these states")
// stays entirely in the dispatcher's hands.
//
// Returns (outcome, retry). When retry is true, outcome is nil and the
// record (with an appended error) should be pushed back onto the retry
// queue. When retry is false, outcome is non-nil and should be written to
// the output log.
func (r *Record) Attempt(ctx context.Context, client APIClient, tracker *Tracker, now time.Time) (outcome *Outcome, retry bool) {
	resp, err := client.Send(ctx, r.Payload)

	switch {
	case err != nil:
		if IsRateLimitError(err.Error(), err) {
			tracker.RecordRateLimitError(now)
		} else {
			tracker.RecordOtherError()
		}
		r.Errors = append(r.Errors, err.Error())

	case resp.HasError:
		if IsRateLimitError(resp.ErrorMessage, resp) {
			tracker.RecordRateLimitError(now)
		} else {
			tracker.RecordAPIError()
		}
		r.Errors = append(r.Errors, errorString(resp.ErrorBody, resp.ErrorMessage))

	default:
		tracker.RecordSucceeded()
		return &Outcome{
			Success:     true,
			Payload:     r.Payload,
			Response:    resp.Body,
			Metadata:    r.Metadata,
			HasMetadata: r.HasMetadata,
		}, false
	}

	if r.AttemptsLeft > 0 {
		return nil, true
	}

	tracker.RecordFailed()
	return &Outcome{
		Success:     false,
		Payload:     r.Payload,
		Errors:      append([]string(nil), r.Errors...),
		Metadata:    r.Metadata,
		HasMetadata: r.HasMetadata,
	}, false
}

// errorString renders an observed API error as the string the output log
// stores. Prefers the raw error body (matching the original script's
// str(response) behavior) and falls back to the bare message.
func errorString(body any, message string) string {
	if body == nil {
		return message
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return message
	}
	return fmt.Sprintf("%s", raw)
}
