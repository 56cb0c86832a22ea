// Package dispatch defines the domain types shared across the dispatcher:
// the request record, the status tracker, and the sentinel errors that
// classify a failed attempt. This package has no project imports -- it is
// the dependency root, mirroring the teacher gateway package's role.
package dispatch

import "errors"

// Sentinel errors for attempt classification (spec.md §7).
var (
	// ErrUnsupportedEndpoint is returned by the token counter when the
	// request URL's endpoint kind is not plain completion, chat completion,
	// or embedding. Fatal to the dispatcher.
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")
	// ErrInvalidInput is returned by the token counter when an embedding
	// request's "input" field is neither a string nor a list of strings.
	// Fatal to the dispatcher.
	ErrInvalidInput = errors.New("invalid input")
)

// Payload is the opaque, verbatim request body destined for the remote
// endpoint. Keys are whatever the input line's JSON object contains, minus
// "metadata" which is extracted before dispatch (spec.md §4.5).
type Payload map[string]any

// Record is one request's full state: the Request Record of spec.md §3.
// Exactly one of "held as next pending", "in the retry queue", "in flight",
// or "terminal" is true of a Record at any instant; the dispatcher and
// retry queue enforce that invariant by transferring ownership rather than
// copying.
type Record struct {
	TaskID       int64
	Payload      Payload
	TokenCost    int
	AttemptsLeft int
	MaxAttempts  int

	// Metadata is carried end-to-end and echoed into the output record but
	// never sent to the remote. HasMetadata distinguishes "no metadata
	// field on the input line" from "metadata field present but null/zero".
	Metadata    any
	HasMetadata bool

	// Errors accumulates one entry per failed attempt, in attempt order.
	Errors []string
}

// NewRecord creates a Record ready for its first dispatch attempt.
func NewRecord(taskID int64, payload Payload, tokenCost, maxAttempts int, metadata any, hasMetadata bool) *Record {
	return &Record{
		TaskID:       taskID,
		Payload:      payload,
		TokenCost:    tokenCost,
		AttemptsLeft: maxAttempts,
		MaxAttempts:  maxAttempts,
		Metadata:     metadata,
		HasMetadata:  hasMetadata,
	}
}

// Outcome is a terminal success or failure record in the shape the Output
// Log expects (spec.md §4.2): 2 elements, or 3 when metadata is present.
type Outcome struct {
	Success  bool
	Payload  Payload
	Response any      // response body, when Success
	Errors   []string // accumulated error strings, when !Success
	Metadata any
	HasMetadata bool
}

// Line renders the outcome as the 2- or 3-element slice that gets
// marshaled as one JSONL line by the output log.
func (o Outcome) Line() []any {
	var body any
	if o.Success {
		body = o.Response
	} else {
		body = o.Errors
	}
	if o.HasMetadata {
		return []any{o.Payload, body, o.Metadata}
	}
	return []any{o.Payload, body}
}
