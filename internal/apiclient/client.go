package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

// Client sends request payloads to a single fixed remote endpoint with a
// bearer authorization header, implementing dispatch.APIClient.
type Client struct {
	requestURL string
	apiKey     string
	http       *http.Client
	tracer     trace.Tracer // nil disables tracing (no span/attribute allocations)
}

// New creates a Client targeting requestURL. If resolver is non-nil, DNS
// lookups are cached the way the teacher's provider adapters do for a
// high-QPS upstream. Pass a nil tracer to disable per-attempt tracing.
func New(requestURL, apiKey string, resolver *dnscache.Resolver, tracer trace.Tracer) *Client {
	return &Client{
		requestURL: requestURL,
		apiKey:     apiKey,
		http:       &http.Client{Transport: NewTransport(resolver)},
		tracer:     tracer,
	}
}

// Send performs one attempt: POST payload as JSON, parse the response body
// as JSON, and classify whether it carries an "error" field (spec.md §4.3
// steps 1-2). A non-nil error return means the HTTP transport or JSON
// decoding itself failed (step 3) -- a response body that merely *contains*
// an error object is not an error return, it is a Response with HasError
// set, since the per-attempt classification (rate limit vs. other API
// error) happens one layer up in dispatch.Record.Attempt.
func (c *Client) Send(ctx context.Context, payload dispatch.Payload) (*dispatch.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshal request: %w", err)
	}

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "apiclient.Send",
			trace.WithAttributes(attribute.String("request_url", c.requestURL)),
		)
		defer span.End()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apiclient: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: do request: %w", err)
	}
	defer resp.Body.Close()

	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("apiclient: read response: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		return nil, fmt.Errorf("apiclient: decode response: %w", err)
	}

	out := &dispatch.Response{Body: decoded, StatusCode: resp.StatusCode}

	if errField := gjson.GetBytes(raw, "error"); errField.Exists() {
		out.HasError = true
		out.ErrorMessage = gjson.GetBytes(raw, "error.message").String()
		out.ErrorBody = errField.Value()
	}
	return out, nil
}
