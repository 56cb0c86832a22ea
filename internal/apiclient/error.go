package apiclient

import "fmt"

// APIError wraps a non-2xx HTTP response whose body did not decode as the
// JSON object the remote endpoint is expected to return. It carries the
// status code so dispatch.IsRateLimitError can still classify it as a
// rate-limit error via HTTP 429, the same httpStatusError pattern the
// teacher's provider.APIError uses for its failover decisions.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus satisfies the httpStatusError interface dispatch.IsRateLimitError
// checks.
func (e *APIError) HTTPStatus() int { return e.StatusCode }
