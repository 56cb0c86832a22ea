package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

func TestClient_SendSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"text":"hi"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil, nil)
	resp, err := c.Send(context.Background(), dispatch.Payload{"prompt": "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.HasError {
		t.Fatal("HasError = true, want false")
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
}

func TestClient_SendErrorField(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit exceeded","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil, nil)
	resp, err := c.Send(context.Background(), dispatch.Payload{"prompt": "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.HasError {
		t.Fatal("HasError = false, want true")
	}
	if resp.ErrorMessage != "Rate limit exceeded" {
		t.Errorf("ErrorMessage = %q", resp.ErrorMessage)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", resp.StatusCode)
	}
}

func TestClient_SendNonJSONErrorBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil, nil)
	_, err := c.Send(context.Background(), dispatch.Payload{"prompt": "hello"})
	if err == nil {
		t.Fatal("Send() error = nil, want non-nil for a non-JSON error body")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("HTTPStatus() = %d, want 502", apiErr.HTTPStatus())
	}
}
