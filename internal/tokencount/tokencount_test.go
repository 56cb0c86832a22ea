package tokencount

import (
	"testing"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

func TestEstimate_PlainCompletion(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{"prompt": "hello world"}

	got, err := Estimate(payload, PlainCompletion, HeuristicEncoder{})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	// "hello world" -> 3 tokens heuristic + default n=1 * max_tokens=15.
	if want := 3 + defaultMaxTokens; got != want {
		t.Errorf("Estimate() = %d, want %d", got, want)
	}
}

func TestEstimate_PlainCompletionExplicitMaxTokens(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{"prompt": "hi", "max_tokens": float64(5), "n": float64(2)}

	got, err := Estimate(payload, PlainCompletion, HeuristicEncoder{})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if want := 1 + 2*5; got != want {
		t.Errorf("Estimate() = %d, want %d", got, want)
	}
}

func TestEstimate_ChatCompletion(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{
		"messages": []any{
			map[string]any{"role": "system", "content": "You are helpful."},
			map[string]any{"role": "user", "content": "Explain quantum computing."},
		},
	}

	got, err := Estimate(payload, ChatCompletion, HeuristicEncoder{})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got <= 2*messageOverhead+chatReplyPadding {
		t.Errorf("Estimate() = %d, want more than bare overhead", got)
	}
}

func TestEstimate_ChatCompletionSkipsNonStringFields(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{
		"messages": []any{
			map[string]any{"role": "user", "content": "hi", "weight": float64(7)},
		},
	}

	got, err := Estimate(payload, ChatCompletion, HeuristicEncoder{})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	want := messageOverhead + len(HeuristicEncoder{}.Encode("hi")) + len(HeuristicEncoder{}.Encode("user")) + chatReplyPadding + defaultN*defaultMaxTokens
	if got != want {
		t.Errorf("Estimate() = %d, want %d", got, want)
	}
}

func TestEstimate_EmbeddingSingleString(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{"input": "hello"}

	got, err := Estimate(payload, Embedding, HeuristicEncoder{})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if want := len(HeuristicEncoder{}.Encode("hello")); got != want {
		t.Errorf("Estimate() = %d, want %d", got, want)
	}
}

func TestEstimate_EmbeddingStringList(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{"input": []any{"a", "bb", "ccc"}}

	got, err := Estimate(payload, Embedding, HeuristicEncoder{})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	want := len(HeuristicEncoder{}.Encode("a")) + len(HeuristicEncoder{}.Encode("bb")) + len(HeuristicEncoder{}.Encode("ccc"))
	if got != want {
		t.Errorf("Estimate() = %d, want %d", got, want)
	}
}

func TestEstimate_EmbeddingInvalidInput(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{"input": float64(42)}

	_, err := Estimate(payload, Embedding, HeuristicEncoder{})
	if err != dispatch.ErrInvalidInput {
		t.Errorf("Estimate() error = %v, want ErrInvalidInput", err)
	}
}

func TestEstimate_EmbeddingInvalidListElement(t *testing.T) {
	t.Parallel()
	payload := dispatch.Payload{"input": []any{"a", float64(1)}}

	_, err := Estimate(payload, Embedding, HeuristicEncoder{})
	if err != dispatch.ErrInvalidInput {
		t.Errorf("Estimate() error = %v, want ErrInvalidInput", err)
	}
}

func TestEstimate_UnsupportedEndpoint(t *testing.T) {
	t.Parallel()
	_, err := Estimate(dispatch.Payload{}, EndpointKind(99), HeuristicEncoder{})
	if err != dispatch.ErrUnsupportedEndpoint {
		t.Errorf("Estimate() error = %v, want ErrUnsupportedEndpoint", err)
	}
}

func TestDetectEndpointKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url     string
		want    EndpointKind
		wantOK  bool
	}{
		{"https://api.example.com/v1/completions", PlainCompletion, true},
		{"https://api.example.com/v1/chat/completions", ChatCompletion, true},
		{"https://api.example.com/v1/embeddings", Embedding, true},
		{"https://api.example.com/v1/unknown", 0, false},
		{"not-a-url", 0, false},
	}
	for _, tt := range tests {
		got, ok := DetectEndpointKind(tt.url)
		if ok != tt.wantOK {
			t.Errorf("DetectEndpointKind(%q) ok = %v, want %v", tt.url, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("DetectEndpointKind(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
