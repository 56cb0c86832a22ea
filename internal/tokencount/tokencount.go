// Package tokencount estimates the token cost of a request payload for TPM
// admission control (spec.md §4.1). Unlike the teacher's tokencount package,
// which is specialized to a single chat-completion shape, this estimator is
// endpoint-aware over a generic map[string]any payload, since the dispatcher
// is schema-agnostic beyond what the cost formula needs.
package tokencount

import (
	"fmt"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

// EndpointKind selects which cost formula applies (spec.md §4.1).
type EndpointKind int

const (
	// PlainCompletion is the legacy completions endpoint: prompt + n*max_tokens.
	PlainCompletion EndpointKind = iota
	// ChatCompletion is the chat completions endpoint: per-message framing
	// overhead plus every string field, plus n*max_tokens.
	ChatCompletion
	// Embedding is the embeddings endpoint: encoded length of the input
	// string, or the sum over an input list of strings.
	Embedding
)

// Encoder turns text into a token sequence. The only property the cost
// formula needs is its length, matching spec.md §4.1's "external encoder
// collaborator" contract.
type Encoder interface {
	Encode(text string) []string
}

// HeuristicEncoder approximates token count at four bytes per token, the
// same ~4-char heuristic the teacher's tokencount.go uses, since no real BPE
// tokenizer appears anywhere in the example pack (spec.md §9 explicitly
// sanctions a heuristic: "the external encoder must provide deterministic
// encode(text)", nothing more).
type HeuristicEncoder struct{}

// Encode returns a slice whose length is the estimated token count; the
// slice's contents are unused, only len() matters to callers.
func (HeuristicEncoder) Encode(text string) []string {
	if len(text) == 0 {
		return nil
	}
	n := (len(text) + 3) / 4
	return make([]string, n)
}

const (
	messageOverhead  = 4 // per-message framing overhead, spec.md §4.1
	chatReplyPadding = 2 // per-conversation overhead, spec.md §4.1
	defaultN         = 1
	defaultMaxTokens = 15
)

// Estimate computes the nonnegative token cost of payload under the given
// endpoint kind and encoder, per the formulas in spec.md §4.1.
func Estimate(payload dispatch.Payload, kind EndpointKind, enc Encoder) (int, error) {
	switch kind {
	case PlainCompletion:
		return estimatePlain(payload, enc), nil
	case ChatCompletion:
		return estimateChat(payload, enc), nil
	case Embedding:
		return estimateEmbedding(payload, enc)
	default:
		return 0, dispatch.ErrUnsupportedEndpoint
	}
}

func estimatePlain(payload dispatch.Payload, enc Encoder) int {
	prompt, _ := payload["prompt"].(string)
	cost := len(enc.Encode(prompt))
	cost += n(payload) * maxTokens(payload)
	return cost
}

func estimateChat(payload dispatch.Payload, enc Encoder) int {
	messages, _ := payload["messages"].([]any)
	total := 0
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		total += messageOverhead
		for _, v := range msg {
			if s, ok := v.(string); ok {
				total += len(enc.Encode(s))
			}
		}
	}
	total += chatReplyPadding
	total += n(payload) * maxTokens(payload)
	return total
}

func estimateEmbedding(payload dispatch.Payload, enc Encoder) (int, error) {
	switch input := payload["input"].(type) {
	case string:
		return len(enc.Encode(input)), nil
	case []any:
		total := 0
		for _, item := range input {
			s, ok := item.(string)
			if !ok {
				return 0, dispatch.ErrInvalidInput
			}
			total += len(enc.Encode(s))
		}
		return total, nil
	default:
		return 0, dispatch.ErrInvalidInput
	}
}

func n(payload dispatch.Payload) int {
	if v, ok := payload["n"]; ok {
		if f, ok := numeric(v); ok {
			return int(f)
		}
	}
	return defaultN
}

func maxTokens(payload dispatch.Payload) int {
	if v, ok := payload["max_tokens"]; ok {
		if f, ok := numeric(v); ok {
			return int(f)
		}
	}
	return defaultMaxTokens
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// String implements fmt.Stringer for log lines.
func (k EndpointKind) String() string {
	switch k {
	case PlainCompletion:
		return "completions"
	case ChatCompletion:
		return "chat_completions"
	case Embedding:
		return "embeddings"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
