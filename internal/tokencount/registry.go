package tokencount

import "fmt"

// ErrUnknownEncoding is returned by ResolveEncoder for an
// --token_encoding_name the registry does not recognize.
var ErrUnknownEncoding = fmt.Errorf("unknown token encoding")

// encoders maps --token_encoding_name values to concrete Encoders. Every
// name resolves to the same heuristic today (spec.md §9 sanctions this: no
// real BPE tokenizer appears anywhere in the example pack), but the
// indirection is what lets a real tokenizer be swapped in later without
// touching the dispatcher or the CLI flag contract.
var encoders = map[string]Encoder{
	"heuristic":     HeuristicEncoder{},
	"cl100k_base":   HeuristicEncoder{},
	"o200k_base":    HeuristicEncoder{},
	"p50k_base":     HeuristicEncoder{},
}

// ResolveEncoder looks up the Encoder for a --token_encoding_name value.
func ResolveEncoder(name string) (Encoder, error) {
	enc, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}
