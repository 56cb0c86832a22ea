package tokencount

import "regexp"

// apiEndpointPattern mirrors the original script's api_endpoint_from_url:
// the path segment after the version component, e.g. "chat/completions" out
// of "https://host/v1/chat/completions".
var apiEndpointPattern = regexp.MustCompile(`^.+/v\d+/(.+)$`)

// DetectEndpointKind classifies a request_url into the endpoint kind its
// cost formula needs (spec.md §4.1). Unrecognized paths report ok=false so
// the caller can fail with ErrUnsupportedEndpoint.
func DetectEndpointKind(requestURL string) (kind EndpointKind, ok bool) {
	m := apiEndpointPattern.FindStringSubmatch(requestURL)
	if m == nil {
		return 0, false
	}
	switch m[1] {
	case "completions":
		return PlainCompletion, true
	case "chat/completions":
		return ChatCompletion, true
	case "embeddings":
		return Embedding, true
	default:
		return 0, false
	}
}
