// Package apiclient sends one JSON request per attempt to the remote
// endpoint and classifies the result into the shape internal/dispatch's
// attempt state machine expects (spec.md §4.3 step 1).
//
// Grounded on the teacher's internal/provider/openai/client.go (tuned
// *http.Client construction, bearer header, gjson error peeking) and
// internal/provider/proxy.go's NewTransport. Adapted down to a single
// fixed base URL and bearer header -- there is no provider registry, no
// GCP/AWS auth chain, and no streaming response to parse here.
package apiclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching, matching the teacher's provider.NewTransport.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}
