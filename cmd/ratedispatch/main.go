// Ratedispatch drives a JSONL file of API requests through a single remote
// endpoint as fast as a configured requests-per-minute and tokens-per-minute
// budget allows, retrying transient failures until each request either
// succeeds or exhausts its attempts.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Println("ratedispatch", version)
		os.Exit(0)
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds every flag spec.md §6 and SPEC_FULL.md §6 define, before
// the optional --config overlay's defaults are folded in.
type cliFlags struct {
	configPath    string
	showVersion   bool

	requestsFilepath     string
	saveFilepath         string
	requestURL           string
	apiKey               string
	maxRequestsPerMinute float64
	maxTokensPerMinute   float64
	tokenEncodingName    string
	maxAttempts          int
	loggingLevel         string

	statusAddr   string
	otlpEndpoint string
	metrics      bool
}

func parseFlags() cliFlags {
	var f cliFlags

	flag.StringVar(&f.configPath, "config", "", "optional YAML file providing flag defaults")
	flag.BoolVar(&f.showVersion, "version", false, "print version and exit")

	flag.StringVar(&f.requestsFilepath, "requests_filepath", "", "path to the input JSONL file (required)")
	flag.StringVar(&f.saveFilepath, "save_filepath", "", "path to the output JSONL file (default: input path with _results.jsonl suffix)")
	flag.StringVar(&f.requestURL, "request_url", "https://api.openai.com/v1/embeddings", "remote endpoint URL")
	flag.StringVar(&f.apiKey, "api_key", "", "API key (default: read from the API_KEY environment variable)")
	flag.Float64Var(&f.maxRequestsPerMinute, "max_requests_per_minute", 1500, "request-bucket capacity per minute")
	flag.Float64Var(&f.maxTokensPerMinute, "max_tokens_per_minute", 125000, "token-bucket capacity per minute")
	flag.StringVar(&f.tokenEncodingName, "token_encoding_name", "heuristic", "token encoder identifier (only \"heuristic\" is implemented)")
	flag.IntVar(&f.maxAttempts, "max_attempts", 5, "attempts per request before giving up")
	flag.StringVar(&f.loggingLevel, "logging_level", "INFO", "log level: DEBUG, INFO, WARN, or ERROR")

	flag.StringVar(&f.statusAddr, "status_addr", "", "optional address to serve /healthz, /status, and /metrics on")
	flag.StringVar(&f.otlpEndpoint, "otlp_endpoint", "", "optional OTLP gRPC collector endpoint to enable tracing")
	flag.BoolVar(&f.metrics, "metrics", true, "register the /metrics route when status_addr is set")

	flag.Parse()
	return f
}
