// Package httpclient provides the shared HTTP client used by all three
// ingestion paths (M3U, Xtream player_api, XMLTV). All upstream fetches go
// through Fetcher, which maps transport failures and unexpected statuses to
// faults.NetworkError and retries transient failures with capped
// exponential backoff. Auth rejections are classified by the callers
// (only the Xtream client can recognize an auth-failure payload).
package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client for playlist, Xtream and
// EPG fetches.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and the same
// transport as Default (or a copy).
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
