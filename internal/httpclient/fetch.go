package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/oncue-tv/oncue/internal/faults"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	defaultUserAgent      = "oncue/1.0"

	// maxBodySize caps how much of an upstream response we will buffer.
	// Provider playlists and guides run tens of MB; 256 MiB is generous.
	maxBodySize = 256 << 20
)

// Fetcher performs GET requests with per-host pacing and capped exponential
// backoff on transient failures. 4xx statuses (except 429) are terminal;
// connection errors, timeouts, 429 and 5xx are retried.
type Fetcher struct {
	Client         *http.Client
	Limiter        *HostLimiter
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	UserAgent      string
}

// Fetch GETs rawURL and returns the body. Failures are returned as
// *faults.NetworkError; the caller decides whether the body of a non-2xx
// response means something more specific (e.g. an Xtream auth rejection).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = Default()
	}
	limiter := f.Limiter
	if limiter == nil {
		limiter = GlobalHostLimiter
	}
	maxRetries := f.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := f.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	maxBackoff := f.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &faults.NetworkError{URL: rawURL, Err: err}
		}
		req.Header.Set("User-Agent", ua)

		body, status, err := doOnce(client, req)
		switch {
		case err == nil && status >= 200 && status < 300:
			return body, nil
		case err != nil:
			lastErr = &faults.NetworkError{URL: rawURL, Err: err}
		default:
			lastErr = &faults.NetworkError{URL: rawURL, Status: status}
			if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
				return body, lastErr
			}
		}
		if attempt >= maxRetries {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func doOnce(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// ParseRetryAfter parses a Retry-After header value (seconds or HTTP-date),
// capped at max. Returns 0 when the header is missing or malformed.
func ParseRetryAfter(s string, max time.Duration) time.Duration {
	if s == "" {
		return 0
	}
	if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}
