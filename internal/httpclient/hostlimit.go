package httpclient

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter is a process-global per-host request pacer. All fetchers in
// the process share the same token bucket for a given host, so refreshing
// many sources that point at one provider does not hammer that provider.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// GlobalHostLimiter is the shared per-host pacer. Default: 4 requests per
// second with a burst of 8 per host.
var GlobalHostLimiter = NewHostLimiter(4, 8)

func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until a request to rawURL's host may proceed, or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return h.limiterFor(rawURL).Wait(ctx)
}

func (h *HostLimiter) limiterFor(rawURL string) *rate.Limiter {
	key := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		key = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[key]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[key] = l
	}
	return l
}
