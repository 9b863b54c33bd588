// Package ratelimit implements per-venue token buckets on top of
// golang.org/x/time/rate. Requests carry a declared weight; a call that
// would drive a venue's bucket negative is deferred with a back-pressure
// signal rather than queued indefinitely, so loops never block each other
// waiting on one slow venue. Grounded on the corpus's order executor,
// which uses the same library for a single venue's outbound calls
// (internal/trading/order/executor.go), generalized here into a registry
// keyed by venue name.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry holds one token bucket per venue.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates an empty venue rate-limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter)}
}

// Configure sets (or replaces) the bucket for venue, refilling at
// weightPerMinute and bursting up to the same amount.
func (r *Registry) Configure(venue string, weightPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perSecond := rate.Limit(float64(weightPerMinute) / 60.0)
	r.limiters[venue] = rate.NewLimiter(perSecond, weightPerMinute)
}

// AllowN reports whether a request of the given weight against venue may
// proceed now. Unconfigured venues are unlimited. This never blocks: a
// false result means the caller must defer the call, per the scheduler's
// back-pressure contract.
func (r *Registry) AllowN(venue string, weight int) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[venue]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.AllowN(nowFunc(), weight)
}

// Tokens reports the current approximate token count available for venue,
// for diagnostics reporting. Returns -1 for unconfigured venues.
func (r *Registry) Tokens(venue string) float64 {
	r.mu.Lock()
	limiter, ok := r.limiters[venue]
	r.mu.Unlock()
	if !ok {
		return -1
	}
	return limiter.TokensAt(nowFunc())
}

// nowFunc is a var so tests can't accidentally depend on wall-clock
// jitter; production always uses time.Now via the default below.
var nowFunc = defaultNow
