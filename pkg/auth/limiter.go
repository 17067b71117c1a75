package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 5
	defaultBurst = 10
)

// rateGate applies a token bucket per caller key: the api key for
// authenticated requests, the remote ip otherwise. Buckets are created on
// first sight and live for the middleware's lifetime.
type rateGate struct {
	rps   rate.Limit
	burst int

	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
}

func newRateGate(cfg SecConfig) *rateGate {
	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &rateGate{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (g *rateGate) allow(key string) bool {
	g.mu.RLock()
	l := g.buckets[key]
	g.mu.RUnlock()
	if l == nil {
		g.mu.Lock()
		if l = g.buckets[key]; l == nil {
			l = rate.NewLimiter(g.rps, g.burst)
			g.buckets[key] = l
		}
		g.mu.Unlock()
	}
	return l.Allow()
}
