package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateConfig tunes the per-client accept limiter.
type RateConfig struct {
	RPS   float64
	Burst int
}

// LimiterPool hands out one token bucket per client key (the remote
// IP on the accept path).
type LimiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg RateConfig
}

func NewLimiterPool(cfg RateConfig) *LimiterPool {
	return &LimiterPool{cfg: cfg}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 100
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 200
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *LimiterPool) Allow(key string) bool {
	// Use per-second rate; limiter handles clocks
	return p.get(key).Allow()
}
