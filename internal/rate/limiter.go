package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines rate limiting parameters for one collaborator.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown pauses all admissions after the bucket ran dry.
	Cooldown time.Duration
}

// Limiter is a token bucket.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	last       time.Time
	rate       float64
	burst      float64
	cooldown   time.Duration
	blockedAt  time.Time
	now        func() time.Time
	pollPeriod time.Duration
}

// New creates a limiter with a full bucket. A zero Burst falls back to
// RequestsPerSecond, and a zero rate admits everything.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerSecond
	}
	return &Limiter{
		tokens:     float64(burst),
		last:       time.Now(),
		rate:       float64(cfg.RequestsPerSecond),
		burst:      float64(burst),
		cooldown:   cfg.Cooldown,
		now:        time.Now,
		pollPeriod: 20 * time.Millisecond,
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.cooldown > 0 && !l.blockedAt.IsZero() && now.Sub(l.blockedAt) < l.cooldown {
		return false
	}

	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}

	if l.cooldown > 0 {
		l.blockedAt = now
	}
	return false
}

// Wait blocks until a token becomes available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		t := time.NewTimer(l.pollPeriod)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per collaborator key.
type Manager struct {
	mu        sync.RWMutex
	limiters  map[string]*Limiter
	overrides map[string]Config
	defaults  Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters:  make(map[string]*Limiter),
		overrides: make(map[string]Config),
		defaults:  defaults,
	}
}

// Configure sets the limits used for key, replacing any existing limiter.
func (m *Manager) Configure(key string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[key] = cfg
	delete(m.limiters, key)
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	cfg, ok := m.overrides[key]
	if !ok {
		cfg = m.defaults
	}
	lim := New(cfg)
	m.limiters[key] = lim
	return lim
}

// Wait blocks until key may issue another request.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}
