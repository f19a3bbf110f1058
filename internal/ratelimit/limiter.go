package ratelimit

import (
	"sync"
	"time"

	"post_orchestrator/internal/domain"
)

// Limit is a fixed-window quota, matching the request-per-window semantics
// platform APIs advertise.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits mirrors the published platform quotas.
func DefaultLimits() map[domain.Platform]Limit {
	return map[domain.Platform]Limit{
		domain.PlatformTwitter:   {Requests: 300, Window: 15 * time.Minute},
		domain.PlatformInstagram: {Requests: 200, Window: time.Hour},
		domain.PlatformFacebook:  {Requests: 600, Window: time.Hour},
		domain.PlatformLinkedIn:  {Requests: 100, Window: time.Hour},
	}
}

// Decision is the admission result. A denial carries the delay until the
// window resets; it is not an error and never spends a job attempt.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
}

type key struct {
	account  string
	platform domain.Platform
}

// budget is the sliding counter for one (account, platform) pair. Its
// mutex serializes workers sharing the pair so the window cannot be
// double-spent.
type budget struct {
	mu          sync.Mutex
	windowStart time.Time
	used        int
}

// Limiter performs admission control per (account, platform). Windows reset
// lazily on the next admission check rather than via background timers.
type Limiter struct {
	mu      sync.Mutex
	limits  map[domain.Platform]Limit
	budgets map[key]*budget
	now     func() time.Time
}

func New(limits map[domain.Platform]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits:  limits,
		budgets: make(map[key]*budget),
		now:     time.Now,
	}
}

func (l *Limiter) budgetFor(account string, platform domain.Platform) *budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{account: account, platform: platform}
	b, ok := l.budgets[k]
	if !ok {
		b = &budget{}
		l.budgets[k] = b
	}
	return b
}

// TryAcquire asks for cost units of the account's platform quota. Platforms
// without a configured limit are always admitted.
func (l *Limiter) TryAcquire(account string, platform domain.Platform, cost int) Decision {
	limit, ok := l.limits[platform]
	if !ok || limit.Requests <= 0 {
		return Decision{Admitted: true}
	}
	if cost <= 0 {
		cost = 1
	}

	b := l.budgetFor(account, platform)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= limit.Window {
		b.windowStart = now
		b.used = 0
	}
	if b.used+cost > limit.Requests {
		return Decision{RetryAfter: b.windowStart.Add(limit.Window).Sub(now)}
	}
	b.used += cost
	return Decision{Admitted: true}
}
