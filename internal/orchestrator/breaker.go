package orchestrator

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker counts consecutive primary failures. After threshold failures it
// opens and rejects calls for cooldown, then lets a single trial call through.
// A successful trial closes it; a failed one reopens it.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool
}

func NewBreaker(threshold int, cooldown time.Duration, now func() time.Time, onChange func(BreakerState)) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if now == nil {
		now = time.Now
	}
	if onChange == nil {
		onChange = func(BreakerState) {}
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		onChange:  onChange,
		state:     BreakerClosed,
	}
}

// Allow reports whether a primary call may be attempted now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.trialing = true
		return true
	default:
		// One trial at a time while half-open.
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialing = false
	b.setState(BreakerClosed)
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.trialing = false
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

// Release gives back a slot taken by Allow without judging the primary, for
// calls the caller abandoned before the primary answered. A half-open
// breaker hands the trial to the next caller.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialing = false
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	b.onChange(s)
}
