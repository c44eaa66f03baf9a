package resilience

import (
	"sync"
	"time"

	"finsight/internal/logging"
)

// BreakerState is the circuit state for one dependency.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker tracks consecutive failures for a single dependency. All state
// transitions happen under mu; multiple requests share one breaker.
type breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration

	now func() time.Time // injectable for tests
}

// allow reports whether a call may proceed. An open breaker transitions to
// half-open after the cooldown window, admitting exactly one trial call.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// A trial call is already in flight.
		return false
	}
	return false
}

// record folds one call outcome into the breaker. Success closes the
// circuit; a failure at threshold, or during a half-open trial, opens it.
func (b *breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry maps dependency names to circuit state. It is explicit and
// injectable rather than ambient: one registry lives for the process
// lifetime and is shared by every request passing through the Executor.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreakerRegistry creates an empty registry with the given
// consecutive-failure threshold and cooldown window.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &BreakerRegistry{
		breakers:  make(map[string]*breaker),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// acquire returns the breaker for a dependency, creating it closed.
func (r *BreakerRegistry) acquire(dependency string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[dependency]; ok {
		return b
	}
	b := &breaker{
		threshold: r.threshold,
		cooldown:  r.cooldown,
		now:       r.now,
	}
	r.breakers[dependency] = b
	logging.ResilienceDebug("breaker created for dependency %q (threshold=%d cooldown=%v)",
		dependency, r.threshold, r.cooldown)
	return b
}

// State returns the current circuit state for a dependency. Unknown
// dependencies report closed.
func (r *BreakerRegistry) State(dependency string) BreakerState {
	r.mu.Lock()
	b, ok := r.breakers[dependency]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return b.currentState()
}
