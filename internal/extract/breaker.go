package extract

import (
	"sync"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// BreakerState is the state of one source's circuit.
type BreakerState int

const (
	CircuitClosed   BreakerState = iota // normal operation
	CircuitOpen                         // failing fast
	CircuitHalfOpen                     // probing
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailThreshold int           // consecutive failures before opening (default 5)
	Cooldown      time.Duration // how long to stay open before half-open (default 30s)
	FailWindow    time.Duration // reset the counter when the last failure is older (default 60s)
}

type sourceCircuit struct {
	consecutiveFails int
	lastFailTime     time.Time
	openedAt         time.Time
	state            BreakerState
}

// Breaker tracks per-source failure state so a dead upstream does not burn
// the whole retry budget of every record in a batch.
type Breaker struct {
	mu       sync.Mutex
	config   BreakerConfig
	circuits map[string]*sourceCircuit
}

func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailThreshold <= 0 {
		config.FailThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.FailWindow <= 0 {
		config.FailWindow = 60 * time.Second
	}
	return &Breaker{
		config:   config,
		circuits: make(map[string]*sourceCircuit),
	}
}

// Allow reports whether a call to the source should proceed. Open circuits
// fail fast; half-open circuits admit a single probe.
func (b *Breaker) Allow(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[source]
	if !ok {
		return true
	}

	switch c.state {
	case CircuitOpen:
		if time.Since(c.openedAt) >= b.config.Cooldown {
			c.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the source's circuit.
func (b *Breaker) RecordSuccess(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[source]; ok {
		c.consecutiveFails = 0
		c.state = CircuitClosed
	}
}

// RecordFailure counts a failed call. Permanent failures (bad request, parse
// errors) never trip the breaker: the source is healthy, the input is not.
func (b *Breaker) RecordFailure(source string, category types.FailureCategory) {
	if category == types.FailurePermanent || category == types.FailureValidation {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[source]
	if !ok {
		c = &sourceCircuit{}
		b.circuits[source] = c
	}

	now := time.Now()
	if !c.lastFailTime.IsZero() && now.Sub(c.lastFailTime) > b.config.FailWindow {
		c.consecutiveFails = 0
	}

	c.consecutiveFails++
	c.lastFailTime = now

	if c.consecutiveFails >= b.config.FailThreshold {
		c.state = CircuitOpen
		c.openedAt = now
	}
}

// State returns the source's current circuit state.
func (b *Breaker) State(source string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[source]; ok {
		return c.state
	}
	return CircuitClosed
}
