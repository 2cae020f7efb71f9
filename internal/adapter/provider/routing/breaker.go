package routing

import (
	"sync"
	"time"
)

// breaker tracks consecutive routing failures:
//   - opens after failureThreshold consecutive failures
//   - while open, lets one probe through every cooldown
//   - closes after successThreshold consecutive successful probes
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

func newBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{
		state:            breakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a remote call may be attempted now.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerClosed {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// Re-arm the cooldown so concurrent callers do not all probe.
		b.openedAt = b.now()
		return true
	}
	return false
}

func (b *breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}

// RecordFailure returns true if the breaker is open afterwards.
func (b *breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	if b.state == breakerOpen {
		b.openedAt = b.now()
		return true
	}
	if b.failureCount >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = b.now()
		return true
	}
	return false
}

// RecordSuccess returns true if the breaker is closed afterwards.
func (b *breaker) RecordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = breakerClosed
			b.failureCount = 0
			b.successCount = 0
			return true
		}
		return false
	}
	b.failureCount = 0
	return true
}
