package notify

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

func (s breakerState) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker fast-fails writes once maxFailures consecutive writes have failed,
// and lets a single trial write through after resetTimeout.
type breaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	log          logger.Logger

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		log:          logger.New("kafka-breaker"),
	}
}

func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !b.allow() {
		return errors.New().New(ErrBreakerOpen)
	}

	if err := op(ctx); err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = halfOpen
		b.log.Info().Msg("Breaker half-open, trying write")
		return true
	case halfOpen:
		// One trial write at a time.
		return false
	default:
		return true
	}
}

func (b *breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != closed {
		b.log.Info().Msg("Breaker closed")
	}
	b.state = closed
	b.failures = 0
}

func (b *breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == halfOpen || b.failures >= b.maxFailures {
		b.state = open
		b.openedAt = b.now()
		b.log.Warn().Int("failures", b.failures).Str("reset_after", b.resetTimeout.String()).Msg("Breaker opened")
	}
}
