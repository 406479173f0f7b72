// Package scheduler runs zones: a timer loop for poll zones and a
// notification inbox for push zones.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/zone"
)

// DefaultPollDelay applies when a zone's delay table has a zero entry.
const DefaultPollDelay = 2 * time.Second

// TransitionFunc receives every state change a runner produces. It runs on
// the runner's goroutine and must not wait on the runner itself.
type TransitionFunc func(ctx context.Context, ev event.ThermalEvent)

// Runner is the scheduling handle for one zone.
type Runner interface {
	Start(ctx context.Context)
	// Stop cancels the runner and waits for an in-flight cycle to finish.
	Stop()
	Zone() *zone.Zone
}

// loop holds the lifecycle shared by both runner kinds.
type loop struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func (l *loop) start(ctx context.Context, body func(runCtx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go func(done chan struct{}) {
		defer close(done)
		body(runCtx)
	}(l.done)

	return true
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.mu.Unlock()

	cancel()
	<-done
}

// guard runs one cycle and turns a panic into a logged error.
func guard(log logger.Logger, z *zone.Zone, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New().WithData(ErrPanic, fmt.Sprint(r))
			log.ErrorWithCode(err).
				Int("zone_id", z.ID()).
				Str("zone", z.Name()).
				Msg("Zone cycle panicked")
		}
	}()
	fn()
}

// Poller refreshes a zone on the delay configured for its current state.
type Poller struct {
	loop
	zone         *zone.Zone
	io           sensor.IO
	defaultDelay time.Duration
	transition   TransitionFunc
	log          logger.Logger
}

func NewPoller(z *zone.Zone, io sensor.IO, defaultDelay time.Duration, fn TransitionFunc) *Poller {
	if defaultDelay <= 0 {
		defaultDelay = DefaultPollDelay
	}

	return &Poller{
		zone:         z,
		io:           io,
		defaultDelay: defaultDelay,
		transition:   fn,
		log:          logger.New("poller"),
	}
}

func (p *Poller) Zone() *zone.Zone { return p.zone }

// Start launches the loop. Cycles that already began complete against ctx
// even after Stop, so a transition is never cut in half.
func (p *Poller) Start(ctx context.Context) {
	if p.start(ctx, func(runCtx context.Context) { p.run(ctx, runCtx) }) {
		p.log.Debug().Int("zone_id", p.zone.ID()).Str("zone", p.zone.Name()).Msg("Polling started")
	}
}

func (p *Poller) Stop() {
	p.stop()
}

func (p *Poller) delay() time.Duration {
	if d := p.zone.PollDelay(); d > 0 {
		return d
	}
	return p.defaultDelay
}

func (p *Poller) run(parent, runCtx context.Context) {
	timer := time.NewTimer(p.delay())
	defer timer.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
			guard(p.log, p.zone, func() { p.cycle(parent) })
			timer.Reset(p.delay())
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	ev, changed, err := p.zone.Refresh(p.io)
	if err != nil {
		p.log.Debug().Err(err).Int("zone_id", p.zone.ID()).Msg("Skipping cycle")
		return
	}
	if changed && p.transition != nil {
		p.transition(ctx, ev)
	}
}
