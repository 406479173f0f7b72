package scheduler

import (
	"context"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/zone"
)

// DefaultInboxSize bounds the per-zone notification queue.
const DefaultInboxSize = 16

// Notification is a raw value pushed by a sensor driver.
type Notification struct {
	Sensor string `json:"sensor"`
	Value  int    `json:"value"`
}

// Dispatcher routes notifications to the push zones owning the sensor.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[string][]*Pusher
	log    logger.Logger
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		routes: make(map[string][]*Pusher),
		log:    logger.New("dispatcher"),
	}
}

func (d *Dispatcher) register(p *Pusher) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range p.zone.Members() {
		name := m.Sensor.Name()
		d.routes[name] = append(d.routes[name], p)
	}
}

func (d *Dispatcher) unregister(p *Pusher) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, ps := range d.routes {
		kept := ps[:0:0]
		for _, q := range ps {
			if q != p {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			delete(d.routes, name)
		} else {
			d.routes[name] = kept
		}
	}
}

// Dispatch delivers n to every running push zone that owns n.Sensor. It
// blocks while an inbox is full.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.mu.RLock()
	targets := append([]*Pusher(nil), d.routes[n.Sensor]...)
	d.mu.RUnlock()

	if len(targets) == 0 {
		d.log.Debug().Str("sensor", n.Sensor).Msg("No push zone for sensor")
		return errors.New().WithData(ErrNoRoute, n.Sensor)
	}

	var firstErr error
	for _, p := range targets {
		if err := p.deliver(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Pusher consumes notifications for one push zone on its own goroutine.
type Pusher struct {
	loop
	zone       *zone.Zone
	io         sensor.IO
	dispatcher *Dispatcher
	transition TransitionFunc
	inbox      chan Notification
	stopped    chan struct{}
	stopOnce   sync.Once
	log        logger.Logger
}

func NewPusher(z *zone.Zone, io sensor.IO, d *Dispatcher, fn TransitionFunc) *Pusher {
	return &Pusher{
		zone:       z,
		io:         io,
		dispatcher: d,
		transition: fn,
		inbox:      make(chan Notification, DefaultInboxSize),
		stopped:    make(chan struct{}),
		log:        logger.New("pusher"),
	}
}

func (p *Pusher) Zone() *zone.Zone { return p.zone }

// Start programs the trip band for the current state and begins accepting
// notifications. A Pusher cannot be restarted after Stop.
func (p *Pusher) Start(ctx context.Context) {
	select {
	case <-p.stopped:
		return
	default:
	}

	if err := p.zone.ProgramTrips(p.io, ""); err != nil {
		p.log.Warn().Err(err).Int("zone_id", p.zone.ID()).Msg("Could not program trip points")
	}

	if p.start(ctx, func(runCtx context.Context) { p.run(ctx, runCtx) }) {
		p.dispatcher.register(p)
		p.log.Debug().Int("zone_id", p.zone.ID()).Str("zone", p.zone.Name()).Msg("Push zone started")
	}
}

func (p *Pusher) Stop() {
	p.dispatcher.unregister(p)
	p.stopOnce.Do(func() { close(p.stopped) })
	p.stop()
}

func (p *Pusher) deliver(ctx context.Context, n Notification) error {
	select {
	case p.inbox <- n:
		return nil
	case <-p.stopped:
		return errors.New().WithData(ErrInboxClosed, p.zone.Name())
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
}

func (p *Pusher) run(parent, runCtx context.Context) {
	for {
		select {
		case <-runCtx.Done():
			return
		case n := <-p.inbox:
			guard(p.log, p.zone, func() { p.cycle(parent, n) })
		}
	}
}

func (p *Pusher) cycle(ctx context.Context, n Notification) {
	ev, changed, ok := p.zone.HandleNotification(n.Sensor, sensor.Temperature(n.Value))
	if !ok || !changed {
		return
	}

	if err := p.zone.ProgramTrips(p.io, n.Sensor); err != nil {
		p.log.Warn().Err(err).Str("sensor", n.Sensor).Msg("Could not program trip points")
	}

	if p.transition != nil {
		p.transition(ctx, ev)
	}
}
