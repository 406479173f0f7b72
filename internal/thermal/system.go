// Package thermal owns the process-wide thermal state: sensors, cooling
// devices, profiles, and the coordinator that switches between profiles.
package thermal

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/scheduler"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/zone"
)

// Options wires the collaborators of a System.
type Options struct {
	IO               sensor.IO
	Pipeline         *event.Pipeline
	Shutdowner       Shutdowner
	DefaultProfile   string
	DefaultPollDelay time.Duration
}

// snapshot is the active profile. It is replaced wholesale on a switch.
type snapshot struct {
	profile *Profile
	zones   []*zone.Zone
	byID    map[int]*zone.Zone
	binds   cooling.BindMap
}

func newSnapshot(p *Profile, devices map[int]*cooling.Device) *snapshot {
	s := &snapshot{
		profile: p,
		byID:    make(map[int]*zone.Zone, len(p.Zones)),
	}

	maxStates := make(map[int]int, len(p.Zones))
	for _, z := range p.Zones {
		if !z.Active() {
			continue
		}
		s.zones = append(s.zones, z)
		s.byID[z.ID()] = z
		maxStates[z.ID()] = z.MaxStates()
	}
	sort.Slice(s.zones, func(i, j int) bool { return s.zones[i].ID() < s.zones[j].ID() })

	s.binds = cooling.Compute(p.Bindings, maxStates, devices)
	return s
}

// System is the thermal control plane.
type System struct {
	model        *Model
	io           sensor.IO
	pipeline     *event.Pipeline
	dispatcher   *scheduler.Dispatcher
	shutdowner   Shutdowner
	defaultName  string
	defaultDelay time.Duration
	log          logger.Logger

	critical *criticalTracker
	override atomic.Bool
	current  atomic.Pointer[snapshot]

	// mu serialises profile switches and guards the fields below.
	mu      sync.Mutex
	ctx     context.Context
	runners []scheduler.Runner
	stopped bool
}

func New(model *Model, opts Options) *System {
	return &System{
		model:        model,
		io:           opts.IO,
		pipeline:     opts.Pipeline,
		dispatcher:   scheduler.NewDispatcher(),
		shutdowner:   opts.Shutdowner,
		defaultName:  opts.DefaultProfile,
		defaultDelay: opts.DefaultPollDelay,
		log:          logger.New("thermal"),
		critical:     newCriticalTracker(),
	}
}

// Start activates the default profile. Zones run under ctx until Stop.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New().New(errors.ErrAlreadyRunning)
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.log.Info().
		Int("sensors", len(s.model.Sensors)).
		Int("devices", len(s.model.Devices)).
		Int("profiles", len(s.model.Profiles)).
		Msg("Thermal system started")

	if s.defaultName == "" {
		s.log.Warn().Msg("No default profile configured, waiting for a profile switch")
		return nil
	}

	err := s.SwitchProfile(ctx, s.defaultName)
	if errors.HasCode(err, ErrUnknownProfile) {
		// already logged; stay idle until a valid profile is switched in
		return nil
	}
	return err
}

// SwitchProfile makes name the active profile. Switching to the active
// profile does nothing.
func (s *System) SwitchProfile(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.stopped {
		return errors.New().New(ErrNotStarted)
	}

	cur := s.current.Load()
	if cur != nil && cur.profile.Name == name {
		return nil
	}

	next, ok := s.model.Profiles[name]
	if !ok {
		s.log.Warn().Str("profile", name).Msg("Unknown thermal profile, ignoring switch")
		return errors.New().WithData(ErrUnknownProfile, name)
	}

	from := ""
	if cur != nil {
		from = cur.profile.Name
		s.deactivate(ctx, cur)
	}

	snap := newSnapshot(next, s.model.Devices)
	s.current.Store(snap)

	if cur != nil {
		for id, b := range cur.binds {
			if _, kept := snap.binds[id]; !kept {
				b.Release(s.model.Devices)
			}
		}
	}

	s.activate(snap)

	s.log.Info().
		Str("from", from).
		Str("to", name).
		Int("zones", len(snap.zones)).
		Msg("Thermal profile switched")

	return nil
}

// deactivate stops every runner and brings the old zones back to NORMAL so
// bound devices fully de-throttle before the new profile starts.
func (s *System) deactivate(ctx context.Context, cur *snapshot) {
	for _, r := range s.runners {
		r.Stop()
	}
	s.runners = nil

	for _, z := range cur.zones {
		ev := z.Reset()
		if b, ok := cur.binds[z.ID()]; ok {
			b.Apply(ev, s.model.Devices)
		}
		s.publish(ctx, ev)

		if z.Push() {
			if err := z.ProgramTrips(s.io, ""); err != nil {
				s.log.Warn().Err(err).Int("zone_id", z.ID()).Msg("Could not reprogram trip points")
			}
		}
	}

	s.critical.clear()
}

func (s *System) activate(snap *snapshot) {
	for _, z := range snap.zones {
		var r scheduler.Runner
		if z.Push() {
			r = scheduler.NewPusher(z, s.io, s.dispatcher, s.onTransition)
		} else {
			r = scheduler.NewPoller(z, s.io, s.defaultDelay, s.onTransition)
		}
		r.Start(s.ctx)
		s.runners = append(s.runners, r)
	}
}

// onTransition runs on a zone's goroutine for every accepted state change.
func (s *System) onTransition(ctx context.Context, ev event.ThermalEvent) {
	snap := s.current.Load()
	if snap == nil {
		return
	}

	z, ok := snap.byID[ev.ZoneID]
	if !ok {
		return
	}

	if b, ok := snap.binds[ev.ZoneID]; ok {
		b.Apply(ev, s.model.Devices)
	}

	s.trackCritical(z, ev)
	s.publish(ctx, ev)
}

func (s *System) trackCritical(z *zone.Zone, ev event.ThermalEvent) {
	if !z.EmergencyShutdown() {
		return
	}

	critical := int(z.CriticalState())
	switch {
	case ev.State == critical:
		if !s.critical.enter(z.ID()) {
			return
		}
		s.log.Error().
			Int("zone_id", z.ID()).
			Str("zone", z.Name()).
			Int("temperature", ev.Temperature).
			Msg("Zone reached critical temperature")
		s.triggerShutdown("zone " + z.Name() + " critical")
	case ev.PrevState == critical:
		if s.critical.leave(z.ID()) {
			s.log.Warn().Int("zone_id", z.ID()).Str("zone", z.Name()).Msg("Zone left critical state")
		}
	}
}

func (s *System) triggerShutdown(reason string) {
	if s.override.Load() {
		s.log.Warn().Str("reason", reason).Msg("Emergency shutdown suppressed by override")
		return
	}
	if s.shutdowner == nil {
		s.log.Error().Str("reason", reason).Msg("Emergency shutdown requested but no shutdown action configured")
		return
	}
	if err := s.shutdowner.Shutdown(reason); err != nil {
		s.log.Error().Err(err).Msg("Emergency shutdown failed")
	}
}

func (s *System) publish(ctx context.Context, ev event.ThermalEvent) {
	if s.pipeline == nil {
		return
	}
	if err := s.pipeline.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Int("zone_id", ev.ZoneID).Msg("Thermal event dropped")
	}
}

// SetShutdownOverride suppresses emergency shutdown while on. Turning it
// off with zones still pending critical triggers the shutdown.
func (s *System) SetShutdownOverride(on bool) {
	prev := s.override.Swap(on)
	s.log.Info().Bool("override", on).Msg("Shutdown override changed")

	if prev && !on {
		if n := s.critical.Count(); n > 0 {
			s.triggerShutdown("critical zones pending after override lifted")
		}
	}
}

// ShutdownOverride reports whether emergency shutdown is suppressed.
func (s *System) ShutdownOverride() bool {
	return s.override.Load()
}

// PendingCritical returns the number of zones waiting on shutdown.
func (s *System) PendingCritical() int {
	return s.critical.Count()
}

// Notify feeds a pushed sensor value to the push zones that own it.
func (s *System) Notify(ctx context.Context, n scheduler.Notification) error {
	return s.dispatcher.Dispatch(ctx, n)
}

// Stop halts every zone, de-throttles bound devices and closes the event
// pipeline. It is safe to call more than once.
func (s *System) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	if cur := s.current.Load(); cur != nil {
		s.deactivate(ctx, cur)
	}

	if s.pipeline != nil {
		s.pipeline.Close()
	}

	s.log.Info().Msg("Thermal system stopped")
}
