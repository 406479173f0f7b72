// Package zone derives a discrete thermal state from one or more sensors.
package zone

import (
	"sync"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// Config is the validated in-memory description of a zone.
type Config struct {
	ID      int
	Name    string
	Profile string
	Kind    Kind
	Members []Member

	// Thresholds has one entry per state (maxStates). Entry i is the lower
	// bound of state i; the last entry pads the CRITICAL state.
	Thresholds []sensor.Temperature
	// PollDelays and Windows are indexed by state+1.
	PollDelays []time.Duration
	Windows    []time.Duration

	Debounce          sensor.Temperature
	Offset            sensor.Temperature
	ErrorCorrection   sensor.Temperature
	Push              bool
	EmergencyShutdown bool
}

// Zone is a logical thermal domain. All mutation happens under mu, so a
// transition is never observed half-applied.
type Zone struct {
	id                int
	name              string
	profile           string
	kind              Kind
	members           []Member
	thresholds        []sensor.Temperature
	pollDelays        []time.Duration
	windows           []time.Duration
	debounce          sensor.Temperature
	offset            sensor.Temperature
	errorCorrection   sensor.Temperature
	push              bool
	emergencyShutdown bool
	active            bool
	log               logger.Logger

	mu    sync.Mutex
	state State
	temp  sensor.Temperature
	avg   *movingAverage
}

// Validate checks the static shape of cfg.
func Validate(cfg Config) error {
	errFactory := errors.New()

	n := len(cfg.Thresholds)
	if n < MinStates {
		return errFactory.WithData(ErrTooFewStates, n)
	}
	for i := 1; i < n-1; i++ {
		if cfg.Thresholds[i] <= cfg.Thresholds[i-1] {
			return errFactory.WithData(ErrThresholdOrder, cfg.Thresholds)
		}
	}
	if cfg.Thresholds[n-1] < cfg.Thresholds[n-2] {
		return errFactory.WithData(ErrThresholdOrder, cfg.Thresholds)
	}
	if len(cfg.PollDelays) != n {
		return errFactory.WithData(ErrPollDelayTable, len(cfg.PollDelays))
	}
	for _, d := range cfg.PollDelays {
		if d < 0 {
			return errFactory.WithData(ErrPollDelayTable, cfg.PollDelays)
		}
	}
	if len(cfg.Windows) != 0 && len(cfg.Windows) != n {
		return errFactory.WithData(ErrWindowTable, len(cfg.Windows))
	}
	if len(cfg.Members) == 0 {
		return errFactory.New(ErrNoSensors)
	}
	if cfg.Debounce < 0 {
		return errFactory.WithData(ErrNegativeDebounce, cfg.Debounce)
	}

	return nil
}

// New builds a zone. A zone that fails validation or has no active sensor is
// created inactive and never scheduled.
func New(cfg Config) *Zone {
	z := &Zone{
		id:                cfg.ID,
		name:              cfg.Name,
		profile:           cfg.Profile,
		kind:              cfg.Kind,
		members:           cfg.Members,
		thresholds:        cfg.Thresholds,
		pollDelays:        cfg.PollDelays,
		windows:           cfg.Windows,
		debounce:          cfg.Debounce,
		offset:            cfg.Offset,
		errorCorrection:   cfg.ErrorCorrection,
		push:              cfg.Push,
		emergencyShutdown: cfg.EmergencyShutdown,
		log:               logger.New("zone"),
		state:             Off,
	}

	if err := Validate(cfg); err != nil {
		z.log.Error().Err(err).Int("zone_id", cfg.ID).Str("zone", cfg.Name).Msg("Zone deactivated")
		return z
	}

	if !z.hasActiveSensor() {
		z.log.Error().Int("zone_id", cfg.ID).Str("zone", cfg.Name).
			Msg("Zone deactivated: no active sensors")
		return z
	}

	if !cfg.Push {
		z.avg = newMovingAverage(cfg.PollDelays, cfg.Windows)
	}
	z.active = true

	return z
}

func (z *Zone) hasActiveSensor() bool {
	for _, m := range z.members {
		if m.Sensor != nil && m.Sensor.Active() {
			return true
		}
	}
	return false
}

func (z *Zone) ID() int { return z.id }

func (z *Zone) Name() string { return z.name }

func (z *Zone) Profile() string { return z.profile }

func (z *Zone) Kind() Kind { return z.kind }

func (z *Zone) Active() bool { return z.active }

func (z *Zone) Push() bool { return z.push }

func (z *Zone) EmergencyShutdown() bool { return z.emergencyShutdown }

// MaxStates is the number of states including OFF and CRITICAL.
func (z *Zone) MaxStates() int { return len(z.thresholds) }

// CriticalState is the last state of the zone.
func (z *Zone) CriticalState() State { return State(len(z.thresholds) - 2) }

func (z *Zone) Thresholds() []sensor.Temperature {
	out := make([]sensor.Temperature, len(z.thresholds))
	copy(out, z.thresholds)
	return out
}

// Members returns the sensors owned by the zone.
func (z *Zone) Members() []Member { return z.members }

func (z *Zone) State() State {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state
}

func (z *Zone) Temperature() sensor.Temperature {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.temp
}

// PollDelay returns the delay configured for the current state. Zero means
// the scheduler default applies.
func (z *Zone) PollDelay() time.Duration {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.delayFor(z.state)
}

func (z *Zone) delayFor(s State) time.Duration {
	idx := int(s) + 1
	if idx < 0 || idx >= len(z.pollDelays) {
		return 0
	}
	return z.pollDelays[idx]
}

// Refresh reads the sensors and reclassifies. It reports a ThermalEvent when
// the state changed.
func (z *Zone) Refresh(io sensor.IO) (event.ThermalEvent, bool, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	temp, err := z.pollTemperature(io)
	if err != nil {
		return event.ThermalEvent{}, false, err
	}

	if z.avg != nil {
		z.avg.add(temp)
		idx := int(z.state) + 1
		temp = z.avg.mean(windowLength(z.windows[idx], z.pollDelays[idx]))
	}

	ev, changed := z.update(temp)
	return ev, changed, nil
}

// HandleNotification applies a pushed raw value for sensorName. ok is false
// when the sensor does not belong to the zone.
func (z *Zone) HandleNotification(sensorName string, raw sensor.Temperature) (ev event.ThermalEvent, changed, ok bool) {
	m := z.member(sensorName)
	if m == nil || !m.Sensor.Active() {
		return event.ThermalEvent{}, false, false
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	m.Sensor.Set(raw)
	temp, err := z.pushTemperature()
	if err != nil {
		z.log.Warn().Err(err).Int("zone_id", z.id).Msg("Push temperature unavailable")
		return event.ThermalEvent{}, false, true
	}

	// The correction only ever pushes a zone upwards; falling relies on the
	// sensor's own hysteresis.
	if z.errorCorrection != 0 {
		corrected := temp + z.errorCorrection
		if Classify(corrected, z.thresholds) > z.state {
			temp = corrected
		}
	}

	ev, changed = z.update(temp)
	return ev, changed, true
}

func (z *Zone) member(sensorName string) *Member {
	for i := range z.members {
		if z.members[i].Sensor.Name() == sensorName {
			return &z.members[i]
		}
	}
	return nil
}

// Update stores temp and applies the transition rule.
func (z *Zone) Update(temp sensor.Temperature) (event.ThermalEvent, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.update(temp)
}

func (z *Zone) update(temp sensor.Temperature) (event.ThermalEvent, bool) {
	z.temp = temp

	next := Classify(temp, z.thresholds)
	if next == z.state {
		return event.ThermalEvent{}, false
	}

	if next != Off && next < z.state && !z.push {
		if temp > z.thresholds[z.state]-z.debounce {
			return event.ThermalEvent{}, false
		}
	}

	kind := event.Falling
	if next > z.state {
		kind = event.Rising
	}

	prev := z.state
	z.state = next

	return event.New(z.id, z.name, z.profile, kind, int(prev), int(next), int(temp)), true
}

// Reset forces the zone back to NORMAL at its first threshold and returns
// the synthetic event that de-throttles bound devices.
func (z *Zone) Reset() event.ThermalEvent {
	z.mu.Lock()
	defer z.mu.Unlock()

	prev := z.state
	z.state = Normal
	if len(z.thresholds) > 0 {
		z.temp = z.thresholds[0]
	}
	if z.avg != nil {
		z.avg.reset()
	}

	return event.New(z.id, z.name, z.profile, event.Reset, int(prev), int(Normal), int(z.temp))
}

// ProgramTrips writes the trip band of the current state into sensorName's
// trip registers. An empty sensorName programs every member with trip paths.
func (z *Zone) ProgramTrips(io sensor.IO, sensorName string) error {
	z.mu.Lock()
	low, high := TripPoints(z.state, z.thresholds)
	z.mu.Unlock()

	var firstErr error
	for _, m := range z.members {
		if !m.Sensor.Active() || !m.Sensor.HasTrips() {
			continue
		}
		if sensorName != "" && m.Sensor.Name() != sensorName {
			continue
		}
		if err := m.Sensor.SetTrips(io, low, high); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
