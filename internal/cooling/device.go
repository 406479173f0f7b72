// Package cooling maps zone states onto cooling device throttle levels and
// drives the devices.
package cooling

import (
	"sync"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

// Config describes a cooling device as handed over by the loader.
type Config struct {
	ID     int
	Name   string
	Driver string
	// Path is the control file written by the linear driver.
	Path string
	// Handler names an externally registered Handler.
	Handler string
	// ThrottleValues are the configured levels, lowest first. The last one
	// is duplicated internally for the CRITICAL level.
	ThrottleValues []int
}

// LevelObserver is told about every level actually applied to a device.
type LevelObserver interface {
	DeviceLevelChanged(id int, name string, level int)
}

// Device is an actuator shared by any number of zones. Its applied level is
// the highest level requested by a bound zone.
type Device struct {
	id       int
	name     string
	values   []int
	driver   Driver
	log      logger.Logger
	observer LevelObserver

	mu       sync.Mutex
	level    int
	requests map[int]int
}

// NewDevice wraps a driver. The device starts with no applied level so the
// first request always reaches the driver.
func NewDevice(cfg Config, driver Driver) (*Device, error) {
	if len(cfg.ThrottleValues) == 0 {
		return nil, errors.New().WithData(ErrNoThrottleValues, cfg.Name)
	}

	values := make([]int, 0, len(cfg.ThrottleValues)+1)
	values = append(values, cfg.ThrottleValues...)
	values = append(values, cfg.ThrottleValues[len(cfg.ThrottleValues)-1])

	return &Device{
		id:       cfg.ID,
		name:     cfg.Name,
		values:   values,
		driver:   driver,
		log:      logger.New("cooling"),
		level:    -1,
		requests: make(map[int]int),
	}, nil
}

func (d *Device) ID() int { return d.id }

func (d *Device) Name() string { return d.name }

// Observe registers the level observer. It must be set before the device is
// shared between goroutines.
func (d *Device) Observe(o LevelObserver) { d.observer = o }

// NumThrottleValues includes the duplicated CRITICAL entry.
func (d *Device) NumThrottleValues() int { return len(d.values) }

// MaxThrottleLevels is the number of levels reachable without CRITICAL.
func (d *Device) MaxThrottleLevels() int { return len(d.values) - 1 }

// CriticalLevel is reserved for zones in their CRITICAL state.
func (d *Device) CriticalLevel() int { return len(d.values) - 1 }

// ThrottleValue returns the configured value behind level.
func (d *Device) ThrottleValue(level int) int {
	if level < 0 || level >= len(d.values) {
		return 0
	}
	return d.values[level]
}

// Level returns the last applied aggregate level, or -1 before the first
// successful request.
func (d *Device) Level() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Requests returns a copy of the per-zone requested levels.
func (d *Device) Requests() map[int]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]int, len(d.requests))
	for k, v := range d.requests {
		out[k] = v
	}
	return out
}

// Request records zoneID's wanted level and drives the device when the
// aggregate level changes. A failed write leaves the applied level
// untouched so the next request retries.
func (d *Device) Request(zoneID, level int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests[zoneID] = level
	return d.apply()
}

// Release forgets zoneID's request.
func (d *Device) Release(zoneID int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.requests[zoneID]; !ok {
		return false, nil
	}
	delete(d.requests, zoneID)
	return d.apply()
}

func (d *Device) aggregate() int {
	agg := 0
	for _, l := range d.requests {
		if l > agg {
			agg = l
		}
	}
	return agg
}

func (d *Device) apply() (bool, error) {
	agg := d.aggregate()
	if agg == d.level {
		return false, nil
	}

	var err error
	if agg >= d.CriticalLevel() {
		agg = d.CriticalLevel()
		err = d.driver.Critical()
	} else {
		err = d.driver.Throttle(agg)
	}
	if err != nil {
		d.log.Warn().Err(err).
			Int("device_id", d.id).
			Str("device", d.name).
			Int("level", agg).
			Msg("Cooling device did not throttle")
		return false, errors.New().Wrap(ErrDriverFailed, err)
	}

	d.log.Debug().
		Int("device_id", d.id).
		Str("device", d.name).
		Int("from", d.level).
		Int("to", agg).
		Msg("Cooling level changed")

	d.level = agg
	if d.observer != nil {
		d.observer.DeviceLevelChanged(d.id, d.name, agg)
	}

	return true, nil
}
