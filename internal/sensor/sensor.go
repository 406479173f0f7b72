// Package sensor models temperature sources and the I/O collaborator used to
// read them.
package sensor

import (
	"sync"

	"codeberg.org/mutker/thermalctl/internal/errors"
)

// Temperature is expressed in millidegrees Celsius.
type Temperature int

// IO is the low-level collaborator for sensor and control-path access.
type IO interface {
	Read(handle string) (Temperature, error)
	Exists(path string) bool
	Write(path string, value int) error
}

// Config describes one sensor as handed over by the configuration loader.
type Config struct {
	Name         string
	Path         string
	Offset       Temperature
	TripLowPath  string
	TripHighPath string
}

// Sensor is one physical or virtual temperature source.
type Sensor struct {
	name         string
	path         string
	offset       Temperature
	tripLowPath  string
	tripHighPath string

	mu     sync.RWMutex
	active bool
	valid  bool
	value  Temperature
}

func New(cfg Config) *Sensor {
	return &Sensor{
		name:         cfg.Name,
		path:         cfg.Path,
		offset:       cfg.Offset,
		tripLowPath:  cfg.TripLowPath,
		tripHighPath: cfg.TripHighPath,
	}
}

// Init reads the source once. A sensor whose source is missing stays
// inactive for the lifetime of the process.
func (s *Sensor) Init(io IO) bool {
	active := io.Exists(s.path)

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	return active
}

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) Path() string { return s.path }

func (s *Sensor) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Value returns the last calibrated reading.
func (s *Sensor) Value() Temperature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// HasValue reports whether the sensor has been read or notified at least
// once.
func (s *Sensor) HasValue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Read fetches a fresh value from the source and stores it with the
// calibration offset applied.
func (s *Sensor) Read(io IO) (Temperature, error) {
	errFactory := errors.New()

	if !s.Active() {
		return 0, errFactory.WithData(ErrSensorInactive, s.name)
	}

	raw, err := io.Read(s.path)
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err).WithMessage("sensor " + s.name + " unreadable")
	}

	return s.Set(raw), nil
}

// Set stores a raw value delivered by a push notification and returns the
// calibrated value.
func (s *Sensor) Set(raw Temperature) Temperature {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = raw + s.offset
	s.valid = true
	return s.value
}

// HasTrips reports whether the sensor exposes programmable trip points.
func (s *Sensor) HasTrips() bool {
	return s.tripLowPath != "" && s.tripHighPath != ""
}

// SetTrips programs the low/high trip thresholds so the next interrupt fires
// on the next crossing.
func (s *Sensor) SetTrips(io IO, low, high Temperature) error {
	errFactory := errors.New()

	if !s.HasTrips() {
		return errFactory.WithData(ErrNoTripPath, s.name)
	}

	if err := io.Write(s.tripLowPath, int(low-s.offset)); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	if err := io.Write(s.tripHighPath, int(high-s.offset)); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}
