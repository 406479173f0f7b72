// Package gpu exposes NVIDIA GPUs through NVML as temperature sources and
// cooling devices.
package gpu

import (
	stderrors "errors"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Scheme prefixes sensor and control handles served by NVML,
	// e.g. "nvml:0" for the first GPU.
	Scheme = "nvml"

	KindPower = "nvml-power"
	KindFan   = "nvml-fan"
)

// Source reads GPU core temperatures and builds NVML cooling drivers.
type Source struct {
	lib Library
	log logger.Logger

	mu       sync.Mutex
	devices  map[int]Device
	controls []restorer
}

// NewSource initializes lib. Close must be called to release it.
func NewSource(lib Library) (*Source, error) {
	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	s := &Source{
		lib:     lib,
		log:     logger.New("gpu"),
		devices: make(map[int]Device),
	}

	if count, err := lib.GetDeviceCount(); err == nil {
		s.log.Info().Int("count", count).Msg("NVML initialized")
	}

	return s, nil
}

func parseHandle(handle string) (int, error) {
	scheme, rest, ok := strings.Cut(handle, ":")
	if !ok || scheme != Scheme {
		return 0, errors.New().WithData(ErrInvalidHandle, handle)
	}

	index, err := strconv.Atoi(rest)
	if err != nil || index < 0 {
		return 0, errors.New().WithData(ErrInvalidHandle, handle)
	}

	return index, nil
}

func (s *Source) device(handle string) (Device, error) {
	index, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[index]; ok {
		return d, nil
	}

	d, err := s.lib.GetDevice(index)
	if err != nil {
		return nil, err
	}
	s.devices[index] = d

	return d, nil
}

// Read returns the GPU core temperature in millidegrees.
func (s *Source) Read(handle string) (sensor.Temperature, error) {
	d, err := s.device(handle)
	if err != nil {
		return 0, err
	}

	temp, ret := d.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	return sensor.Temperature(int(temp) * 1000), nil
}

func (s *Source) Exists(path string) bool {
	_, err := s.device(path)
	return err == nil
}

// Write is not supported; GPU state is changed through the drivers.
func (s *Source) Write(path string, _ int) error {
	return errors.New().WithData(ErrReadOnly, path)
}

// RegisterDrivers adds the nvml-power and nvml-fan kinds to r. The device
// path selects the GPU.
func (s *Source) RegisterDrivers(r *cooling.Registry) {
	r.Register(KindPower, func(cfg cooling.Config) (cooling.Driver, error) {
		d, err := s.device(cfg.Path)
		if err != nil {
			return nil, err
		}
		drv, err := newPowerDriver(d, cfg)
		if err != nil {
			return nil, err
		}
		s.track(drv)
		return drv, nil
	})

	r.Register(KindFan, func(cfg cooling.Config) (cooling.Driver, error) {
		d, err := s.device(cfg.Path)
		if err != nil {
			return nil, err
		}
		drv, err := newFanDriver(d, cfg)
		if err != nil {
			return nil, err
		}
		s.track(drv)
		return drv, nil
	})
}

func (s *Source) track(r restorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, r)
}

// Close restores default power limits and automatic fan control on every
// GPU a driver touched, then shuts NVML down.
func (s *Source) Close() error {
	s.mu.Lock()
	controls := s.controls
	s.controls = nil
	s.mu.Unlock()

	var errs []error
	for _, c := range controls {
		if err := c.Restore(); err != nil {
			s.log.Error().Err(err).Msg("Failed to restore GPU defaults")
			errs = append(errs, err)
		}
	}

	if err := s.lib.Shutdown(); err != nil {
		errs = append(errs, err)
	}

	return stderrors.Join(errs...)
}
