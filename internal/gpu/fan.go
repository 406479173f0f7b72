package gpu

import (
	"sync"

	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

// fanDriver sets every fan on the board to the same speed. Throttle values
// are fan speed percentages; 0 hands the fans back to the firmware curve.
type fanDriver struct {
	device Device
	values []int
	count  int
	limits FanSpeedLimits
	name   string
	log    logger.Logger

	mu       sync.Mutex
	autoMode bool
	speed    FanSpeed
}

func newFanDriver(device Device, cfg cooling.Config) (*fanDriver, error) {
	errFactory := errors.New()

	count, ret := device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrFanCountFailed, newNVMLError(ret))
	}
	if count == 0 {
		return nil, errFactory.WithData(ErrFanCountFailed, cfg.Name)
	}

	minSpeed, maxSpeed, ret := device.GetMinMaxFanSpeed()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrGetFanLimitsFailed, newNVMLError(ret))
	}

	return &fanDriver{
		device:   device,
		values:   append([]int(nil), cfg.ThrottleValues...),
		count:    count,
		limits:   FanSpeedLimits{Min: FanSpeed(minSpeed), Max: FanSpeed(maxSpeed)},
		log:      logger.New("gpu"),
		name:     cfg.Name,
		autoMode: true,
	}, nil
}

func (f *fanDriver) Throttle(level int) error {
	if level < 0 || level >= len(f.values) {
		return nil
	}
	if f.values[level] <= 0 {
		return f.Restore()
	}

	speed := min(max(FanSpeed(f.values[level]), f.limits.Min), f.limits.Max)
	return f.set(speed)
}

func (f *fanDriver) Critical() error {
	return f.set(f.limits.Max)
}

// Restore re-enables automatic fan control.
func (f *fanDriver) Restore() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.autoMode {
		return nil
	}

	for i := 0; i < f.count; i++ {
		if ret := f.device.SetDefaultFanSpeed_v2(i); !IsNVMLSuccess(ret) {
			return errors.New().Wrap(ErrFanControlFailed, newNVMLError(ret))
		}
	}

	f.log.Debug().Str("device", f.name).Msg("Automatic fan control enabled")
	f.autoMode = true

	return nil
}

func (f *fanDriver) set(speed FanSpeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.autoMode && speed == f.speed {
		return nil
	}

	for i := 0; i < f.count; i++ {
		if ret := f.device.SetFanSpeed_v2(i, int(speed)); !IsNVMLSuccess(ret) {
			return errors.New().Wrap(ErrSetFanSpeed, newNVMLError(ret))
		}
	}

	f.log.Debug().Str("device", f.name).Int("fanSpeed", int(speed)).Msg("Fan speed applied")
	f.autoMode = false
	f.speed = speed

	return nil
}
