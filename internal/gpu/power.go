package gpu

import (
	"math"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

const milliWattsToWatts = 1000

// powerDriver caps the board power limit. Throttle values are percentages
// of the maximum limit, clamped to what the board accepts.
type powerDriver struct {
	device Device
	values []int
	limits PowerLimits
	name   string
	log    logger.Logger

	mu      sync.Mutex
	current PowerLimit
}

func newPowerDriver(device Device, cfg cooling.Config) (*powerDriver, error) {
	errFactory := errors.New()

	minLimit, maxLimit, ret := device.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	defaultLimit, ret := device.GetPowerManagementDefaultLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	currentLimit, ret := device.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	return &powerDriver{
		device: device,
		values: append([]int(nil), cfg.ThrottleValues...),
		limits: PowerLimits{
			Min:     PowerLimit(minLimit / milliWattsToWatts),
			Max:     PowerLimit(maxLimit / milliWattsToWatts),
			Default: PowerLimit(defaultLimit / milliWattsToWatts),
		},
		log:     logger.New("gpu"),
		name:    cfg.Name,
		current: PowerLimit(currentLimit / milliWattsToWatts),
	}, nil
}

// limitFor converts a percentage of the maximum limit into watts.
func (p *powerDriver) limitFor(percent int) PowerLimit {
	limit := p.limits.Max * PowerLimit(percent) / 100
	return min(max(limit, p.limits.Min), p.limits.Max)
}

func (p *powerDriver) Throttle(level int) error {
	if level < 0 || level >= len(p.values) {
		return nil
	}
	return p.set(p.limitFor(p.values[level]))
}

func (p *powerDriver) Critical() error {
	return p.set(p.limits.Min)
}

// Restore puts the default limit back.
func (p *powerDriver) Restore() error {
	return p.set(p.limits.Default)
}

func (p *powerDriver) set(limit PowerLimit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limit == p.current {
		return nil
	}

	if ret := p.device.SetPowerManagementLimit(wattsToMilliWatts(limit)); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrSetPowerLimit, newNVMLError(ret))
	}

	p.log.Debug().Str("device", p.name).Int("powerLimit", int(limit)).Msg("Power limit applied")
	p.current = limit

	return nil
}

func wattsToMilliWatts(watts PowerLimit) uint32 {
	if watts <= 0 {
		return 0
	}

	const maxWatts = PowerLimit(math.MaxUint32 / milliWattsToWatts)
	if watts > maxWatts {
		return math.MaxUint32
	}

	result := watts * PowerLimit(milliWattsToWatts)

	//nolint:gosec // G115: Safe - bounds checked above
	return uint32(result)
}
