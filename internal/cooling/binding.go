package cooling

import (
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

// BoundDevice is one device bound to a zone. Masks are indexed by device
// state; nil means every state is enabled.
type BoundDevice struct {
	DeviceID       int
	States         int
	ThrottleMask   []bool
	DethrottleMask []bool

	zoneToDevice     int
	deviceToThrottle int
	maxThrottle      int
}

// ZoneToDevice returns the zone states per device state bucket.
func (b BoundDevice) ZoneToDevice() int { return b.zoneToDevice }

// DeviceToThrottle returns the throttle levels per device state bucket.
func (b BoundDevice) DeviceToThrottle() int { return b.deviceToThrottle }

// Map converts a zone state into a device state and throttle level.
func (b BoundDevice) Map(state int) (deviceState, level int) {
	s := max(state, 0)
	deviceState = min(s/b.zoneToDevice, b.States-1)
	level = min(deviceState*b.deviceToThrottle, b.maxThrottle-1)
	return deviceState, level
}

// Binding lists the devices a zone drives.
type Binding struct {
	ZoneID  int
	Devices []BoundDevice

	critical int
}

// CriticalState is the zone state that forces the critical level.
func (b *Binding) CriticalState() int { return b.critical }

// BindMap maps zone id to its computed binding. It is not modified after
// Compute returns.
type BindMap map[int]*Binding

// Compute derives the bucket ratios for every binding. Bindings to zones not
// present in maxStates are dropped, as are bound devices that are inactive or
// carry malformed masks.
func Compute(bindings []Binding, maxStates map[int]int, devices map[int]*Device) BindMap {
	log := logger.New("cooling")
	bm := make(BindMap, len(bindings))

	for _, b := range bindings {
		states, ok := maxStates[b.ZoneID]
		if !ok {
			log.Warn().Int("zone_id", b.ZoneID).Msg("Binding refers to an inactive zone, dropping")
			continue
		}

		out, ok := bm[b.ZoneID]
		if !ok {
			out = &Binding{ZoneID: b.ZoneID, critical: states - 2}
			bm[b.ZoneID] = out
		}

		for _, bd := range b.Devices {
			dev, ok := devices[bd.DeviceID]
			if !ok {
				log.Warn().
					Int("zone_id", b.ZoneID).
					Int("device_id", bd.DeviceID).
					Msg("Bound device is inactive, dropping")
				continue
			}

			computed, err := computeDevice(bd, states, dev.MaxThrottleLevels())
			if err != nil {
				log.Error().Err(err).
					Int("zone_id", b.ZoneID).
					Int("device_id", bd.DeviceID).
					Msg("Invalid device binding, dropping")
				continue
			}

			out.Devices = append(out.Devices, computed)
		}
	}

	return bm
}

func computeDevice(bd BoundDevice, maxStates, maxThrottle int) (BoundDevice, error) {
	errFactory := errors.New()

	if bd.States <= 0 {
		return bd, errFactory.WithData(ErrDeviceStates, bd.States)
	}

	var err error
	if bd.ThrottleMask, err = normalizeMask(bd.ThrottleMask, bd.States); err != nil {
		return bd, err
	}
	if bd.DethrottleMask, err = normalizeMask(bd.DethrottleMask, bd.States); err != nil {
		return bd, err
	}

	bd.zoneToDevice = max(1, (maxStates-1)/bd.States)
	bd.deviceToThrottle = max(1, maxThrottle/bd.States)
	bd.maxThrottle = maxThrottle

	return bd, nil
}

func normalizeMask(mask []bool, states int) ([]bool, error) {
	if mask == nil {
		mask = make([]bool, states)
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}
	if len(mask) != states {
		return nil, errors.New().WithData(ErrMaskLength, len(mask))
	}

	out := make([]bool, states)
	copy(out, mask)
	return out, nil
}

// Apply forwards ev to every bound device. Driver failures are logged by
// the device and do not stop the remaining devices.
func (b *Binding) Apply(ev event.ThermalEvent, devices map[int]*Device) {
	for _, bd := range b.Devices {
		dev, ok := devices[bd.DeviceID]
		if !ok {
			continue
		}

		if ev.State == b.critical {
			_, _ = dev.Request(ev.ZoneID, dev.CriticalLevel())
			continue
		}

		ds, level := bd.Map(ev.State)
		switch ev.Kind {
		case event.Rising:
			if !bd.ThrottleMask[ds] {
				continue
			}
		case event.Falling:
			if !bd.DethrottleMask[ds] {
				continue
			}
		case event.Reset:
		}

		_, _ = dev.Request(ev.ZoneID, level)
	}
}

// Release drops zoneID's requests from every device it was bound to.
func (b *Binding) Release(devices map[int]*Device) {
	for _, bd := range b.Devices {
		if dev, ok := devices[bd.DeviceID]; ok {
			_, _ = dev.Release(b.ZoneID)
		}
	}
}
