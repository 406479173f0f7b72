package zone

import (
	"math"
	"strings"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// Kind selects the temperature model of a zone.
type Kind int

const (
	// Direct zones report a sensor value as-is.
	Direct Kind = iota
	// Derived zones combine weighted sensor values plus a constant offset.
	Derived
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "direct", "raw":
		return Direct, nil
	case "derived", "virtual":
		return Derived, nil
	default:
		return Direct, errors.New().WithData(ErrUnknownKind, s)
	}
}

func (k Kind) String() string {
	if k == Derived {
		return "derived"
	}
	return "direct"
}

// Member is a sensor owned by a zone together with its polynomial
// coefficients. Weights are scaled by 1000.
type Member struct {
	Sensor  *sensor.Sensor
	Weights []float64
	Orders  []float64
}

const weightScale = 1000

// WeightedTemp maps a raw proxy value onto an estimated temperature.
func WeightedTemp(raw sensor.Temperature, weights, orders []float64) sensor.Temperature {
	if len(weights) == 0 {
		return raw
	}
	if len(orders) == 0 {
		return sensor.Temperature(weights[0] * float64(raw) / weightScale)
	}
	if len(orders) != len(weights) {
		return raw
	}

	var sum float64
	for i, w := range weights {
		sum += w * math.Pow(float64(raw), orders[i]) / weightScale
	}

	return sensor.Temperature(sum)
}

// pollTemperature reads every active member. Direct zones take the hottest
// reading; derived zones need every active member to answer.
func (z *Zone) pollTemperature(io sensor.IO) (sensor.Temperature, error) {
	errFactory := errors.New()

	var (
		result   sensor.Temperature
		got      int
		firstErr error
	)

	for _, m := range z.members {
		if !m.Sensor.Active() {
			continue
		}

		v, err := m.Sensor.Read(io)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if z.kind == Derived {
				return 0, errFactory.Wrap(ErrTemperatureUnknown, err)
			}
			continue
		}

		switch {
		case z.kind == Derived:
			result += WeightedTemp(v, m.Weights, m.Orders)
		case got == 0 || v > result:
			result = v
		}
		got++
	}

	if got == 0 {
		if firstErr != nil {
			return 0, errFactory.Wrap(ErrTemperatureUnknown, firstErr)
		}
		return 0, errFactory.New(ErrNoActiveSensors)
	}

	if z.kind == Derived {
		result += z.offset
	}

	return result, nil
}

// pushTemperature uses cached sensor values. Direct zones follow their first
// active sensor; members that have not reported yet are left out.
func (z *Zone) pushTemperature() (sensor.Temperature, error) {
	var (
		result sensor.Temperature
		got    bool
	)

	for _, m := range z.members {
		if !m.Sensor.Active() || !m.Sensor.HasValue() {
			continue
		}
		if z.kind == Direct {
			return m.Sensor.Value(), nil
		}
		result += WeightedTemp(m.Sensor.Value(), m.Weights, m.Orders)
		got = true
	}

	if !got {
		return 0, errors.New().New(ErrTemperatureUnknown)
	}

	return result + z.offset, nil
}
