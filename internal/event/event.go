// Package event carries thermal state changes from zones to notification
// sinks through a bounded queue.
package event

import (
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/google/uuid"
)

// Kind is the direction of a state change.
type Kind int

const (
	Rising Kind = iota
	Falling
	// Reset is a synthetic falling event emitted on profile switch. Bound
	// devices de-throttle regardless of their dethrottle masks.
	Reset
)

func (k Kind) String() string {
	switch k {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "rising":
		*k = Rising
	case "falling":
		*k = Falling
	case "reset":
		*k = Reset
	default:
		return errors.New().WithData(errors.ErrInvalidArgument, "event kind "+string(text))
	}
	return nil
}

// ThermalEvent is an immutable record of one zone state change.
type ThermalEvent struct {
	ID          uuid.UUID `json:"id"`
	ZoneID      int       `json:"zoneId"`
	ZoneName    string    `json:"zoneName"`
	Kind        Kind      `json:"kind"`
	PrevState   int       `json:"prevState"`
	State       int       `json:"state"`
	Temperature int       `json:"temperature"`
	Profile     string    `json:"profile"`
	Time        time.Time `json:"time"`
}

// New stamps a ThermalEvent with a fresh id and the current time.
func New(zoneID int, zoneName, profile string, kind Kind, prev, state, temperature int) ThermalEvent {
	return ThermalEvent{
		ID:          uuid.New(),
		ZoneID:      zoneID,
		ZoneName:    zoneName,
		Kind:        kind,
		PrevState:   prev,
		State:       state,
		Temperature: temperature,
		Profile:     profile,
		Time:        time.Now(),
	}
}
