package cooling

import (
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// Linear writes throttleValues[level] to a control path.
type Linear struct {
	io     sensor.IO
	path   string
	values []int
}

func NewLinear(io sensor.IO, cfg Config) (*Linear, error) {
	errFactory := errors.New()

	if len(cfg.ThrottleValues) == 0 {
		return nil, errFactory.WithData(ErrNoThrottleValues, cfg.Name)
	}
	if !io.Exists(cfg.Path) {
		return nil, errFactory.WithData(ErrControlPath, cfg.Path)
	}

	values := make([]int, 0, len(cfg.ThrottleValues)+1)
	values = append(values, cfg.ThrottleValues...)
	values = append(values, cfg.ThrottleValues[len(cfg.ThrottleValues)-1])

	return &Linear{io: io, path: cfg.Path, values: values}, nil
}

// Throttle ignores levels that would reach the CRITICAL entry.
func (l *Linear) Throttle(level int) error {
	if level < 0 || level > len(l.values)-2 {
		return nil
	}
	return l.io.Write(l.path, l.values[level])
}

func (l *Linear) Critical() error {
	return l.io.Write(l.path, l.values[len(l.values)-1])
}
