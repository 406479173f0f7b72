package history

import (
	"context"

	"codeberg.org/mutker/thermalctl/internal/event"
)

// Recorder journals thermal events. It doubles as an event.Sink.
type Recorder interface {
	Notify(ctx context.Context, ev event.ThermalEvent) error
	Recent(ctx context.Context, limit int) ([]event.ThermalEvent, error)
	Close() error
	IsEnabled() bool
}
