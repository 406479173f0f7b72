package event

import (
	"context"
	stderrors "errors"

	"codeberg.org/mutker/thermalctl/internal/logger"
)

// Sink delivers events to the outside world. Delivery failures are reported
// to the pipeline for logging only.
type Sink interface {
	Notify(ctx context.Context, ev ThermalEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev ThermalEvent) error

func (f SinkFunc) Notify(ctx context.Context, ev ThermalEvent) error {
	return f(ctx, ev)
}

// FanOut broadcasts every event to each sink in order.
type FanOut []Sink

func (f FanOut) Notify(ctx context.Context, ev ThermalEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// LogSink writes each event to the log.
type LogSink struct {
	Log logger.Logger
}

func (s LogSink) Notify(_ context.Context, ev ThermalEvent) error {
	s.Log.Info().
		Str("profile", ev.Profile).
		Int("zone_id", ev.ZoneID).
		Str("zone", ev.ZoneName).
		Str("kind", ev.Kind.String()).
		Int("from", ev.PrevState).
		Int("to", ev.State).
		Int("temperature", ev.Temperature).
		Msg("Thermal state changed")
	return nil
}
