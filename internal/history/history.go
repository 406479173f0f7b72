// Package history journals thermal events into SQLite.
package history

import (
	"context"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

type service struct {
	repo *repository
}

type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Event history disabled, using no-op recorder")
		return noopRecorder{}, nil
	}

	repo, err := newRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo}, nil
}

func (s *service) Notify(ctx context.Context, ev event.ThermalEvent) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.record(ev); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (s *service) Recent(ctx context.Context, limit int) ([]event.ThermalEvent, error) {
	if limit <= 0 {
		return []event.ThermalEvent{}, nil
	}
	return s.repo.recent(ctx, limit)
}

func (s *service) Close() error {
	return s.repo.close()
}

func (*service) IsEnabled() bool { return true }

func (noopRecorder) Notify(context.Context, event.ThermalEvent) error { return nil }

func (noopRecorder) Recent(context.Context, int) ([]event.ThermalEvent, error) {
	return []event.ThermalEvent{}, nil
}

func (noopRecorder) Close() error { return nil }

func (noopRecorder) IsEnabled() bool { return false }
