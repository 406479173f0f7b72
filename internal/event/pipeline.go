package event

import (
	"context"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

const DefaultCapacity = 64

// Pipeline is a bounded FIFO between zones and a single consumer. Producers
// block while it is full.
type Pipeline struct {
	queue  chan ThermalEvent
	sink   Sink
	log    logger.Logger
	closed chan struct{}
	once   sync.Once
}

func NewPipeline(capacity int, sink Sink, log logger.Logger) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Pipeline{
		queue:  make(chan ThermalEvent, capacity),
		sink:   sink,
		log:    log,
		closed: make(chan struct{}),
	}
}

// Publish enqueues ev, waiting for room when the queue is full.
func (p *Pipeline) Publish(ctx context.Context, ev ThermalEvent) error {
	errFactory := errors.New()

	select {
	case <-p.closed:
		return errFactory.New(errors.ErrPipelineClosed)
	default:
	}

	select {
	case p.queue <- ev:
		return nil
	case <-p.closed:
		return errFactory.New(errors.ErrPipelineClosed)
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrTimeout, ctx.Err())
	}
}

// Run consumes events until ctx is cancelled or the pipeline is closed,
// then delivers whatever is still queued.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		case <-ctx.Done():
			p.drain(context.WithoutCancel(ctx))
			return
		case <-p.closed:
			p.drain(ctx)
			return
		}
	}
}

func (p *Pipeline) drain(ctx context.Context) {
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, ev ThermalEvent) {
	if err := p.sink.Notify(ctx, ev); err != nil {
		p.log.Warn().Err(err).
			Int("zone_id", ev.ZoneID).
			Str("kind", ev.Kind.String()).
			Msg("Failed to deliver thermal event")
	}
}

// Close stops accepting events. Run returns after draining the queue.
func (p *Pipeline) Close() {
	p.once.Do(func() { close(p.closed) })
}

// Len returns the number of queued events.
func (p *Pipeline) Len() int {
	return len(p.queue)
}

// Cap returns the queue capacity.
func (p *Pipeline) Cap() int {
	return cap(p.queue)
}
