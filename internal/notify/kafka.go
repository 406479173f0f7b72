// Package notify broadcasts thermal events to external consumers.
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultWriteTimeout = 500 * time.Millisecond
	DefaultBatchTimeout = 5 * time.Millisecond
	DefaultMaxFailures  = 3
	DefaultResetTimeout = 30 * time.Second
)

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options bound how long the pipeline consumer can be held up by the broker.
// Zero fields take the package defaults.
type Options struct {
	WriteTimeout time.Duration
	BatchTimeout time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = DefaultResetTimeout
	}
	return o
}

// KafkaSink publishes each event as JSON keyed by zone id, so one zone's
// events stay ordered within a partition. Writes are time-boxed and guarded
// by a breaker; while the broker is unreachable events are dropped rather
// than queued.
type KafkaSink struct {
	w       MessageWriter
	topic   string
	timeout time.Duration
	brk     *breaker
	log     logger.Logger
}

func NewKafkaWriter(brokers []string, topic string, opts Options) *kafka.Writer {
	opts = opts.withDefaults()
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: opts.BatchTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
}

func NewKafkaSink(brokers []string, topic string, opts Options) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New().New(ErrNoBrokers)
	}
	return NewSink(NewKafkaWriter(brokers, topic, opts), topic, opts), nil
}

// NewSink wraps an arbitrary writer.
func NewSink(w MessageWriter, topic string, opts Options) *KafkaSink {
	opts = opts.withDefaults()
	return &KafkaSink{
		w:       w,
		topic:   topic,
		timeout: opts.WriteTimeout,
		brk:     newBreaker(opts.MaxFailures, opts.ResetTimeout),
		log:     logger.New("kafka"),
	}
}

func (s *KafkaSink) Notify(ctx context.Context, ev event.ThermalEvent) error {
	errFactory := errors.New()

	b, err := json.Marshal(ev)
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.Itoa(ev.ZoneID)),
		Value: b,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind.String())},
			{Key: "profile", Value: []byte(ev.Profile)},
		},
	}

	err = s.brk.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.w.WriteMessages(ctx, msg)
	})
	switch {
	case errors.HasCode(err, ErrBreakerOpen):
		s.log.Debug().Int("zone_id", ev.ZoneID).Msg("Breaker open, event dropped")
		return err
	case err != nil:
		s.log.Warn().Err(err).Str("topic", s.topic).Int("zone_id", ev.ZoneID).Msg("Kafka write failed")
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	s.log.Debug().Str("topic", s.topic).Int("zone_id", ev.ZoneID).Msg("Event published")
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
