package event_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []event.ThermalEvent
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 128)}
}

func (r *recorder) Notify(_ context.Context, ev event.ThermalEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) states() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.State)
	}
	return out
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func TestPipelinePreservesOrder(t *testing.T) {
	rec := newRecorder()
	p := event.NewPipeline(4, rec, logger.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Publish(ctx, event.New(1, "cpu", "default", event.Rising, i-1, i, 0)))
	}
	rec.wait(t, 20)

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, rec.states())
}

func TestPipelineBlocksWhenFull(t *testing.T) {
	rec := newRecorder()
	p := event.NewPipeline(1, rec, logger.New("test"))
	assert.Equal(t, 1, p.Cap())

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, event.New(1, "cpu", "default", event.Rising, -1, 0, 0)))
	assert.Equal(t, 1, p.Len())

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := p.Publish(short, event.New(1, "cpu", "default", event.Rising, 0, 1, 0))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))

	published := make(chan error, 1)
	go func() {
		published <- p.Publish(ctx, event.New(1, "cpu", "default", event.Rising, 0, 1, 0))
	}()

	select {
	case <-published:
		t.Fatal("publish returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go p.Run(runCtx)

	require.NoError(t, <-published)
	rec.wait(t, 2)
	assert.Equal(t, []int{0, 1}, rec.states())
}

func TestPipelineCloseDrains(t *testing.T) {
	rec := newRecorder()
	p := event.NewPipeline(8, rec, logger.New("test"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(ctx, event.New(2, "gpu", "default", event.Rising, i-1, i, 0)))
	}
	p.Close()

	err := p.Publish(ctx, event.New(2, "gpu", "default", event.Rising, 2, 3, 0))
	assert.True(t, errors.HasCode(err, errors.ErrPipelineClosed))

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	<-done

	assert.Equal(t, []int{0, 1, 2}, rec.states())
}

func TestFanOutJoinsErrors(t *testing.T) {
	rec := newRecorder()
	boom := stderrors.New("boom")
	f := event.FanOut{
		event.SinkFunc(func(context.Context, event.ThermalEvent) error { return boom }),
		rec,
	}

	err := f.Notify(context.Background(), event.New(1, "cpu", "default", event.Falling, 1, 0, 0))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{0}, rec.states())
}

func TestKindJSON(t *testing.T) {
	ev := event.New(7, "skin", "game", event.Reset, 3, 0, 35000)
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"reset"`)

	var back event.ThermalEvent
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, event.Reset, back.Kind)
	assert.Equal(t, ev.ID, back.ID)
}
