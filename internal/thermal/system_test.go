package thermal_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/thermalctl/internal/config"
	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/notify"
	"codeberg.org/mutker/thermalctl/internal/scheduler"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/sensor/sensortest"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records device writes and sensor reads in one ordered list.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) index(s string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if e == s {
			return i
		}
	}
	return -1
}

func (j *journal) lastIndex(s string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i] == s {
			return i
		}
	}
	return -1
}

type journalIO struct {
	*sensortest.MemIO
	j *journal
}

func (io journalIO) Read(handle string) (sensor.Temperature, error) {
	io.j.add("read:" + handle)
	return io.MemIO.Read(handle)
}

type recorder struct {
	mu     sync.Mutex
	events []event.ThermalEvent
}

func (r *recorder) Notify(_ context.Context, ev event.ThermalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) find(zoneID int, kind event.Kind) (event.ThermalEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ZoneID == zoneID && ev.Kind == kind {
			return ev, true
		}
	}
	return event.ThermalEvent{}, false
}

type fixture struct {
	io       *sensortest.MemIO
	journal  *journal
	sys      *thermal.System
	model    *thermal.Model
	events   *recorder
	shutdown *shutdowns
	cancel   context.CancelFunc
	done     chan struct{}
}

type shutdowns struct {
	mu      sync.Mutex
	reasons []string
}

func (s *shutdowns) Shutdown(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
	return nil
}

func (s *shutdowns) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons)
}

func zoneConfig(id int, name, sensorName string) config.ZoneConfig {
	return config.ZoneConfig{
		ID:           id,
		Name:         name,
		Sensors:      []config.ZoneSensorConfig{{Name: sensorName}},
		Thresholds:   []int{10000, 20000, 30000, 40000, 40000},
		PollDelaysMs: []int{2, 2, 2, 2, 2},
	}
}

func testConfig() *config.Config {
	skin := zoneConfig(3, "skin", "skin")
	skin.Push = true
	skin.EmergencyShutdown = true

	return &config.Config{
		Sensors: []config.SensorConfig{
			{Name: "cpu", Path: "/cpu"},
			{Name: "gpu", Path: "/gpu"},
			{Name: "skin", Path: "/skin", TripLowPath: "/skin/low", TripHighPath: "/skin/high"},
		},
		Devices: []config.DeviceConfig{
			{ID: 1, Name: "fan", Driver: cooling.KindHandler, Handler: "fan", ThrottleValues: []int{0, 1, 2, 3}},
		},
		Profiles: []config.ProfileConfig{
			{
				Name:  "a",
				Zones: []config.ZoneConfig{zoneConfig(1, "cpu", "cpu")},
				Bindings: []config.BindingConfig{
					{Zone: 1, Devices: []config.BoundDeviceConfig{{Device: 1, States: 2}}},
				},
			},
			{
				Name:  "b",
				Zones: []config.ZoneConfig{zoneConfig(2, "gpu", "gpu")},
				Bindings: []config.BindingConfig{
					{Zone: 2, Devices: []config.BoundDeviceConfig{{Device: 1, States: 2}}},
				},
			},
			{
				Name:  "push",
				Zones: []config.ZoneConfig{skin},
				Bindings: []config.BindingConfig{
					{Zone: 3, Devices: []config.BoundDeviceConfig{{Device: 1, States: 2}}},
				},
			},
		},
	}
}

func newFixture(t *testing.T, defaultProfile string) *fixture {
	t.Helper()
	return newFixtureWithSink(t, defaultProfile, 16, nil)
}

// newFixtureWithSink fans events out to extra as well as the recorder.
func newFixtureWithSink(t *testing.T, defaultProfile string, capacity int, extra event.Sink) *fixture {
	t.Helper()

	f := &fixture{
		io:       sensortest.New(),
		journal:  &journal{},
		events:   &recorder{},
		shutdown: &shutdowns{},
		done:     make(chan struct{}),
	}
	for _, h := range []string{"/cpu", "/gpu", "/skin", "/skin/low", "/skin/high"} {
		f.io.Set(h, 5000)
	}
	io := journalIO{MemIO: f.io, j: f.journal}

	reg := cooling.NewRegistry(io)
	reg.RegisterHandler("fan", cooling.HandlerFunc(func(level int) error {
		f.journal.add(fmt.Sprintf("fan:%d", level))
		return nil
	}))

	f.model = thermal.Build(testConfig(), io, reg)

	var sink event.Sink = f.events
	if extra != nil {
		sink = event.FanOut{extra, f.events}
	}
	pipeline := event.NewPipeline(capacity, sink, logger.New("test"))
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		defer close(f.done)
		pipeline.Run(ctx)
	}()

	f.sys = thermal.New(f.model, thermal.Options{
		IO:             io,
		Pipeline:       pipeline,
		Shutdowner:     f.shutdown,
		DefaultProfile: defaultProfile,
	})
	require.NoError(t, f.sys.Start(ctx))

	t.Cleanup(func() {
		f.sys.Stop(context.Background())
		<-f.done
		cancel()
	})

	return f
}

func TestBuildModel(t *testing.T) {
	cfg := testConfig()
	cfg.Sensors = append(cfg.Sensors, config.SensorConfig{Name: "ghost", Path: "/ghost"})
	cfg.Devices = append(cfg.Devices,
		config.DeviceConfig{ID: 2, Name: "mystery", Driver: "warp", ThrottleValues: []int{1}},
		config.DeviceConfig{ID: 3, Name: "empty", Driver: cooling.KindLinear, Path: "/cpu"},
	)
	bad := zoneConfig(9, "bad", "cpu")
	bad.Thresholds = []int{1, 2, 3}
	cfg.Profiles[0].Zones = append(cfg.Profiles[0].Zones, bad)

	io := sensortest.New()
	io.Set("/cpu", 0)
	reg := cooling.NewRegistry(io)
	m := thermal.Build(cfg, io, reg)

	assert.True(t, m.Sensors["cpu"].Active())
	assert.False(t, m.Sensors["ghost"].Active())
	assert.Empty(t, m.Devices, "handler missing, unknown driver and empty values all deactivate")

	require.Contains(t, m.Profiles, "a")
	zones := m.Profiles["a"].Zones
	require.Len(t, zones, 2)
	assert.True(t, zones[0].Active())
	assert.False(t, zones[1].Active())
}

func TestSwitchProfileResetsBeforeNewZonesStart(t *testing.T) {
	f := newFixture(t, "a")
	assert.Equal(t, "a", f.sys.Status().Profile)

	f.io.Set("/cpu", 35000)
	require.Eventually(t, func() bool { return f.model.Devices[1].Level() == 2 }, time.Second, 2*time.Millisecond)

	require.NoError(t, f.sys.SwitchProfile(context.Background(), "b"))
	assert.Equal(t, "b", f.sys.Status().Profile)

	require.Eventually(t, func() bool { return f.journal.index("read:/gpu") >= 0 }, time.Second, 2*time.Millisecond)

	lastThrottle := f.journal.lastIndex("fan:2")
	reset := f.journal.lastIndex("fan:0")
	firstGPU := f.journal.index("read:/gpu")
	require.GreaterOrEqual(t, lastThrottle, 0)
	assert.Greater(t, reset, lastThrottle)
	assert.Less(t, reset, firstGPU, "devices de-throttle before the new profile polls")

	cpu := f.model.Profiles["a"].Zones[0]
	assert.EqualValues(t, 0, cpu.State())
	assert.EqualValues(t, 10000, cpu.Temperature())

	require.Eventually(t, func() bool {
		_, ok := f.events.find(1, event.Reset)
		return ok
	}, time.Second, 2*time.Millisecond)
	ev, _ := f.events.find(1, event.Reset)
	assert.Equal(t, 2, ev.PrevState)
	assert.Equal(t, 0, ev.State)
	assert.Equal(t, "a", ev.Profile)

	assert.Equal(t, map[int]int{}, f.model.Devices[1].Requests(), "stale zone requests are released")
}

func TestSwitchProfileUnknownAndSame(t *testing.T) {
	f := newFixture(t, "a")

	err := f.sys.SwitchProfile(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, thermal.ErrUnknownProfile))
	assert.Equal(t, "a", f.sys.Status().Profile)

	require.NoError(t, f.sys.SwitchProfile(context.Background(), "a"))
	assert.Equal(t, "a", f.sys.Status().Profile)
}

func TestStartWithoutDefaultProfile(t *testing.T) {
	f := newFixture(t, "")
	st := f.sys.Status()
	assert.Empty(t, st.Profile)
	assert.Equal(t, []string{"a", "b", "push"}, st.Profiles)
	assert.Empty(t, st.Zones)

	err := f.sys.Start(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestStartWithUnknownDefaultProfile(t *testing.T) {
	f := newFixture(t, "missing")
	assert.Empty(t, f.sys.Status().Profile)

	require.NoError(t, f.sys.SwitchProfile(context.Background(), "a"))
	assert.Equal(t, "a", f.sys.Status().Profile)
}

func push(t *testing.T, f *fixture, value int) {
	t.Helper()
	require.NoError(t, f.sys.Notify(context.Background(), scheduler.Notification{Sensor: "skin", Value: value}))
}

func TestCriticalTriggersShutdown(t *testing.T) {
	f := newFixture(t, "push")

	push(t, f, 45000)
	require.Eventually(t, func() bool { return f.shutdown.count() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, f.sys.PendingCritical())
	assert.Equal(t, f.model.Devices[1].CriticalLevel(), f.model.Devices[1].Level())

	push(t, f, 25000)
	require.Eventually(t, func() bool { return f.sys.PendingCritical() == 0 }, time.Second, 2*time.Millisecond)

	// Leaving a non-critical state never decrements below zero.
	push(t, f, 5000)
	push(t, f, 15000)
	require.Eventually(t, func() bool {
		return f.sys.Status().Zones[0].State == 0
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, f.sys.PendingCritical())
	assert.Equal(t, 1, f.shutdown.count())
}

func TestShutdownOverride(t *testing.T) {
	f := newFixture(t, "push")
	f.sys.SetShutdownOverride(true)
	assert.True(t, f.sys.ShutdownOverride())

	push(t, f, 45000)
	require.Eventually(t, func() bool { return f.sys.PendingCritical() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, f.shutdown.count())
	assert.True(t, f.sys.Status().Zones[0].PendingCritical)

	f.sys.SetShutdownOverride(false)
	assert.Equal(t, 1, f.shutdown.count())
}

func TestSwitchClearsPendingCritical(t *testing.T) {
	f := newFixture(t, "push")
	f.sys.SetShutdownOverride(true)

	push(t, f, 45000)
	require.Eventually(t, func() bool { return f.sys.PendingCritical() == 1 }, time.Second, 2*time.Millisecond)

	require.NoError(t, f.sys.SwitchProfile(context.Background(), "a"))
	assert.Equal(t, 0, f.sys.PendingCritical())

	// Trip points are reprogrammed for NORMAL on the way out.
	low := f.io.Writes("/skin/low")
	high := f.io.Writes("/skin/high")
	require.NotEmpty(t, low)
	assert.Equal(t, 10000, low[len(low)-1])
	assert.Equal(t, 20000, high[len(high)-1])
}

func TestStop(t *testing.T) {
	f := newFixture(t, "a")
	f.io.Set("/cpu", 35000)
	require.Eventually(t, func() bool { return f.model.Devices[1].Level() == 2 }, time.Second, 2*time.Millisecond)

	f.sys.Stop(context.Background())
	f.sys.Stop(context.Background())
	<-f.done

	assert.Equal(t, 0, f.model.Devices[1].Level())
	err := f.sys.SwitchProfile(context.Background(), "b")
	assert.True(t, errors.HasCode(err, thermal.ErrNotStarted))
}

func TestCommandShutdown(t *testing.T) {
	err := thermal.CommandShutdown{}.Shutdown("test")
	assert.True(t, errors.HasCode(err, thermal.ErrShutdownCmd))

	assert.NoError(t, thermal.CommandShutdown{Command: "true"}.Shutdown("test"))
}

// stalledBroker never acknowledges a write.
type stalledBroker struct{}

func (stalledBroker) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledBroker) Close() error { return nil }

func TestStalledSinkKeepsZonesResponsive(t *testing.T) {
	sink := notify.NewSink(stalledBroker{}, "thermal.events", notify.Options{
		WriteTimeout: 20 * time.Millisecond,
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	})
	f := newFixtureWithSink(t, "push", 1, sink)

	for i := range 20 {
		value := 15000
		if i%2 == 1 {
			value = 35000
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := f.sys.Notify(ctx, scheduler.Notification{Sensor: "skin", Value: value})
		cancel()
		require.NoError(t, err, "notification %d", i)
	}

	require.Eventually(t, func() bool { return f.model.Devices[1].Level() == 2 }, 2*time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := f.events.find(3, event.Rising)
		return ok
	}, time.Second, 2*time.Millisecond, "other sinks keep receiving events")
}
