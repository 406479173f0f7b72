package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/api"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/scheduler"
	"codeberg.org/mutker/thermalctl/internal/telemetry"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	profile  string
	override bool
	notified []scheduler.Notification
}

func (c *fakeController) Status() thermal.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return thermal.Status{
		Profile:          c.profile,
		Profiles:         []string{"performance", "quiet"},
		ShutdownOverride: c.override,
		Zones:            []thermal.ZoneStatus{},
		Devices:          []thermal.DeviceStatus{},
	}
}

func (c *fakeController) SwitchProfile(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "performance" && name != "quiet" {
		return errors.New().WithData(thermal.ErrUnknownProfile, name)
	}
	c.profile = name
	return nil
}

func (c *fakeController) SetShutdownOverride(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = on
}

func (c *fakeController) Notify(_ context.Context, n scheduler.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.Sensor != "skin" {
		return errors.New().WithData(scheduler.ErrNoRoute, n.Sensor)
	}
	c.notified = append(c.notified, n)
	return nil
}

func (c *fakeController) notifications() []scheduler.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scheduler.Notification(nil), c.notified...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []event.ThermalEvent
	limit  int
}

func (e *fakeEvents) Recent(_ context.Context, limit int) ([]event.ThermalEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limit = limit
	return e.events, nil
}

func (e *fakeEvents) lastLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limit
}

func newServer(t *testing.T) (*httptest.Server, *fakeController, *fakeEvents) {
	t.Helper()
	ctrl := &fakeController{profile: "quiet"}
	events := &fakeEvents{events: []event.ThermalEvent{
		event.New(1, "cpu", "quiet", event.Rising, 0, 1, 45000),
	}}
	metrics := telemetry.NewMetrics(ctrl)
	srv := httptest.NewServer(api.New(ctrl, events, metrics).Handler())
	t.Cleanup(srv.Close)
	return srv, ctrl, events
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndStatus(t *testing.T) {
	srv, _, _ := newServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st thermal.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "quiet", st.Profile)
	assert.Equal(t, []string{"performance", "quiet"}, st.Profiles)
}

func TestSwitchProfile(t *testing.T) {
	srv, ctrl, _ := newServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/profile", `{"name":"performance"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "performance", ctrl.Status().Profile)

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/profile", `{"name":"turbo"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(thermal.ErrUnknownProfile), body["error"])

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/profile", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/profile", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestShutdownOverride(t *testing.T) {
	srv, ctrl, _ := newServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/shutdown-override", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, ctrl.Status().ShutdownOverride)

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/shutdown-override", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, ctrl.Status().ShutdownOverride)
}

func TestNotify(t *testing.T) {
	srv, ctrl, _ := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/notify", `{"sensor":"skin","value":41000}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []scheduler.Notification{{Sensor: "skin", Value: 41000}}, ctrl.notifications())

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/notify", `{"sensor":"cpu","value":41000}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecentEvents(t *testing.T) {
	srv, _, events := newServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.DefaultEventLimit, events.lastLimit())

	var got []event.ThermalEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "cpu", got[0].ZoneName)
	assert.Equal(t, event.Rising, got[0].Kind)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/events?limit=5000", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.MaxEventLimit, events.lastLimit())

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/events?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newServer(t)

	do(t, http.MethodGet, srv.URL+"/healthz", "")

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `route="/healthz"`)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	s := api.New(&fakeController{}, nil, nil)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
