package telemetry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/telemetry"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus thermal.Status

func (s staticStatus) Status() thermal.Status { return thermal.Status(s) }

func TestStatusCollector(t *testing.T) {
	m := telemetry.NewMetrics(staticStatus{
		Profile:         "quiet",
		PendingCritical: 1,
		Zones:           []thermal.ZoneStatus{{ID: 1, Name: "cpu", State: 2, Temperature: 45500}},
		Devices:         []thermal.DeviceStatus{{ID: 3, Name: "fan", Level: 2}},
	})

	expected := `
# HELP thermalctl_zone_temperature_celsius Last computed zone temperature.
# TYPE thermalctl_zone_temperature_celsius gauge
thermalctl_zone_temperature_celsius{profile="quiet",zone="cpu"} 45.5
# HELP thermalctl_pending_critical_zones Zones at CRITICAL waiting on emergency shutdown.
# TYPE thermalctl_pending_critical_zones gauge
thermalctl_pending_critical_zones 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"thermalctl_zone_temperature_celsius", "thermalctl_pending_critical_zones"))
}

func TestEventCounter(t *testing.T) {
	m := telemetry.NewMetrics(nil)

	ev := event.New(1, "cpu", "quiet", event.Rising, 0, 1, 25000)
	require.NoError(t, m.Notify(context.Background(), ev))
	require.NoError(t, m.Notify(context.Background(), ev))
	m.DeviceLevelChanged(3, "fan", 2)

	count, err := testutil.GatherAndCount(m.Registry(), "thermalctl_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(m.Registry(), "thermalctl_device_level_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandlerServesMetrics(t *testing.T) {
	m := telemetry.NewMetrics(staticStatus{})
	h := m.WrapHandler("/teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `thermalctl_http_requests_total{route="/teapot",status="418"} 1`)
	assert.Contains(t, string(body), "thermalctl_shutdown_override 0")
}
