package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	zoneTemperatureDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "zone", "temperature_celsius"),
		"Last computed zone temperature.",
		[]string{"profile", "zone"}, nil,
	)
	zoneStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "zone", "state"),
		"Current zone state, -1 is OFF.",
		[]string{"profile", "zone"}, nil,
	)
	deviceLevelDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "level"),
		"Throttle level applied to a cooling device, -1 before the first request.",
		[]string{"device", "id"}, nil,
	)
	pendingCriticalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "pending_critical_zones"),
		"Zones at CRITICAL waiting on emergency shutdown.",
		nil, nil,
	)
	overrideDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "shutdown_override"),
		"1 while emergency shutdown is suppressed.",
		nil, nil,
	)
)

type statusCollector struct {
	source StatusSource
}

func newStatusCollector(source StatusSource) *statusCollector {
	return &statusCollector{source: source}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- zoneTemperatureDesc
	ch <- zoneStateDesc
	ch <- deviceLevelDesc
	ch <- pendingCriticalDesc
	ch <- overrideDesc
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Status()

	for _, z := range st.Zones {
		ch <- prometheus.MustNewConstMetric(zoneTemperatureDesc, prometheus.GaugeValue,
			float64(z.Temperature)/1000, st.Profile, z.Name)
		ch <- prometheus.MustNewConstMetric(zoneStateDesc, prometheus.GaugeValue,
			float64(z.State), st.Profile, z.Name)
	}
	for _, d := range st.Devices {
		ch <- prometheus.MustNewConstMetric(deviceLevelDesc, prometheus.GaugeValue,
			float64(d.Level), d.Name, strconv.Itoa(d.ID))
	}

	ch <- prometheus.MustNewConstMetric(pendingCriticalDesc, prometheus.GaugeValue, float64(st.PendingCritical))

	override := 0.0
	if st.ShutdownOverride {
		override = 1
	}
	ch <- prometheus.MustNewConstMetric(overrideDesc, prometheus.GaugeValue, override)
}
