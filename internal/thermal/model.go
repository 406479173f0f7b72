package thermal

import (
	"time"

	"codeberg.org/mutker/thermalctl/internal/config"
	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/zone"
)

// Profile is a named set of zones and the bindings active with them.
type Profile struct {
	Name     string
	Zones    []*zone.Zone
	Bindings []cooling.Binding
}

// Model holds everything built from configuration. Maps are not modified
// after Build returns.
type Model struct {
	Sensors  map[string]*sensor.Sensor
	Devices  map[int]*cooling.Device
	Profiles map[string]*Profile
}

// Build turns the loaded configuration into live objects. Defective entries
// are logged and left out or created inactive; Build itself does not fail.
func Build(cfg *config.Config, io sensor.IO, registry *cooling.Registry) *Model {
	log := logger.New("thermal")

	m := &Model{
		Sensors:  make(map[string]*sensor.Sensor, len(cfg.Sensors)),
		Devices:  make(map[int]*cooling.Device, len(cfg.Devices)),
		Profiles: make(map[string]*Profile, len(cfg.Profiles)),
	}

	for _, sc := range cfg.Sensors {
		if _, dup := m.Sensors[sc.Name]; dup {
			log.Warn().Str("sensor", sc.Name).Msg("Duplicate sensor ignored")
			continue
		}
		s := sensor.New(sensor.Config{
			Name:         sc.Name,
			Path:         sc.Path,
			Offset:       sensor.Temperature(sc.Offset),
			TripLowPath:  sc.TripLowPath,
			TripHighPath: sc.TripHighPath,
		})
		if !s.Init(io) {
			log.Warn().Str("sensor", sc.Name).Str("path", sc.Path).Msg("Sensor source unavailable, deactivated")
		}
		m.Sensors[sc.Name] = s
	}

	for _, dc := range cfg.Devices {
		if _, dup := m.Devices[dc.ID]; dup {
			log.Warn().Int("device_id", dc.ID).Msg("Duplicate cooling device ignored")
			continue
		}
		dev, err := registry.NewDeviceFromConfig(cooling.Config{
			ID:             dc.ID,
			Name:           dc.Name,
			Driver:         dc.Driver,
			Path:           dc.Path,
			Handler:        dc.Handler,
			ThrottleValues: dc.ThrottleValues,
		})
		if err != nil {
			log.Error().Err(err).Int("device_id", dc.ID).Str("device", dc.Name).Msg("Cooling device deactivated")
			continue
		}
		m.Devices[dc.ID] = dev
	}

	for _, pc := range cfg.Profiles {
		m.Profiles[pc.Name] = buildProfile(pc, m.Sensors, log)
	}

	return m
}

func buildProfile(pc config.ProfileConfig, sensors map[string]*sensor.Sensor, log logger.Logger) *Profile {
	p := &Profile{Name: pc.Name}
	seen := make(map[int]bool, len(pc.Zones))

	for _, zc := range pc.Zones {
		if seen[zc.ID] {
			log.Warn().Str("profile", pc.Name).Int("zone_id", zc.ID).Msg("Duplicate zone ignored")
			continue
		}
		seen[zc.ID] = true

		kind, err := zone.ParseKind(zc.Kind)
		if err != nil {
			log.Error().Err(err).Str("profile", pc.Name).Int("zone_id", zc.ID).Msg("Zone ignored")
			continue
		}

		members := make([]zone.Member, 0, len(zc.Sensors))
		for _, ref := range zc.Sensors {
			s, ok := sensors[ref.Name]
			if !ok {
				log.Warn().Str("zone", zc.Name).Str("sensor", ref.Name).Msg("Zone refers to unknown sensor")
				continue
			}
			members = append(members, zone.Member{Sensor: s, Weights: ref.Weights, Orders: ref.Orders})
		}

		p.Zones = append(p.Zones, zone.New(zone.Config{
			ID:                zc.ID,
			Name:              zc.Name,
			Profile:           pc.Name,
			Kind:              kind,
			Members:           members,
			Thresholds:        temperatures(zc.Thresholds),
			PollDelays:        millis(zc.PollDelaysMs),
			Windows:           millis(zc.WindowsMs),
			Debounce:          sensor.Temperature(zc.Debounce),
			Offset:            sensor.Temperature(zc.Offset),
			ErrorCorrection:   sensor.Temperature(zc.ErrorCorrection),
			Push:              zc.Push,
			EmergencyShutdown: zc.EmergencyShutdown,
		}))
	}

	for _, bc := range pc.Bindings {
		b := cooling.Binding{ZoneID: bc.Zone}
		for _, bd := range bc.Devices {
			b.Devices = append(b.Devices, cooling.BoundDevice{
				DeviceID:       bd.Device,
				States:         bd.States,
				ThrottleMask:   bd.ThrottleMask,
				DethrottleMask: bd.DethrottleMask,
			})
		}
		p.Bindings = append(p.Bindings, b)
	}

	return p
}

func temperatures(vs []int) []sensor.Temperature {
	out := make([]sensor.Temperature, len(vs))
	for i, v := range vs {
		out[i] = sensor.Temperature(v)
	}
	return out
}

func millis(vs []int) []time.Duration {
	if len(vs) == 0 {
		return nil
	}
	out := make([]time.Duration, len(vs))
	for i, v := range vs {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}
