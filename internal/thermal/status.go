package thermal

import "sort"

type ZoneStatus struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Push            bool   `json:"push"`
	State           int    `json:"state"`
	Temperature     int    `json:"temperature"`
	PendingCritical bool   `json:"pendingCritical"`
}

type DeviceStatus struct {
	ID       int         `json:"id"`
	Name     string      `json:"name"`
	Level    int         `json:"level"`
	Value    int         `json:"value"`
	Requests map[int]int `json:"requests"`
}

// Status is a point-in-time view of the control plane.
type Status struct {
	Profile          string         `json:"profile"`
	Profiles         []string       `json:"profiles"`
	PendingCritical  int            `json:"pendingCritical"`
	ShutdownOverride bool           `json:"shutdownOverride"`
	Zones            []ZoneStatus   `json:"zones"`
	Devices          []DeviceStatus `json:"devices"`
}

func (s *System) Status() Status {
	st := Status{
		PendingCritical:  s.critical.Count(),
		ShutdownOverride: s.override.Load(),
		Zones:            []ZoneStatus{},
		Devices:          []DeviceStatus{},
	}

	for name := range s.model.Profiles {
		st.Profiles = append(st.Profiles, name)
	}
	sort.Strings(st.Profiles)

	if snap := s.current.Load(); snap != nil {
		st.Profile = snap.profile.Name
		for _, z := range snap.zones {
			st.Zones = append(st.Zones, ZoneStatus{
				ID:              z.ID(),
				Name:            z.Name(),
				Kind:            z.Kind().String(),
				Push:            z.Push(),
				State:           int(z.State()),
				Temperature:     int(z.Temperature()),
				PendingCritical: s.critical.isPending(z.ID()),
			})
		}
	}

	for _, d := range s.model.Devices {
		level := d.Level()
		st.Devices = append(st.Devices, DeviceStatus{
			ID:       d.ID(),
			Name:     d.Name(),
			Level:    level,
			Value:    d.ThrottleValue(level),
			Requests: d.Requests(),
		})
	}
	sort.Slice(st.Devices, func(i, j int) bool { return st.Devices[i].ID < st.Devices[j].ID })

	return st
}
