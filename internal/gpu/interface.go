package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// Device is the subset of nvml.Device used for sensing and cooling.
type Device interface {
	GetName() (string, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)

	GetNumFans() (int, nvml.Return)
	GetMinMaxFanSpeed() (int, int, nvml.Return)
	SetFanSpeed_v2(fan int, speed int) nvml.Return
	SetDefaultFanSpeed_v2(fan int) nvml.Return

	GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return)
	GetPowerManagementDefaultLimit() (uint32, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	SetPowerManagementLimit(limit uint32) nvml.Return
}

// Library opens devices by index.
type Library interface {
	Initialize() error
	Shutdown() error
	GetDeviceCount() (int, error)
	GetDevice(index int) (Device, error)
}

// Domain types for type safety and validation
type (
	FanSpeed   int
	PowerLimit int

	FanSpeedLimits struct {
		Min, Max FanSpeed
	}

	PowerLimits struct {
		Min, Max, Default PowerLimit
	}
)

// restorer hands a device back to its firmware defaults.
type restorer interface {
	Restore() error
}
