package cooling

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrNoThrottleValues = errors.ErrorCode("cooling_no_throttle_values")
	ErrControlPath      = errors.ErrorCode("cooling_control_path_missing")
	ErrMissingHandler   = errors.ErrorCode("cooling_handler_missing")
	ErrUnknownDriver    = errors.ErrUnknownDriver
	ErrDriverFailed     = errors.ErrorCode("cooling_driver_failed")
	ErrMaskLength       = errors.ErrorCode("cooling_mask_length")
	ErrDeviceStates     = errors.ErrorCode("cooling_device_states")
)
