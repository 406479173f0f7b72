package zone

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrTooFewStates       = errors.ErrorCode("zone_too_few_states")
	ErrThresholdOrder     = errors.ErrorCode("zone_threshold_order")
	ErrPollDelayTable     = errors.ErrorCode("zone_poll_delay_table")
	ErrWindowTable        = errors.ErrorCode("zone_window_table")
	ErrNoSensors          = errors.ErrorCode("zone_no_sensors")
	ErrNoActiveSensors    = errors.ErrorCode("zone_no_active_sensors")
	ErrNegativeDebounce   = errors.ErrorCode("zone_negative_debounce")
	ErrUnknownKind        = errors.ErrorCode("zone_unknown_kind")
	ErrTemperatureUnknown = errors.ErrorCode("zone_temperature_unavailable")
)
