package sensor

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrSensorInactive = errors.ErrorCode("sensor_inactive")
	ErrReadFailed     = errors.ErrSensorUnreadable
	ErrParseFailed    = errors.ErrorCode("sensor_parse_failed")
	ErrWriteFailed    = errors.ErrorCode("sensor_write_failed")
	ErrNoTripPath     = errors.ErrorCode("sensor_no_trip_path")
)
