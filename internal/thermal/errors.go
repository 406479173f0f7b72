package thermal

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrUnknownProfile = errors.ErrUnknownProfile
	ErrNotStarted     = errors.ErrorCode("thermal_not_started")
	ErrShutdownCmd    = errors.ErrorCode("thermal_shutdown_command")
)
