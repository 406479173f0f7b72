package scheduler

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrNoRoute     = errors.ErrorCode("scheduler_no_route")
	ErrInboxClosed = errors.ErrorCode("scheduler_inbox_closed")
	ErrPanic       = errors.ErrorCode("scheduler_cycle_panic")
)
