package notify

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrNoBrokers    = errors.ErrorCode("notify_no_brokers")
	ErrEncodeFailed = errors.ErrorCode("notify_encode_failed")
	ErrWriteFailed  = errors.ErrorCode("notify_write_failed")
	ErrBreakerOpen  = errors.ErrorCode("notify_breaker_open")
)
