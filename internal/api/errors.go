package api

import (
	"net/http"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/scheduler"
	"codeberg.org/mutker/thermalctl/internal/thermal"
)

const (
	ErrBadRequest   = errors.ErrorCode("api_bad_request")
	ErrServerFailed = errors.ErrorCode("api_server_failed")
)

// statusFor maps an error code to the HTTP status returned to clients.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case ErrBadRequest, errors.ErrInvalidArgument:
		return http.StatusBadRequest
	case thermal.ErrUnknownProfile, scheduler.ErrNoRoute, errors.ErrResourceNotFound:
		return http.StatusNotFound
	case thermal.ErrNotStarted, errors.ErrPipelineClosed:
		return http.StatusConflict
	case errors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
