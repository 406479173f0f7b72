package errors_test

import (
	stderrors "errors"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestFactoryMessages(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrUnknownProfile)
	assert.Equal(t, "Unknown thermal profile", err.Error())
	assert.Equal(t, errors.ErrUnknownProfile, err.Code())

	err = errFactory.WithData(errors.ErrUnknownProfile, "boost")
	assert.Equal(t, "Unknown thermal profile: boost", err.Error())

	err = errFactory.WithMessage(errors.ErrInvalidConfig, "bad thresholds")
	assert.Equal(t, "bad thresholds", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("no such file")
	err := errors.New().Wrap(errors.ErrSensorUnreadable, cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "Sensor could not be read: no such file", err.Error())
	assert.Equal(t, errors.ErrSensorUnreadable, errors.CodeOf(err))
}

func TestHasCode(t *testing.T) {
	inner := errors.New().New(errors.ErrDeviceInactive)
	outer := errors.New().Wrap(errors.ErrOperationFailed, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrDeviceInactive))
	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.False(t, errors.HasCode(outer, errors.ErrUnknownDriver))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(stderrors.New("plain")))
}
