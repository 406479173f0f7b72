package sensor_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/sensor/sensortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorInitDeactivatesMissingSource(t *testing.T) {
	io := sensortest.New()
	s := sensor.New(sensor.Config{Name: "cpu", Path: "/missing"})

	assert.False(t, s.Init(io))
	assert.False(t, s.Active())

	_, err := s.Read(io)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrSensorInactive))
}

func TestSensorReadAppliesOffset(t *testing.T) {
	io := sensortest.New()
	io.Set("/cpu", 41000)
	s := sensor.New(sensor.Config{Name: "cpu", Path: "/cpu", Offset: -1000})

	require.True(t, s.Init(io))
	v, err := s.Read(io)
	require.NoError(t, err)
	assert.Equal(t, sensor.Temperature(40000), v)
	assert.Equal(t, sensor.Temperature(40000), s.Value())
}

func TestSensorReadFailureKeepsLastValue(t *testing.T) {
	io := sensortest.New()
	io.Set("/cpu", 30000)
	s := sensor.New(sensor.Config{Name: "cpu", Path: "/cpu"})
	require.True(t, s.Init(io))
	assert.False(t, s.HasValue())
	_, err := s.Read(io)
	require.NoError(t, err)
	assert.True(t, s.HasValue())

	io.Fail("/cpu", true)
	_, err = s.Read(io)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, sensor.ErrReadFailed))
	assert.Equal(t, sensor.Temperature(30000), s.Value())
}

func TestSensorSetTrips(t *testing.T) {
	io := sensortest.New()
	io.Set("/skin", 0)
	s := sensor.New(sensor.Config{
		Name: "skin", Path: "/skin", Offset: 500,
		TripLowPath: "/skin/low", TripHighPath: "/skin/high",
	})
	require.True(t, s.Init(io))

	require.NoError(t, s.SetTrips(io, 20000, 30000))
	assert.Equal(t, []int{19500}, io.Writes("/skin/low"))
	assert.Equal(t, []int{29500}, io.Writes("/skin/high"))

	plain := sensor.New(sensor.Config{Name: "plain", Path: "/skin"})
	assert.True(t, errors.HasCode(plain.SetTrips(io, 0, 1), sensor.ErrNoTripPath))
}

func TestSysfs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temp1_input")
	require.NoError(t, os.WriteFile(path, []byte("45250\n"), 0o600))

	var io sensor.Sysfs
	assert.True(t, io.Exists(path))
	assert.False(t, io.Exists(filepath.Join(dir, "nope")))
	assert.False(t, io.Exists(""))

	v, err := io.Read(path)
	require.NoError(t, err)
	assert.Equal(t, sensor.Temperature(45250), v)

	require.NoError(t, io.Write(path, 12))
	v, err = io.Read(path)
	require.NoError(t, err)
	assert.Equal(t, sensor.Temperature(12), v)

	require.NoError(t, os.WriteFile(path, []byte("hot"), 0o600))
	_, err = io.Read(path)
	assert.True(t, errors.HasCode(err, sensor.ErrParseFailed))
}

func TestRouter(t *testing.T) {
	files := sensortest.New()
	gpu := sensortest.New()
	files.Set("/sys/temp", 1000)
	gpu.Set("nvml:0", 2000)

	r := sensor.NewRouter(files)
	r.Handle("nvml", gpu)

	v, err := r.Read("nvml:0")
	require.NoError(t, err)
	assert.Equal(t, sensor.Temperature(2000), v)

	v, err = r.Read("/sys/temp")
	require.NoError(t, err)
	assert.Equal(t, sensor.Temperature(1000), v)

	assert.True(t, r.Exists("nvml:0"))
	assert.False(t, r.Exists("other:1"))
}
