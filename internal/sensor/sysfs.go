package sensor

import (
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/thermalctl/internal/errors"
)

const defaultFilePerm = 0o644

// Sysfs reads and writes integer values in sysfs/hwmon style files, where
// temperatures are already in millidegrees.
type Sysfs struct{}

func (Sysfs) Read(handle string) (Temperature, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(handle)
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errFactory.Wrap(ErrParseFailed, err)
	}

	return Temperature(v), nil
}

func (Sysfs) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (Sysfs) Write(path string, value int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(value)), defaultFilePerm); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}
	return nil
}
