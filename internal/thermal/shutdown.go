package thermal

import (
	"os/exec"
	"strings"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

// Shutdowner powers the machine off when a zone goes critical.
type Shutdowner interface {
	Shutdown(reason string) error
}

// CommandShutdown runs a command and does not wait for it.
type CommandShutdown struct {
	Command string
}

func (c CommandShutdown) Shutdown(reason string) error {
	errFactory := errors.New()

	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return errFactory.WithMessage(ErrShutdownCmd, "empty shutdown command")
	}

	logger.Error().Str("reason", reason).Str("command", c.Command).Msg("Emergency shutdown")

	cmd := exec.Command(fields[0], fields[1:]...) //nolint:gosec // command comes from the daemon configuration
	if err := cmd.Start(); err != nil {
		return errFactory.Wrap(ErrShutdownCmd, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Error().Err(err).Str("command", c.Command).Msg("Shutdown command failed")
		}
	}()

	return nil
}
