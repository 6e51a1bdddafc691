//go:build !linux

package raspi

import (
	"errors"
	"log/slog"
)

func ConfigureAgentProcess(logger *slog.Logger) error {
	return errors.ErrUnsupported
}
