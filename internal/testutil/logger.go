package testutil

import (
	"io"

	"github.com/johnrirwin/newspanel/internal/logging"
)

// NullLogger returns a logger that discards all output
func NullLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, logging.LevelError)
}
