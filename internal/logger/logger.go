package logger

import (
	"github.com/hashicorp/go-hclog"
)

// New returns the root logger for a run. Component loggers hang off it via
// Named, so every line carries its component prefix.
func New(level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "coverscout",
		Level: hclog.LevelFromString(level),
	})
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() hclog.Logger {
	return hclog.NewNullLogger()
}
