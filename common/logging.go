package common

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. It is reconfigured at bootstrap by
// InitLogging; a subsystem that logs derives a component logger from it
// rather than constructing its own zerolog.Logger.
var Log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// InitLogging reconfigures Log for the given verbosity. main calls it
// before constructing the buffer pool, index, or lock manager, and again
// once the config file's verbosity is known.
func InitLogging(verbose bool) {
	var writer = zerolog.ConsoleWriter{Out: os.Stderr}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	Log = zerolog.New(writer).With().Timestamp().Logger().Level(level)
}

// Component returns a logger tagged with the given subsystem name, e.g.
// common.Component("buffer_pool").
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
