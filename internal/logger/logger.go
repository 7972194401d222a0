package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New constructs a zerolog.Logger from the configured level and format.
// Unknown levels fall back to info; format "text" selects the console writer,
// anything else emits JSON.
func New(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if format == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = os.Stderr
		base = zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	}
	return base
}
