package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the root logger every component derives from via
// With().Str("component", ...). Format "pretty" selects the console
// writer for local runs; anything else emits JSON for log shipping.
// Unknown levels fall back to info.
func Setup(level, format string) zerolog.Logger {
	var writer io.Writer

	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	} else {
		writer = os.Stdout
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	log := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return log
}
