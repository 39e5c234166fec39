package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger builds the process logger. format "console" gives human-readable
// output for local runs; anything else is JSON. The logger also becomes the
// default for log.Ctx on contexts that carry none.
func InitLogger(level, format, service string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}
	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	zerolog.DefaultContextLogger = &logger
	return logger
}

func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
