package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/stasis-sh/stasis/pkg/config"
)

const (
	LOG_TIME_FORMAT = time.TimeOnly
	LOG_CALLER_SKIP = 3 // stack frame depth
)

type LineInfoHook struct{}

func (h LineInfoHook) Run(e *zerolog.Event, l zerolog.Level, msg string) {
	if l >= zerolog.ErrorLevel {
		e.Caller(LOG_CALLER_SKIP)
	}
}

func init() {
	InitLogger(config.Global.LogLevel)
}

// InitLogger sets up the global logger. An unparsable or empty level
// disables logging entirely.
func InitLogger(level string) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.Disabled
	}

	var consoleWriter io.Writer = zerolog.ConsoleWriter{
		Out:          os.Stderr,
		TimeFormat:   LOG_TIME_FORMAT,
		TimeLocation: time.Local,
	}

	log.Logger = zerolog.New(consoleWriter).
		Level(logLevel).
		With().
		Timestamp().
		Logger().
		Hook(LineInfoHook{})
}
