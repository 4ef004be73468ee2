package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Logger zerolog.Logger
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func init() {
	// Quiet until Configure runs; stdout is reserved for rendered output
	Logger = zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
}

// Configure sets up the global logger with the specified level. Output always
// goes to stderr; pretty prints when stderr is a terminal.
func Configure(level LogLevel) {
	ConfigureWriter(level, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
}

// ConfigureWriter is Configure with an explicit destination.
func ConfigureWriter(level LogLevel, out io.Writer, pretty bool) {
	var zeroLevel zerolog.Level
	switch level {
	case LevelDebug:
		zeroLevel = zerolog.DebugLevel
	case LevelInfo:
		zeroLevel = zerolog.InfoLevel
	case LevelWarn:
		zeroLevel = zerolog.WarnLevel
	case LevelError:
		zeroLevel = zerolog.ErrorLevel
	default:
		zeroLevel = zerolog.WarnLevel
	}

	var writer = out
	if pretty {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(writer).Level(zeroLevel).With().Timestamp().Logger()
	log.Logger = Logger
}

// GetLogLevelFromEnv determines log level from XURL_DEBUG, then DEBUG.
// verbose forces debug.
func GetLogLevelFromEnv(verbose bool) LogLevel {
	if verbose {
		return LevelDebug
	}
	for _, name := range []string{"XURL_DEBUG", "DEBUG"} {
		v := strings.ToLower(os.Getenv(name))
		if v == "true" || v == "1" {
			return LevelDebug
		}
	}
	if lvl := LogLevel(strings.ToLower(os.Getenv("XURL_LOG_LEVEL"))); lvl != "" {
		return lvl
	}
	return LevelWarn
}

// Debugf logs a formatted message at debug level
func Debugf(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}

// Infof logs a formatted message at info level
func Infof(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

// Warnf logs a formatted message at warn level
func Warnf(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

// Errorf logs a formatted message at error level
func Errorf(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

// WithField creates a logger with a field
func WithField(key string, value interface{}) zerolog.Logger {
	return Logger.With().Interface(key, value).Logger()
}
