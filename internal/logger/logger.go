package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	APP     = "APP"
	CHAT    = "CHAT"
	CONFIG  = "CONFIG"
	HISTORY = "HISTORY"
	PHANTOM = "PHANTOM"
	SCROLL  = "SCROLL"
	STATUS  = "STATUS"
	STREAM  = "STREAM"
)

// Options selects where and how the global logger writes.
type Options struct {
	Level  string
	Format string // "console" or "json"
	File   string // optional rotating log file
}

// Init configures the global zerolog logger and returns a closer for the file sink, if any.
func Init(opts Options) io.Closer {
	zerolog.SetGlobalLevel(parseLevel(opts.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}

// With returns a child of the global logger tagged with a namespace.
func With(namespace string) zerolog.Logger {
	return log.With().Str("namespace", namespace).Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
