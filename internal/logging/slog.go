package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// SlogManager manages slog-based logging with optional remote sinks.
type SlogManager struct {
	logger *slog.Logger

	// sinks are closed on Close
	sinks []io.Writer
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Setup initializes the logging system. Text output goes to file, or to
// stdout when file is nil. Every sink receives JSON records, one per write,
// which is the framing a GELF writer expects.
func (m *SlogManager) Setup(file io.Writer, level string, sinks ...io.Writer) {
	opts := handlerOptions(parseLevel(level))

	var handlers []slog.Handler
	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, opts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, opts))
	}

	m.sinks = m.sinks[:0]
	for _, s := range sinks {
		if s == nil {
			continue
		}
		handlers = append(handlers, slog.NewJSONHandler(s, opts))
		m.sinks = append(m.sinks, s)
	}

	m.logger = slog.New(NewMultiHandler(handlers...))
	m.logger.Info("Logging initialized", "level", level, "sinks", len(m.sinks))
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Close closes all sinks that hold a connection.
func (m *SlogManager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	m.sinks = nil
	return errors.Join(errs...)
}
