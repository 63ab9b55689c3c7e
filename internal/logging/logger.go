// Package logging builds the charmbracelet loggers handed to the class
// loader, the graph builder and the interpreter.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a JDEOBF_LOG_LEVEL value to a level, defaulting to info.
func ParseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("JDEOBF_LOG_LEVEL")))

	prefix := os.Getenv("JDEOBF_LOG_PREFIX")
	if prefix == "" {
		prefix = "jdeobf "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// JDEOBF_LOG_LEVEL: debug, info, warn, error (default: info)
// JDEOBF_LOG_PREFIX: prefix for log messages (default: "jdeobf ")
// JDEOBF_LOG_TO_FILE: when set to "1", logs to a timestamped file in dir
// instead of stderr
func NewLogger(dir string) *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("JDEOBF_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := filepath.Join(dir, fmt.Sprintf("jdeobf-%s-debug.log", timestamp))

		if err := os.MkdirAll(dir, 0o755); err == nil {
			f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
			if err == nil {
				output = f
			}
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("JDEOBF_LOG_LEVEL") == "debug"
}
