package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger creates the process logger. Production emits JSON; other
// environments use the text formatter with full timestamps.
func NewLogger(logLevel string, environment string) *logrus.Logger {
	return NewLoggerWithOutput(logLevel, environment, os.Stdout)
}

// NewLoggerWithOutput is NewLogger writing to out.
func NewLoggerWithOutput(logLevel string, environment string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(ParseLogrusLevel(logLevel))

	if strings.EqualFold(environment, "production") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return logger
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithCycle returns an entry tagged with the symbol and cycle id.
func WithCycle(logger *logrus.Logger, symbol, cycleID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"cycle_id": cycleID,
	})
}
