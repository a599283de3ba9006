package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a service-scoped structured logger. The embedded entry gives
// callers Info/Infof/Warnf/Errorf/Debugf/Fatalf and friends.
type Logger struct {
	*logrus.Entry
}

// New creates a JSON logger tagged with the service name. LOG_LEVEL
// (debug, info, warn, error) controls verbosity; LOG_FORMAT=text switches to
// the human-readable formatter for local runs.
func New(service string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &Logger{Entry: base.WithField("service", service)}
}

// WithFields returns a child logger carrying extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a child logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}
