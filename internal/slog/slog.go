// Package slog is a thin logging façade over logrus, in the shape of the
// teacher's pkg/elog: an interface so callers can inject a silent logger
// in tests, and a package-level default for everyday use.
package slog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every SOFS component logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type logrusLogger struct {
	l *logrus.Logger
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.l.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.l.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.l.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.l.Errorf(format, args...) }

// New builds a Logger that writes to w at the given level. Pass
// logrus.WarnLevel to approximate the CLI's "-q" quiet mode.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &logrusLogger{l: l}
}

// Default is the package-level logger used when callers don't supply
// their own, writing to stderr at Info level.
var Default Logger = New(os.Stderr, logrus.InfoLevel)

// Discard is a Logger that drops everything, for use in tests.
var Discard Logger = New(io.Discard, logrus.PanicLevel)
