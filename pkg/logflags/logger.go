package logflags

import (
	"github.com/sirupsen/logrus"
)

// Logger is what every layer of dbgval logs through.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Error(args ...interface{})
}

// Fields are attached to every message of a Logger.
type Fields map[string]interface{}

type entryLogger struct {
	*logrus.Entry
}

func (l entryLogger) WithField(key string, value interface{}) Logger {
	return entryLogger{l.Entry.WithField(key, value)}
}

func (l entryLogger) WithError(err error) Logger {
	return entryLogger{l.Entry.WithError(err)}
}

// newLogger returns a logger for layer writing to the current log
// destination. Messages below the error level are dropped unless the layer
// was enabled.
func newLogger(layer string) Logger {
	base := logrus.New()
	base.Formatter = formatter
	if logOut != nil {
		base.Out = logOut
	}
	base.Level = logrus.ErrorLevel
	if Enabled(layer) {
		base.Level = logrus.DebugLevel
	}
	return entryLogger{base.WithFields(logrus.Fields{"layer": layer})}
}
