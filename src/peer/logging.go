package peer

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// loggerFactory routes pion's internal logging into logrus.
type loggerFactory struct {
	entry *logrus.Entry
}

// NewLoggerFactory returns a pion LoggerFactory writing to entry, with the
// pion scope as a field.
func NewLoggerFactory(entry *logrus.Entry) logging.LoggerFactory {
	return &loggerFactory{entry: entry}
}

// NewLogger implements logging.LoggerFactory
func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{entry: f.entry.WithField("scope", scope)}
}

type leveledLogger struct {
	entry *logrus.Entry
}

func (l *leveledLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *leveledLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *leveledLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l *leveledLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *leveledLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *leveledLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
