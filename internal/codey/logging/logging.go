// Package logging wraps logrus with a module tag, matching the
// module-scoped logger idiom used across this codebase's services (each
// subsystem logs under its own name so a single logger.Info call can be
// grepped back to its component).
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base     = logrus.New()
	initOnce sync.Once
)

// Configure sets the global log level and format. The cli root command
// calls it before any subcommand runs; safe to call multiple times, only
// the first call takes effect.
func Configure(level string, jsonFormat bool) {
	initOnce.Do(func() {
		base.SetOutput(os.Stderr)
		if jsonFormat {
			base.SetFormatter(&logrus.JSONFormatter{})
		} else {
			base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		base.SetLevel(lvl)
	})
}

// Logger is a module-scoped wrapper around a logrus.Entry.
type Logger struct {
	entry *logrus.Entry
}

// For returns the Logger for the named module.
func For(module string) *Logger {
	return &Logger{entry: base.WithField("module", module)}
}

func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
