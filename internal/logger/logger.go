package logger

import (
	"sync"
)

// Log levels used across the application.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process logger. The first call builds it with the given
// level and JSON log file (empty for stdout only); later calls return the
// same instance.
func Get(level, file string) *Logger {
	once.Do(func() {
		l, err := New(level, file)
		if err != nil {
			l = newZapLogger(level)
			l.Warnw("log file unavailable, logging to stdout only", "file", file, "err", err)
		}
		globalLogger = l
	})
	return globalLogger
}
