package binary

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logOnce  sync.Once
	logEntry *logrus.Entry
)

// log returns the package logger, built lazily exactly once. Backends log
// best-effort degradation (missing symbol tables, truncated sections) here
// instead of failing the load.
func log() *logrus.Entry {
	logOnce.Do(func() {
		logEntry = logrus.StandardLogger().WithField("pkg", "binary")
	})
	return logEntry
}
