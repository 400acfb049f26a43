package logger

import (
	"sync"
	"time"
)

// LimitedLogger is a Writer that drops messages printed too frequently.
type LimitedLogger struct {
	w           Writer
	interval    time.Duration
	mutex       sync.Mutex
	lastPrinted time.Time
}

// NewLimitedLogger allocates a LimitedLogger.
func NewLimitedLogger(w Writer, interval time.Duration) *LimitedLogger {
	return &LimitedLogger{
		w:        w,
		interval: interval,
	}
}

// Log implements Writer.
func (l *LimitedLogger) Log(level Level, format string, args ...interface{}) {
	now := time.Now()
	l.mutex.Lock()
	if now.Sub(l.lastPrinted) >= l.interval {
		l.lastPrinted = now
		l.w.Log(level, format, args...)
	}
	l.mutex.Unlock()
}
