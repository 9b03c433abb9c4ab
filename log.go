package thermabridge

import (
	"log"
	"os"
	"sync/atomic"
)

var (
	logger       atomic.Pointer[log.Logger]
	debugEnabled atomic.Bool
)

func init() {
	logger.Store(log.New(os.Stderr, "", log.LstdFlags))
}

// SetLogger replaces the logger used by channels, workers and sessions. A nil
// logger restores the default, which writes to stderr.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(os.Stderr, "", log.LstdFlags)
	}
	logger.Store(l)
}

// SetDebug enables or disables [DEBUG] output.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

func logInfof(format string, args ...interface{}) {
	logger.Load().Printf("[INFO] "+format, args...)
}

func logWarnf(format string, args ...interface{}) {
	logger.Load().Printf("[WARN] "+format, args...)
}

func logErrorf(format string, args ...interface{}) {
	logger.Load().Printf("[ERROR] "+format, args...)
}

func logDebugf(format string, args ...interface{}) {
	if debugEnabled.Load() {
		logger.Load().Printf("[DEBUG] "+format, args...)
	}
}
