package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var (
	verbose     atomic.Bool
	disableLogs atomic.Bool
	forceStdErr atomic.Bool

	mu        sync.Mutex
	stdout    io.Writer = os.Stdout
	stderr    io.Writer = os.Stderr
	logPrefix           = map[int]string{
		levelDebug: "\033[37m[DBG]\033[0m", // White
		levelInfo:  "\033[36m[INF]\033[0m", // Cyan
		levelWarn:  "\033[33m[WRN]\033[0m", // Yellow
		levelError: "\033[31m[ERR]\033[0m", // Red
	}
)

// SetVerbose sets the logging verbosity. If true, all log levels are displayed.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// IsVerbose returns true if verbose logging is enabled.
func IsVerbose() bool {
	return verbose.Load()
}

// DisableLogs disables all logging.
func DisableLogs() {
	disableLogs.Store(true)
}

// IsDisabled returns true if logging is disabled.
func IsDisabled() bool {
	return disableLogs.Load()
}

// SetForceStdErr sends all levels to the error stream.
func SetForceStdErr(v bool) {
	forceStdErr.Store(v)
}

// SetOutput replaces the destination streams. Passing nil keeps the current one.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// Debugf logs a debug message if verbose is true.
func Debugf(format string, args ...interface{}) {
	if verbose.Load() {
		logMessage(levelDebug, format, args...)
	}
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	logMessage(levelInfo, format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	logMessage(levelWarn, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	logMessage(levelError, format, args...)
}

// Fatalf logs an error message and exits the program.
func Fatalf(format string, args ...interface{}) {
	logMessage(levelError, format, args...)
	os.Exit(1)
}

// logMessage formats and writes a log message with the specified log level.
func logMessage(level int, format string, args ...interface{}) {
	if disableLogs.Load() {
		return
	}
	output := logPrefix[level] + " " + fmt.Sprintf(format, args...) + "\n"

	mu.Lock()
	defer mu.Unlock()
	if forceStdErr.Load() || level == levelError {
		_, _ = io.WriteString(stderr, output)
	} else {
		_, _ = io.WriteString(stdout, output)
	}
}
