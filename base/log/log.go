// Package log provides leveled logging for all quietdns packages.
//
// Anti-Importing-Loop: everything imports log, log imports nothing of ours.
package log

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Severity describes a log level.
type Severity uint32

// Log Levels.
const (
	TraceLevel    Severity = 1
	DebugLevel    Severity = 2
	InfoLevel     Severity = 3
	WarningLevel  Severity = 4
	ErrorLevel    Severity = 5
	CriticalLevel Severity = 6
)

var logLevel atomic.Uint32

func init() {
	logLevel.Store(uint32(InfoLevel))
	setupSLog(InfoLevel)
}

// SetLogLevel sets a new log level.
func SetLogLevel(level Severity) {
	logLevel.Store(uint32(level))
	slog.SetLogLoggerLevel(level.toSLogLevel())
}

// GetLogLevel returns the current log level.
func GetLogLevel() Severity {
	return Severity(logLevel.Load())
}

func (s Severity) toSLogLevel() slog.Level {
	switch s {
	case TraceLevel, DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarningLevel:
		return slog.LevelWarn
	case ErrorLevel, CriticalLevel:
		return slog.LevelError
	}
	// Failed to convert, return default log level.
	return slog.LevelWarn
}

// String returns the name of the log level.
func (s Severity) String() string {
	switch s {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarningLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case CriticalLevel:
		return "critical"
	default:
		return "none"
	}
}

func fastcheck(level Severity) bool {
	return uint32(level) >= logLevel.Load()
}

// Trace is used to log tiny steps.
func Trace(msg string) {
	if fastcheck(TraceLevel) {
		slog.Debug(msg)
	}
}

// Tracef is used to log tiny steps.
func Tracef(format string, things ...interface{}) {
	if fastcheck(TraceLevel) {
		slog.Debug(fmt.Sprintf(format, things...))
	}
}

// Debug is used to log minor errors or unexpected events. These occurrences
// are usually not worth mentioning in itself, but they might hint at a bigger
// problem.
func Debug(msg string) {
	if fastcheck(DebugLevel) {
		slog.Debug(msg)
	}
}

// Debugf is used to log minor errors or unexpected events. These occurrences
// are usually not worth mentioning in itself, but they might hint at a bigger
// problem.
func Debugf(format string, things ...interface{}) {
	if fastcheck(DebugLevel) {
		slog.Debug(fmt.Sprintf(format, things...))
	}
}

// Info is used to log mildly significant events. Should be used to inform
// about somewhat bigger or user affecting events that happen.
func Info(msg string) {
	if fastcheck(InfoLevel) {
		slog.Info(msg)
	}
}

// Infof is used to log mildly significant events. Should be used to inform
// about somewhat bigger or user affecting events that happen.
func Infof(format string, things ...interface{}) {
	if fastcheck(InfoLevel) {
		slog.Info(fmt.Sprintf(format, things...))
	}
}

// Warning is used to log (potentially) bad events, but nothing broke (even a
// little) and there is no need to panic yet.
func Warning(msg string) {
	if fastcheck(WarningLevel) {
		slog.Warn(msg)
	}
}

// Warningf is used to log (potentially) bad events, but nothing broke (even a
// little) and there is no need to panic yet.
func Warningf(format string, things ...interface{}) {
	if fastcheck(WarningLevel) {
		slog.Warn(fmt.Sprintf(format, things...))
	}
}

// Error is used to log errors that break or impair functionality. The
// task/process may have to be aborted and tried again later. The system is
// still operational.
func Error(msg string) {
	if fastcheck(ErrorLevel) {
		slog.Error(msg)
	}
}

// Errorf is used to log errors that break or impair functionality. The
// task/process may have to be aborted and tried again later. The system is
// still operational.
func Errorf(format string, things ...interface{}) {
	if fastcheck(ErrorLevel) {
		slog.Error(fmt.Sprintf(format, things...))
	}
}

// Criticalf is used to log events that completely break the system. Operation
// cannot continue. User/Admin must be informed.
func Criticalf(format string, things ...interface{}) {
	if fastcheck(CriticalLevel) {
		slog.Error(fmt.Sprintf(format, things...))
	}
}
