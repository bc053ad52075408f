// Package logx provides the small structured-ish logging wrapper used
// throughout llmqueue. It follows the same shape as a stdlib *log.Logger
// wrapper: a named Logger for components that want a prefix, plus a set of
// package-level convenience functions backed by a default instance for
// call sites that don't carry one around.
package logx

import (
	"fmt"
	"log"
	"os"
)

// Level is the severity of a log line.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a named logger. The name is typically a component or model_id,
// so log lines can be attributed without a full structured-logging
// framework.
type Logger struct {
	name   string
	logger *log.Logger
	min    Level
}

// NewLogger returns a Logger that writes to stderr under the given name.
func NewLogger(name string) *Logger {
	return &Logger{
		name:   name,
		logger: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		min:    LevelInfo,
	}
}

// SetMinLevel adjusts the minimum level this logger will emit. Debug is
// suppressed by default.
func (l *Logger) SetMinLevel(level Level) {
	l.min = level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.name != "" {
		l.logger.Printf("[%s] %s: %s", level, l.name, msg)
		return
	}
	l.logger.Printf("[%s] %s", level, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Errorf logs an error-level message and returns it as an error, so call
// sites can write `return logx.Errorf(...)` in one line.
func (l *Logger) Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	l.log(LevelError, "%s", err)
	return err
}

// Wrap logs err wrapped with msg at error level and returns the wrapped
// error (nil if err is nil, so it's safe to call unconditionally in a
// defer/cleanup path).
func (l *Logger) Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	l.log(LevelError, "%s", wrapped)
	return wrapped
}

var defaultLogger = NewLogger("")

// Debugf, Infof, Warnf, Errorf and Wrap are package-level convenience
// wrappers around a default unnamed Logger, for call sites that don't hold
// one of their own.
func Debugf(format string, args ...interface{}) { defaultLogger.Debug(format, args...) }
func Infof(format string, args ...interface{})  { defaultLogger.Info(format, args...) }
func Warnf(format string, args ...interface{})  { defaultLogger.Warn(format, args...) }
func Errorf(format string, args ...interface{}) error {
	return defaultLogger.Errorf(format, args...)
}
func Wrap(err error, msg string) error {
	return defaultLogger.Wrap(err, msg)
}
