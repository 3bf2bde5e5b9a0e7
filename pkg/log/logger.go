package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger behind a printf-style surface so callers do
// not depend on the third-party module directly.
type Logger struct {
	zl zerolog.Logger
}

func NewLogger(level zerolog.Level) *Logger {
	zl := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
	return &Logger{zl: zl}
}

// NewConsoleLogger returns a logger with human-friendly output for local
// development.
func NewConsoleLogger(level zerolog.Level) *Logger {
	l := NewLogger(level)
	l.zl = l.zl.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	return l
}

func (l *Logger) SetLevel(level zerolog.Level) {
	l.zl = l.zl.Level(level)
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().CallerSkipFrame(2).Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().CallerSkipFrame(2).Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warn().CallerSkipFrame(2).Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().CallerSkipFrame(2).Msgf(format, args...)
}

func (l *Logger) Fatal(format string, args ...any) {
	l.zl.Fatal().CallerSkipFrame(2).Msgf(format, args...)
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Global logger instance
var globalLogger *Logger

func InitLogger(level zerolog.Level) {
	globalLogger = NewLogger(level)
}

func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(zerolog.InfoLevel)
	}
	return globalLogger
}

// Convenience functions
func Debug(format string, args ...any) {
	GetLogger().Debug(format, args...)
}

func Info(format string, args ...any) {
	GetLogger().Info(format, args...)
}

func Warn(format string, args ...any) {
	GetLogger().Warn(format, args...)
}

func Error(format string, args ...any) {
	GetLogger().Error(format, args...)
}

func Fatal(format string, args ...any) {
	GetLogger().Fatal(format, args...)
}
