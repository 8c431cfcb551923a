// Package logging provides the leveled line logger shared by orchestra components.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

type Level int

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
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a config string to a Level. Unknown values default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes "RFC3339 LEVEL component: message" lines.
type Logger struct {
	out       *log.Logger
	level     Level
	component string
}

func New(w io.Writer, level Level) *Logger {
	return &Logger{out: log.New(w, "", 0), level: level}
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *Logger {
	return New(io.Discard, LevelError+1)
}

// With returns a copy tagged with the given component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return Discard().With(component)
	}
	cp := *l
	cp.component = component
	return &cp
}

func (l *Logger) Level() Level { return l.level }

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component == "" {
		l.out.Printf("%s %s %s", time.Now().Format(time.RFC3339), level, msg)
		return
	}
	l.out.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}
