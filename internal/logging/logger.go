package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Both processes share this interface so components never depend on a
// concrete sink.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
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

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// componentLogger writes timestamped, component-scoped lines to a single sink.
type componentLogger struct {
	component string
	level     Level
	out       io.Writer
	mu        *sync.Mutex
}

var (
	defaultMu    sync.Mutex
	defaultLevel = LevelInfo
)

// SetDefaultLevel adjusts the minimum level of loggers created afterwards.
func SetDefaultLevel(level Level) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLevel = level
}

// NewComponentLogger creates a logger scoped to a component, writing to stderr.
func NewComponentLogger(component string) Logger {
	defaultMu.Lock()
	level := defaultLevel
	defaultMu.Unlock()
	return &componentLogger{
		component: component,
		level:     level,
		out:       os.Stderr,
		mu:        &defaultMu,
	}
}

// NewWriterLogger creates a component logger with an explicit sink and level.
// Tests use this to capture output.
func NewWriterLogger(component string, level Level, out io.Writer) Logger {
	return &componentLogger{component: component, level: level, out: out, mu: &sync.Mutex{}}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	component := l.component
	if component == "" {
		component = "courier"
	}
	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s [%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, component, message)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, Sanitize(line))
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// placeholder replaces credential material in emitted log lines.
const placeholder = "[REDACTED]"

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	credentialPattern  = regexp.MustCompile(
		`(?i)((?:"|')?(?:token|secret|password|signing[_-]?secret|api[_-]?key)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	// Slack bot/user tokens and GitHub personal access tokens have
	// recognizable shapes even outside key=value pairs.
	standaloneSecretPattern = regexp.MustCompile(
		`(xox[a-z]-[A-Za-z0-9\-]{10,}|ghp_[A-Za-z0-9]{16,}|github_pat_[A-Za-z0-9_]{20,})`,
	)
)

// Sanitize removes credential material from a log line. Task prompts are
// user-supplied and may quote tokens back at us, so every line passes
// through here before reaching a sink.
func Sanitize(line string) string {
	sanitized := bearerTokenPattern.ReplaceAllString(line, "${1}"+placeholder)
	sanitized = credentialPattern.ReplaceAllString(sanitized, "${1}"+placeholder+"${3}")
	sanitized = standaloneSecretPattern.ReplaceAllString(sanitized, placeholder)
	return sanitized
}
