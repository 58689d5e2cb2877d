package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "INFO", ...) into a Level.
// Unknown strings fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a leveled key/value logger. Child loggers created with
// WithField share the underlying writer and carry their fields forward.
type Logger struct {
	level  Level
	out    *log.Logger
	fields map[string]interface{}
}

// Config controls logger construction.
type Config struct {
	Level  Level
	Output io.Writer
}

func New() *Logger {
	return NewWithConfig(Config{Level: INFO, Output: os.Stdout})
}

func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{
		level: cfg.Level,
		// timestamps and levels are formatted by us, not the stdlib logger
		out:    log.New(cfg.Output, "", 0),
		fields: make(map[string]interface{}),
	}
}

// WithFields returns a child logger carrying the given key/value pairs in
// addition to any fields already present. Keys with a missing value are
// dropped.
func (l *Logger) WithFields(keyVals ...interface{}) *Logger {
	child := &Logger{
		level:  l.level,
		out:    l.out,
		fields: make(map[string]interface{}, len(l.fields)+len(keyVals)/2),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for i := 0; i+1 < len(keyVals); i += 2 {
		child.fields[fmt.Sprintf("%v", keyVals[i])] = keyVals[i+1]
	}
	return child
}

// WithField returns a child logger with one additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(key, value)
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(DEBUG, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(INFO, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(WARN, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(ERROR, msg, kv...) }

func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.log(ERROR, msg, kv...)
	os.Exit(1)
}

func (l *Logger) SetLevel(level Level) { l.level = level }
func (l *Logger) GetLevel() Level      { return l.level }

func (l *Logger) IsDebugEnabled() bool { return l.level <= DEBUG }

func (l *Logger) log(level Level, msg string, kv ...interface{}) {
	if level < l.level {
		return
	}

	all := make(map[string]interface{}, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		all[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		all[fmt.Sprintf("%v", kv[i])] = kv[i+1]
	}

	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	l.out.Print(formatLine(ts, level, msg, all))
}

func formatLine(ts string, level Level, msg string, fields map[string]interface{}) string {
	parts := []string{fmt.Sprintf("[%s]", ts), fmt.Sprintf("[%s]", level), msg}

	if len(fields) > 0 {
		// sorted so log lines are stable under test and grep-friendly
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%s", k, formatValue(fields[k])))
		}
		parts = append(parts, "| "+strings.Join(kv, " "))
	}

	return strings.Join(parts, " ")
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, " ") {
			return fmt.Sprintf("%q", v)
		}
		return v
	case error:
		return fmt.Sprintf("%q", v.Error())
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// global logger for packages that have no injected instance
var globalLogger = New()

func Debug(msg string, kv ...interface{}) { globalLogger.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { globalLogger.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { globalLogger.Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { globalLogger.Error(msg, kv...) }

// WithField returns a child of the global logger, the usual way a component
// picks up its tagged logger at construction time.
func WithField(key string, value interface{}) *Logger {
	return globalLogger.WithField(key, value)
}

// SetGlobalLevel adjusts the process-wide default logger level.
func SetGlobalLevel(level Level) { globalLogger.SetLevel(level) }
