package logbowl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Environment variable names
const (
	LogLevelEnvVar  = "WHEELSMITH_LOG_LEVEL"
	LogFormatEnvVar = "WHEELSMITH_LOG_CONSOLE_FORMATTER"
)

// Log formats
const (
	FormatEmoji = "emoji"
	FormatText  = "text"
	FormatJSON  = "json"
)

var domains = map[string]string{"system": "⚙️", "network": "🌐", "security": "🔐", "config": "🔩", "file": "📄", "user": "👤", "test": "🧪", "core": "🌟", "auth": "🔑", "default": "❓", "builder": "🛠️", "cargo": "🦀", "python": "🐍", "sysconfig": "📚", "archive": "📦", "wheel": "🎡", "sdist": "🗃️", "metadata": "🏷️", "pep517": "🔌", "publish": "🚀", "upload": "📤", "keyring": "🔑", "pypirc": "📇", "io": "💾", "env": "🌿"}
var actions = map[string]string{"init": "🌱", "start": "🚀", "stop": "🛑", "connect": "🔗", "read": "📖", "write": "📝", "process": "⚙️", "validate": "🛡️", "execute": "▶️", "query": "🔍", "update": "🔄", "delete": "🗑️", "login": "➡️", "auth": "🔑", "error": "🔥", "encrypt": "🛡️", "decrypt": "🔓", "parse": "🧩", "transmit": "📡", "build": "🏗️", "emit": "📢", "load": "💡", "observe": "🧐", "request": "🗣️", "verify": "🔍", "pack": "📦", "generate": "✨", "clean": "🧹", "resolve": "🧭", "plan": "🗺️", "upload": "📤", "store": "💾", "prompt": "⌨️", "finish": "🏁", "info": "💡", "default": "⚙️"}
var statuses = map[string]string{"success": "✅", "failure": "❌", "error": "🔥", "warning": "⚠️", "info": "ℹ️", "debug": "🐞", "trace": "👣", "attempt": "⏳", "retry": "🔁", "skip": "⏭️", "complete": "🏁", "timeout": "⏱️", "notfound": "❓", "unauthorized": "🚫", "invalid": "💢", "cached": "🎯", "ongoing": "🏃", "idle": "💤", "ready": "👍", "progress": "➡️", "ok": "✅", "default": "➡️"}

func getEmoji(m map[string]string, key string) string {
	if val, ok := m[key]; ok {
		return val
	}
	return m["default"]
}

// Logger wraps hclog.Logger to provide the simplified API.
type Logger struct {
	hclog.Logger
	format string
}

// Create creates a new Logger instance writing to stderr.
func Create(name string) Logger {
	return CreateWithOutput(name, os.Stderr)
}

// CreateWithOutput is Create with an explicit sink. Tests use it to capture
// log lines; commands never log to stdout because the PEP 517 bridge reads
// the last stdout line as the return value.
func CreateWithOutput(name string, out io.Writer) Logger {
	levelStr := os.Getenv(LogLevelEnvVar)
	level := hclog.LevelFromString(strings.ToUpper(levelStr))
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	formatStr := strings.ToLower(os.Getenv(LogFormatEnvVar))
	opts := &hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     out,
		JSONFormat: formatStr == FormatJSON,
	}
	return Logger{Logger: hclog.New(opts), format: formatStr}
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return Logger{Logger: hclog.NewNullLogger(), format: FormatText}
}

// Named returns a sub-logger, keeping the console format.
func (l Logger) Named(name string) Logger {
	if l.Logger == nil {
		return l
	}
	return Logger{Logger: l.Logger.Named(name), format: l.format}
}

func (l Logger) log(level hclog.Level, domain, action, status, message string, args ...interface{}) {
	if l.Logger == nil {
		return
	}
	switch l.format {
	case FormatText:
		l.Logger.Log(level, fmt.Sprintf("[%s] %s", strings.ToUpper(domain), message), args...)
	case FormatJSON:
		l.Logger.With("domain", domain, "action", action, "status", status).Log(level, message, args...)
	default: // Emoji format
		l.Logger.Log(level, fmt.Sprintf("%s %s %s %s", getEmoji(domains, domain), getEmoji(actions, action), getEmoji(statuses, status), message), args...)
	}
}

func (l Logger) Info(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Info, domain, action, status, message, args...)
}
func (l Logger) Debug(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Debug, domain, action, status, message, args...)
}
func (l Logger) Warn(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Warn, domain, action, status, message, args...)
}
func (l Logger) Error(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Error, domain, action, status, message, args...)
}
