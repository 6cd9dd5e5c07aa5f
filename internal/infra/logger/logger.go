package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Level represents log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Logger implements waLog.Logger with leveled, optionally colored output.
// Sub-loggers share the parent's writer and its lock.
type Logger struct {
	module string
	level  Level
	color  bool
	out    *sink
}

type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Logger writing to stderr. Color is enabled only when
// stderr is a terminal.
func New(module string, level string) *Logger {
	fd := os.Stderr.Fd()
	color := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return NewWithWriter(module, level, os.Stderr, color)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(module, level string, w io.Writer, color bool) *Logger {
	return &Logger{
		module: module,
		level:  ParseLevel(level),
		color:  color,
		out:    &sink{w: w},
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Sub creates a sub-logger with a nested module name.
func (l *Logger) Sub(module string) waLog.Logger {
	newModule := module
	if l.module != "" {
		newModule = l.module + "/" + module
	}
	return &Logger{
		module: newModule,
		level:  l.level,
		color:  l.color,
		out:    l.out,
	}
}

// Debugf logs a debug message.
func (l *Logger) Debugf(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Infof logs an info message.
func (l *Logger) Infof(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warnf logs a warning message.
func (l *Logger) Warnf(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Errorf logs an error message.
func (l *Logger) Errorf(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if level < l.level {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	levelStr, levelColor := levelString(level)
	formatted := fmt.Sprintf(msg, args...)

	var line string
	if l.color {
		moduleStr := ""
		if l.module != "" {
			moduleStr = fmt.Sprintf("%s[%s]%s ", colorCyan, l.module, colorReset)
		}
		line = fmt.Sprintf("%s%s%s %s%s%s %s%s\n",
			colorGray, timestamp, colorReset,
			levelColor, levelStr, colorReset,
			moduleStr, formatted)
	} else {
		moduleStr := ""
		if l.module != "" {
			moduleStr = "[" + l.module + "] "
		}
		line = fmt.Sprintf("%s %s %s%s\n", timestamp, levelStr, moduleStr, formatted)
	}

	l.out.mu.Lock()
	_, _ = io.WriteString(l.out.w, line)
	l.out.mu.Unlock()
}

func levelString(level Level) (string, string) {
	switch level {
	case LevelDebug:
		return "DBG", colorBlue
	case LevelInfo:
		return "INF", colorGreen
	case LevelWarn:
		return "WRN", colorYellow
	case LevelError:
		return "ERR", colorRed
	default:
		return "???", colorReset
	}
}

// Ensure Logger implements waLog.Logger.
var _ waLog.Logger = (*Logger)(nil)
