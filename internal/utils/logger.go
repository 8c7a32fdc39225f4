package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel orders log severities. Messages below the logger's level are
// dropped.
type LogLevel int

const (
	Debug   LogLevel = 10
	Info    LogLevel = 20
	Warning LogLevel = 30
	Error   LogLevel = 40
)

// Logger is a levelled key/value logger. One logger per component,
// identified by its prefix.
type Logger struct {
	prefix string
	out    *log.Logger

	mu    sync.RWMutex
	level LogLevel
}

// NewLogger creates a logger for a component. The level defaults to Info.
func NewLogger(prefix string, level ...LogLevel) *Logger {
	lvl := Info
	if len(level) > 0 {
		lvl = level[0]
	}
	return &Logger{
		prefix: prefix,
		out:    log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		level:  lvl,
	}
}

// SetLogLevel changes the minimum severity that gets written.
func (l *Logger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.write(Debug, "DEBUG", msg, keyvals) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.write(Info, "INFO", msg, keyvals) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.write(Warning, "WARN", msg, keyvals) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.write(Error, "ERROR", msg, keyvals) }

func (l *Logger) write(level LogLevel, name, msg string, keyvals []interface{}) {
	l.mu.RLock()
	enabled := level >= l.level
	l.mu.RUnlock()
	if !enabled {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", name, msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	if len(keyvals)%2 != 0 {
		fmt.Fprintf(&b, " %v=?", keyvals[len(keyvals)-1])
	}
	l.out.Println(b.String())
}
