package devbackup

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

// ColorLogger is the default Logger, writing leveled lines to an
// io.Writer with a colored level tag.
type ColorLogger struct {
	out   io.Writer
	debug bool
}

// NewColorLogger builds a ColorLogger writing to out (os.Stderr if nil).
// Debug-level messages are only emitted when debug is true.
func NewColorLogger(out io.Writer, debug bool) *ColorLogger {
	if out == nil {
		out = os.Stderr
	}
	return &ColorLogger{out: out, debug: debug}
}

func (l *ColorLogger) logf(c *color.Color, level, msg string, args ...interface{}) {
	ts := time.Now().Format("15:04:05")
	tag := c.Sprintf("%-5s", level)
	fmt.Fprintf(l.out, "%s %s %s\n", ts, tag, fmt.Sprintf(msg, args...))
}

// Debug logs at debug level, suppressed unless the logger was built with
// debug enabled.
func (l *ColorLogger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.logf(color.New(color.FgHiBlack), "DEBUG", msg, args...)
}

// Info logs at info level.
func (l *ColorLogger) Info(msg string, args ...interface{}) {
	l.logf(color.New(color.FgCyan), "INFO", msg, args...)
}

// Warn logs at warn level.
func (l *ColorLogger) Warn(msg string, args ...interface{}) {
	l.logf(color.New(color.FgYellow), "WARN", msg, args...)
}

// Error logs at error level.
func (l *ColorLogger) Error(msg string, args ...interface{}) {
	l.logf(color.New(color.FgRed), "ERROR", msg, args...)
}
