package cache

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...any) {}
func (n *NoOpLogger) Info(msg string, args ...any)  {}
func (n *NoOpLogger) Warn(msg string, args ...any)  {}
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// ConsoleLogger writes one line per message, rendering args as key=value
// pairs. Lines from concurrent goroutines are never interleaved.
type ConsoleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
}

// NewConsoleLogger creates a logger writing to stdout.
func NewConsoleLogger(prefix string) Logger {
	return NewWriterLogger(os.Stdout, prefix)
}

// NewWriterLogger creates a console-style logger writing to w.
func NewWriterLogger(w io.Writer, prefix string) Logger {
	return &ConsoleLogger{out: w, prefix: prefix}
}

func (cl *ConsoleLogger) Debug(msg string, args ...any) { cl.print("DEBUG", msg, args) }
func (cl *ConsoleLogger) Info(msg string, args ...any)  { cl.print("INFO", msg, args) }
func (cl *ConsoleLogger) Warn(msg string, args ...any)  { cl.print("WARN", msg, args) }
func (cl *ConsoleLogger) Error(msg string, args ...any) { cl.print("ERROR", msg, args) }

func (cl *ConsoleLogger) print(level, msg string, args []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s: %s", level, cl.prefix, msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&sb, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&sb, " %v", args[i])
		}
	}
	sb.WriteByte('\n')

	cl.mu.Lock()
	defer cl.mu.Unlock()
	io.WriteString(cl.out, sb.String())
}
