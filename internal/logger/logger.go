package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger handles structured logging with optional file output.
// Messages keep the printf style at the call site and are emitted as slog
// records, so attributes added through With end up on every line.
type Logger struct {
	Verbose bool
	out     *sink
	attrs   []any
}

// sink is shared between a Logger and every child created by With.
type sink struct {
	mu      sync.Mutex
	writer  io.Writer
	errw    io.Writer
	fileLog *os.File
	hasBar  bool
}

// New creates a new Logger instance
func New(verbose bool) *Logger {
	return &Logger{
		Verbose: verbose,
		out: &sink{
			writer: os.Stdout,
			errw:   os.Stderr,
		},
	}
}

// NewWithWriter creates a Logger writing both normal and error output to w.
func NewWithWriter(w io.Writer, verbose bool) *Logger {
	return &Logger{
		Verbose: verbose,
		out:     &sink{writer: w, errw: w},
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, false)
}

// With returns a child logger that adds the given key/value pairs to every record.
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)
	return &Logger{
		Verbose: l.Verbose,
		out:     l.out,
		attrs:   attrs,
	}
}

// SetFileLog enables logging to a file
func (l *Logger) SetFileLog(path string) error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.out.fileLog = f
	return nil
}

// SetProgressBar indicates that a progress bar is active
func (l *Logger) SetProgressBar(active bool) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.hasBar = active
}

// Close closes the log file if open
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.fileLog != nil {
		err := l.out.fileLog.Close()
		l.out.fileLog = nil
		return err
	}
	return nil
}

// Info logs informational messages
func (l *Logger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, false, format, args...)
}

// Debug logs detailed messages only in verbose mode.
// The file log always receives them.
func (l *Logger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, !l.Verbose, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, false, format, args...)
}

// Error logs error messages to stderr
func (l *Logger) Error(format string, args ...any) {
	l.log(slog.LevelError, false, format, args...)
}

// Slog exposes a *slog.Logger writing to the same destinations, for
// libraries that want a standard logger.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.handler(false)).With(l.attrs...)
}

func (l *Logger) log(level slog.Level, fileOnly bool, format string, args ...any) {
	h := l.handler(fileOnly)
	if !h.Enabled(context.Background(), level) {
		return
	}
	slog.New(h).With(l.attrs...).Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *Logger) handler(fileOnly bool) slog.Handler {
	minLevel := slog.LevelInfo
	if l.Verbose {
		minLevel = slog.LevelDebug
	}
	return &lineHandler{sink: l.out, fileOnly: fileOnly, minLevel: minLevel}
}

// lineHandler renders "[LEVEL] message key=value" lines; INFO carries no prefix.
type lineHandler struct {
	sink     *sink
	fileOnly bool
	minLevel slog.Level
	attrs    []slog.Attr
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.fileOnly {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return h.sink.fileLog != nil
	}
	return level >= h.minLevel || h.sink.hasFile()
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lineHandler{sink: h.sink, fileOnly: h.fileOnly, minLevel: h.minLevel, attrs: merged}
}

func (h *lineHandler) WithGroup(string) slog.Handler { return h }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	if r.Level != slog.LevelInfo {
		msg = "[" + r.Level.String() + "] " + msg
	}
	for _, a := range h.attrs {
		msg += " " + a.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.String()
		return true
	})
	msg += "\n"

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	if !h.fileOnly && r.Level >= h.minLevel {
		switch {
		case r.Level >= slog.LevelError:
			fmt.Fprint(h.sink.errw, msg)
		case !h.sink.hasBar || h.minLevel == slog.LevelDebug:
			// Stdout stays quiet while a progress bar owns the terminal.
			fmt.Fprint(h.sink.writer, msg)
		}
	}

	if h.sink.fileLog != nil {
		h.sink.fileLog.WriteString(msg)
	}
	return nil
}

func (s *sink) hasFile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileLog != nil
}
