// Package logging builds the operational logger shared by every component.
// It is constructed once at startup and closed at shutdown; there is no
// package-level logging state.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config controls where operational messages go.
type Config struct {
	Debug    bool
	FilePath string    // empty disables the file sink
	Console  io.Writer // defaults to os.Stdout
}

// Logger is a slog.Logger bound to its sinks.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New opens the operational log file and returns a logger writing to both
// the console and the file. If the file cannot be opened, the logger keeps
// the console sink only and reports why through the returned logger.
func New(cfg Config) *Logger {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	l := &Logger{}
	var out io.Writer = console
	var openErr error
	if strings.TrimSpace(cfg.FilePath) != "" {
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			openErr = err
		} else {
			l.file = f
			out = io.MultiWriter(console, f)
		}
	}

	l.Logger = slog.New(contextHandler{slog.NewTextHandler(out, opts)})
	if openErr != nil {
		l.Warn("logging: file sink disabled, console only", "path", cfg.FilePath, "error", openErr)
	}
	return l
}

// FilePath returns the active file sink path, or "" when logging to console only.
func (l *Logger) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close flushes and closes the file sink. Logging after Close still reaches
// the console but file writes fail silently.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("logging: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open: %w", err)
	}
	return f, nil
}
