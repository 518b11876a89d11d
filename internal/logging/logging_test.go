package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesConsoleAndFile(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "micromdm", "webhook.log")
	l := New(Config{FilePath: path, Console: &console})

	l.Info("starting", "port", 5001)
	if l.FilePath() != path {
		t.Fatalf("FilePath() = %q, want %q", l.FilePath(), path)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "msg=starting port=5001") {
		t.Fatalf("file sink = %q", data)
	}
	if !strings.Contains(console.String(), "msg=starting port=5001") {
		t.Fatalf("console sink = %q", console.String())
	}
}

func TestNew_DebugToggle(t *testing.T) {
	t.Parallel()

	var quiet, verbose bytes.Buffer
	New(Config{Console: &quiet}).Debug("hidden")
	New(Config{Console: &verbose, Debug: true}).Debug("shown")

	if strings.Contains(quiet.String(), "hidden") {
		t.Fatal("debug record emitted with debug disabled")
	}
	if !strings.Contains(verbose.String(), "shown") {
		t.Fatal("debug record missing with debug enabled")
	}
}

func TestNew_FileFailureFallsBackToConsole(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var console bytes.Buffer
	l := New(Config{FilePath: filepath.Join(blocker, "webhook.log"), Console: &console})
	if l.FilePath() != "" {
		t.Fatalf("FilePath() = %q, want console only", l.FilePath())
	}
	if !strings.Contains(console.String(), "file sink disabled") {
		t.Fatalf("fallback not reported: %q", console.String())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRequestIDAttribute(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	l := New(Config{Console: &console})

	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Fatalf("RequestID = %q", got)
	}
	l.With("component", "test").InfoContext(ctx, "handled")
	l.Info("no context")

	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), console.String())
	}
	if !strings.Contains(lines[0], "component=test") || !strings.Contains(lines[0], "request_id=req-123") {
		t.Fatalf("first record = %q", lines[0])
	}
	if strings.Contains(lines[1], "request_id") {
		t.Fatalf("second record has request_id: %q", lines[1])
	}
}
