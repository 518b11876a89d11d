package backup

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/mdm-webhook/internal/journal"
	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

type fakeSnapshotter struct {
	path string
	data []byte
}

func (f *fakeSnapshotter) Path() string { return f.path }

func (f *fakeSnapshotter) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(dstPath, f.data, 0644)
}

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestNewManager_Disabled(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&fakeSnapshotter{path: "/tmp/command-results.log", data: []byte("x")}, Config{}, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestNewManager_EnabledRequiresLogPath(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&fakeSnapshotter{path: "", data: []byte("x")}, Config{
		Enabled:  true,
		LocalDir: t.TempDir(),
	}, nil)
	if err == nil {
		t.Fatal("expected error for empty results log path")
	}
}

func TestNewManager_EnabledRequiresLocalDir(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&fakeSnapshotter{path: "/tmp/command-results.log"}, Config{Enabled: true}, nil)
	if err == nil || !strings.Contains(err.Error(), "local-dir") {
		t.Fatalf("err = %v, want local-dir error", err)
	}
}

func TestNewManager_StartupSnapshot(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	var logs bytes.Buffer
	m, err := NewManager(&fakeSnapshotter{path: "/tmp/command-results.log", data: []byte("{}\n")}, Config{
		Enabled:  true,
		Interval: time.Hour,
		LocalDir: localDir,
	}, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Stop()

	files, err := filepath.Glob(filepath.Join(localDir, "command-results-*.log"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("startup snapshots = %d, want 1", len(files))
	}
	if !strings.Contains(logs.String(), "backup: created snapshot") {
		t.Fatalf("snapshot not logged:\n%s", logs.String())
	}
}

func TestRunOnce_CreatesAndPrunesLocalBackups(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	store := &fakeSnapshotter{
		path: "/tmp/command-results.log",
		data: []byte("snapshot"),
	}

	m := &Manager{
		store: store,
		cfg: Config{
			Enabled:  true,
			LocalDir: localDir,
			KeepLast: 2,
		},
		now: stepClock(),
	}

	for i := 0; i < 3; i++ {
		if err := m.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(localDir, "command-results-*.log"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("backup files = %d, want 2", len(files))
	}
	for _, f := range files {
		if strings.HasSuffix(f, "20240101-000001.000000.log") {
			t.Fatalf("oldest snapshot %s was not pruned", f)
		}
	}
}

func TestRunOnce_SnapshotsJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "command-results.log"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer j.Close()
	if err := j.Append(&model.CommandResult{
		DeviceUDID:  model.String("UDID1"),
		CommandType: model.String("shell"),
		Status:      model.String(model.StatusSuccess),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	localDir := filepath.Join(dir, "backups")
	m := &Manager{store: j, cfg: Config{LocalDir: localDir, KeepLast: 5}, now: stepClock()}
	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(localDir, "command-results-*.log"))
	if len(files) != 1 {
		t.Fatalf("backup files = %d, want 1", len(files))
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(data), `"device_udid":"UDID1"`) {
		t.Fatalf("snapshot contents = %q", data)
	}
}

type blockingUploader struct {
	started chan struct{}
	once    sync.Once
}

func (u *blockingUploader) UploadFile(ctx context.Context, _ string) error {
	u.once.Do(func() { close(u.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestStop_CancelsInFlightUpload(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	uploader := &blockingUploader{started: make(chan struct{})}
	m := &Manager{
		store: &fakeSnapshotter{
			path: "/tmp/command-results.log",
			data: []byte("snapshot"),
		},
		cfg: Config{
			Enabled:  true,
			Interval: 5 * time.Millisecond,
			LocalDir: localDir,
			KeepLast: 2,
		},
		uploader: uploader,
		done:     make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.loop()

	select {
	case <-uploader.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload to start")
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; upload likely not canceled")
	}
}
