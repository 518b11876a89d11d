package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Journal is the append-only results log. It stores one JSON record per line
// and is the single source of truth for command outcomes.
//
// Appends are serialized by a process-wide mutex plus an advisory file lock,
// and each record is written with one write call that carries its trailing
// newline. A fragment left by a crashed writer is terminated before the next
// record so the two never share a line. Readers never take a lock; they only
// yield newline-terminated lines.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open prepares a journal at path. The directory and file are created lazily
// by the first Append.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	return &Journal{path: path}, nil
}

// Path returns the backing file path.
func (j *Journal) Path() string {
	return j.path
}

// Append persists one record as a single line.
func (j *Journal) Append(record *model.CommandResult) error {
	if record == nil {
		return errors.New("journal: nil record")
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.openLocked()
	if err != nil {
		return err
	}

	if err := lockFile(f); err != nil {
		return fmt.Errorf("journal: lock: %w", err)
	}
	defer unlockFile(f)

	size, torn, err := inspectTail(f)
	if err != nil {
		return fmt.Errorf("journal: inspect tail: %w", err)
	}
	if torn {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := f.Write(line); err != nil {
		// Drop whatever part of the record reached the file.
		if terr := f.Truncate(size); terr != nil {
			err = errors.Join(err, terr)
		}
		return fmt.Errorf("journal: write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("journal: sync record: %w", err)
	}
	return nil
}

func (j *Journal) openLocked() (*os.File, error) {
	if j.file != nil {
		return j.file, nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	j.file = f
	return f, nil
}

// inspectTail returns the file size and whether the last byte is not a
// newline. Callers hold the file lock, so a missing newline is a fragment
// from a writer that died, not an append in flight.
func inspectTail(f *os.File) (int64, bool, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, false, err
	}
	size := info.Size()
	if size == 0 {
		return 0, false, nil
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], size-1); err != nil {
		return size, false, err
	}
	return size, last[0] != '\n', nil
}

// Scan calls fn for every complete line in the log, oldest first, with the
// trailing newline stripped. Each call reads the file from the start. A
// missing file is an empty log. A trailing fragment without its newline is an
// append still in flight and is not yielded.
//
// The slice passed to fn is only valid until fn returns.
func (j *Journal) Scan(ctx context.Context, fn func(line []byte) error) error {
	if fn == nil {
		return errors.New("journal: scan callback is nil")
	}

	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("journal: open for scan: %w", err)
	}
	defer f.Close()

	return scanLines(ctx, bufio.NewReader(f), fn)
}

func scanLines(ctx context.Context, reader *bufio.Reader, fn func(line []byte) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Long record: copy out of the buffer before reading the rest.
			head := append([]byte(nil), line...)
			rest, rerr := reader.ReadBytes('\n')
			line = append(head, rest...)
			err = rerr
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("journal: scan read: %w", err)
		}
		if errors.Is(err, io.EOF) {
			// Anything left here has no separator yet.
			return nil
		}

		line = line[:len(line)-1]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		if ferr := fn(line); ferr != nil {
			return ferr
		}
	}
}

// SnapshotTo copies every complete line currently in the log to dstPath.
// The live log is not modified.
func (j *Journal) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), defaultDirMode); err != nil {
		return fmt.Errorf("journal: snapshot mkdir: %w", err)
	}

	tmpPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("journal: snapshot open: %w", err)
	}

	writer := bufio.NewWriter(dst)
	werr := j.Scan(context.Background(), func(line []byte) error {
		if _, err := writer.Write(line); err != nil {
			return err
		}
		return writer.WriteByte('\n')
	})
	if werr == nil {
		werr = writer.Flush()
	}
	if werr == nil {
		werr = dst.Sync()
	}
	if cerr := dst.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("journal: snapshot copy: %w", werr)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("journal: snapshot rename: %w", err)
	}
	return nil
}

// Close closes the append handle. A later Append reopens it.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
