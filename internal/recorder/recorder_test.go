package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/mdm-webhook/internal/journal"
	"github.com/tinytelemetry/mdm-webhook/internal/metrics"
	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	records []*model.CommandResult
	err     error
}

func (m *memStore) Append(rec *model.CommandResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func parseSubmission(t *testing.T, body string) model.Submission {
	t.Helper()
	var sub model.Submission
	if err := json.Unmarshal([]byte(body), &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	return sub
}

const validBody = `{
	"device_udid": "UDID1",
	"command_type": "install",
	"command_value": "app.pkg",
	"exit_code": 0,
	"status": "success",
	"timestamp": "2024-01-01T00:00:00Z"
}`

func TestRecord_BuildsRecord(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	store := &memStore{}
	r := New(store, nil, WithClock(func() time.Time { return fixed }))

	rec, err := r.Record(context.Background(), parseSubmission(t, validBody))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.records) != 1 || store.records[0] != rec {
		t.Fatalf("store records = %d, want the returned record", len(store.records))
	}
	if !rec.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want recorder clock %v", rec.Timestamp, fixed)
	}
	if string(rec.AgentTimestamp) != `"2024-01-01T00:00:00Z"` {
		t.Fatalf("agent_timestamp = %s", rec.AgentTimestamp)
	}
	if string(rec.Output) != `""` {
		t.Fatalf("output = %s, want empty string default", rec.Output)
	}
	if string(rec.DeviceUDID) != `"UDID1"` || string(rec.CommandType) != `"install"` || string(rec.Status) != `"success"` {
		t.Fatalf("record = %+v", rec)
	}
	if string(rec.CommandValue) != `"app.pkg"` {
		t.Fatalf("command_value = %s", rec.CommandValue)
	}
}

func TestRecord_ExitCodeNotCoerced(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	r := New(store, nil)
	body := strings.Replace(validBody, `"exit_code": 0`, `"exit_code": "minus one"`, 1)

	rec, err := r.Record(context.Background(), parseSubmission(t, body))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if string(rec.ExitCode) != `"minus one"` {
		t.Fatalf("exit_code = %s, want verbatim string", rec.ExitCode)
	}
}

func TestRecord_StoresFieldsVerbatim(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	r := New(store, nil)
	body := `{"device_udid":42,"command_type":"shell","command_value":["ls","-l"],
		"exit_code":0,"status":null,"timestamp":1704067200,"output":{"a":1}}`

	rec, err := r.Record(context.Background(), parseSubmission(t, body))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	checks := map[string]json.RawMessage{
		`42`:          rec.DeviceUDID,
		`null`:        rec.Status,
		`{"a":1}`:     rec.Output,
		`["ls","-l"]`: rec.CommandValue,
		`1704067200`:  rec.AgentTimestamp,
	}
	for want, got := range checks {
		if string(got) != want {
			t.Errorf("stored %s, want %s", got, want)
		}
	}
}

func TestRecord_NullOutputKept(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	r := New(store, nil)
	body := strings.Replace(validBody, `"status": "success"`, `"status": "success", "output": null`, 1)

	rec, err := r.Record(context.Background(), parseSubmission(t, body))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if string(rec.Output) != "null" {
		t.Fatalf("output = %s, want null as submitted", rec.Output)
	}
}

func TestRecord_NumericAndStringDevicesStayDistinct(t *testing.T) {
	t.Parallel()

	j, err := journal.Open(filepath.Join(t.TempDir(), "command-results.log"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	r := New(j, nil)
	for _, udid := range []string{`42`, `"42"`} {
		body := strings.Replace(validBody, `"UDID1"`, udid, 1)
		if _, err := r.Record(context.Background(), parseSubmission(t, body)); err != nil {
			t.Fatalf("Record(%s): %v", udid, err)
		}
	}

	got, err := metrics.NewAggregator(j, nil).Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.UniqueDevices != 2 {
		t.Fatalf("unique devices = %d, want 2", got.UniqueDevices)
	}
}

func TestRecord_MissingFields(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	r := New(store, nil)

	_, err := r.Record(context.Background(), parseSubmission(t, `{"device_udid":"X"}`))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	want := []string{"command_type", "command_value", "exit_code", "status", "timestamp"}
	if !reflect.DeepEqual(vErr.Missing, want) {
		t.Fatalf("missing = %v, want %v", vErr.Missing, want)
	}
	if len(store.records) != 0 {
		t.Fatalf("store records = %d, want 0", len(store.records))
	}
}

func TestRecord_PersistenceError(t *testing.T) {
	t.Parallel()

	cause := errors.New("journal: write record: no space left on device")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	r := New(&memStore{err: cause}, logger)

	_, err := r.Record(context.Background(), parseSubmission(t, validBody))
	var pErr *PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("PersistenceError should unwrap to its cause")
	}
	if !strings.Contains(logs.String(), "no space left") {
		t.Fatalf("cause not logged: %s", logs.String())
	}
}

func TestRecord_LogsTruncatedOutput(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	r := New(&memStore{}, logger)

	sub := parseSubmission(t, validBody)
	long := strings.Repeat("y", 2000)
	sub[model.FieldOutput] = json.RawMessage(`"` + long + `"`)

	rec, err := r.Record(context.Background(), sub)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if model.Text(rec.Output) != long {
		t.Fatal("stored output must not be truncated")
	}
	if strings.Contains(logs.String(), long) {
		t.Fatal("logged output was not truncated")
	}
	if !strings.Contains(logs.String(), "[TRUNCATED]") {
		t.Fatalf("truncation marker missing: %s", logs.String())
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 10) // 2 bytes each
	got := truncate(s, 5)
	if got != "éé... [TRUNCATED]" {
		t.Fatalf("truncate = %q", got)
	}
	if truncate("short", 10) != "short" {
		t.Fatal("short strings must pass through")
	}
}

func TestRecordThenCompute(t *testing.T) {
	t.Parallel()

	j, err := journal.Open(filepath.Join(t.TempDir(), "command-results.log"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	r := New(j, nil)
	agg := metrics.NewAggregator(j, nil)

	before, err := agg.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	for _, status := range []string{"success", "failed"} {
		body := strings.Replace(validBody, `"status": "success"`, `"status": "`+status+`"`, 1)
		if _, err := r.Record(context.Background(), parseSubmission(t, body)); err != nil {
			t.Fatalf("Record(%s): %v", status, err)
		}
	}

	after, err := agg.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if after.TotalCommands != before.TotalCommands+2 {
		t.Fatalf("total = %d, want %d", after.TotalCommands, before.TotalCommands+2)
	}
	if after.SuccessfulCommands != 1 || after.FailedCommands != 1 {
		t.Fatalf("success/failed = %d/%d, want 1/1", after.SuccessfulCommands, after.FailedCommands)
	}
}
