package recorder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

// maxLoggedOutput caps command output echoed into the operational log.
const maxLoggedOutput = 500

// Appender is the narrow write contract the recorder needs from the results log.
type Appender interface {
	Append(record *model.CommandResult) error
}

// Recorder validates agent submissions and appends them to the results log.
type Recorder struct {
	store  Appender
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a recorder writing to store.
func New(store Appender, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record checks sub for the required keys, builds a CommandResult stamped
// with the recorder's clock, and appends it. Submitted values are stored as
// raw JSON; only an absent output is filled in, with "". It returns *ValidationError or
// *PersistenceError on failure. Retried submissions are appended again.
func (r *Recorder) Record(ctx context.Context, sub model.Submission) (*model.CommandResult, error) {
	if missing := sub.Missing(); len(missing) > 0 {
		r.logger.ErrorContext(ctx, "command result rejected", "missing", missing)
		return nil, &ValidationError{Missing: missing}
	}

	record := &model.CommandResult{
		Timestamp:      r.now().UTC(),
		DeviceUDID:     sub.Raw(model.FieldDeviceUDID),
		CommandType:    sub.Raw(model.FieldCommandType),
		CommandValue:   sub.Raw(model.FieldCommandValue),
		ExitCode:       sub.Raw(model.FieldExitCode),
		Status:         sub.Raw(model.FieldStatus),
		Output:         sub.RawOr(model.FieldOutput, model.String("")),
		AgentTimestamp: sub.Raw(model.FieldTimestamp),
	}

	r.logResult(ctx, record)

	if err := r.store.Append(record); err != nil {
		r.logger.ErrorContext(ctx, "command result not persisted",
			"device_udid", model.Text(record.DeviceUDID),
			"error", err,
		)
		return nil, &PersistenceError{Err: err}
	}
	return record, nil
}

func (r *Recorder) logResult(ctx context.Context, rec *model.CommandResult) {
	attrs := []any{
		"device_udid", model.Text(rec.DeviceUDID),
		"command_type", model.Text(rec.CommandType),
		"command_value", model.Text(rec.CommandValue),
		"status", model.Text(rec.Status),
		"exit_code", model.Text(rec.ExitCode),
		"agent_timestamp", model.Text(rec.AgentTimestamp),
	}
	if output := strings.TrimSpace(model.Text(rec.Output)); output != "" {
		attrs = append(attrs, "output", truncate(output, maxLoggedOutput))
	}
	r.logger.InfoContext(ctx, "command result", attrs...)
}

func truncate(s string, limit int) string {
	if clipped, cut := model.Clip(s, limit); cut {
		return clipped + "... [TRUNCATED]"
	}
	return s
}
