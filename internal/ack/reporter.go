package ack

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

// maxPayloadPreview caps the debug-level rendering of the Payload key.
const maxPayloadPreview = 200

// Reporter logs acknowledgment events. It keeps no state.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter creates a reporter. Panics if logger is nil; a reporter that
// logs nowhere has no purpose.
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		panic("ack: logger is required")
	}
	return &Reporter{logger: logger}
}

// Report logs env and, when present, a summary of its decoded payload.
// Payload decode failures are logged as warnings and go no further.
func (r *Reporter) Report(ctx context.Context, env Envelope) {
	event := env.AcknowledgeEvent
	udid := model.Text(event.UDID)
	commandUUID := model.Text(event.CommandUUID)
	if commandUUID == "" {
		commandUUID = "N/A"
	}

	r.logger.InfoContext(ctx, "mdm event",
		"topic", model.Text(env.Topic),
		"status", model.Text(event.Status),
		"udid", udid,
		"command_uuid", commandUUID,
	)

	for i, item := range event.ErrorChain {
		r.logger.WarnContext(ctx, "mdm error chain", "index", i, "error", string(item))
	}
	if reason := model.Text(event.RejectionReason); reason != "" {
		r.logger.WarnContext(ctx, "mdm rejection", "reason", reason)
	}
	if msg := model.Text(event.Error); msg != "" {
		r.logger.WarnContext(ctx, "mdm error", "error", msg)
	}

	rawPayload := model.Text(event.RawPayload)
	if rawPayload == "" {
		return
	}

	doc, err := DecodePayload(rawPayload)
	if err != nil {
		attrs := []any{"udid", udid, "command_uuid", commandUUID, "error", err}
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			attrs = append(attrs, "stage", decodeErr.Stage)
		}
		r.logger.WarnContext(ctx, "error decoding payload", attrs...)
		return
	}

	r.logPayload(ctx, doc)
}

func (r *Reporter) logPayload(ctx context.Context, doc map[string]any) {
	if requestType, ok := doc["RequestType"].(string); ok && requestType != "" {
		r.logger.InfoContext(ctx, "mdm request", "request_type", strings.ToLower(requestType))
	}
	if payload, ok := doc["Payload"]; ok {
		preview, cut := model.Clip(formatValue(payload), maxPayloadPreview)
		if cut {
			preview += "..."
		}
		r.logger.DebugContext(ctx, "mdm payload", "preview", preview)
	}

	report := Summarize(doc)
	r.logger.InfoContext(ctx, report.Title, "kind", report.Kind, "entries", len(report.Lines))
	for _, line := range report.Lines {
		r.logger.InfoContext(ctx, report.Title, "kind", report.Kind, "line", line)
	}
}
