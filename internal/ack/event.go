package ack

import (
	"encoding/json"
	"fmt"
)

// Envelope is the webhook body posted by the MDM server. Scalar fields are
// kept raw so one oddly typed value does not hide the rest of the event;
// read them with model.Text.
type Envelope struct {
	Topic            json.RawMessage `json:"topic"`
	EventID          json.RawMessage `json:"event_id,omitempty"`
	AcknowledgeEvent Event           `json:"acknowledge_event"`
}

// Event is a device's acknowledgment of one MDM command.
type Event struct {
	Status          json.RawMessage   `json:"status"`
	UDID            json.RawMessage   `json:"udid"`
	CommandUUID     json.RawMessage   `json:"command_uuid"`
	RequestType     json.RawMessage   `json:"request_type,omitempty"`
	ErrorChain      []json.RawMessage `json:"error_chain,omitempty"`
	RejectionReason json.RawMessage   `json:"rejection_reason,omitempty"`
	Error           json.RawMessage   `json:"error,omitempty"`
	RawPayload      json.RawMessage   `json:"raw_payload,omitempty"`
}

// ParseEnvelope decodes a webhook body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("ack: decode webhook body: %w", err)
	}
	return env, nil
}
