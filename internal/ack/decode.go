package ack

import (
	"encoding/base64"
	"fmt"
	"strings"

	"howett.net/plist"
)

// DecodeError reports an acknowledgment payload that is not base64-encoded
// property-list data. It is logged by the reporter and never surfaced.
type DecodeError struct {
	Stage string // "base64" or "plist"
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ack: decode payload (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodePayload turns a base64 raw_payload into a property-list dictionary.
// Binary, XML, and OpenStep plists are accepted.
func DecodePayload(raw string) (map[string]any, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}

	var doc map[string]any
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Stage: "plist", Err: err}
	}
	if doc == nil {
		return nil, &DecodeError{Stage: "plist", Err: fmt.Errorf("payload is not a dictionary")}
	}
	return doc, nil
}
