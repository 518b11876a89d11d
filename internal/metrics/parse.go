package metrics

import (
	"encoding/json"
	"fmt"

	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

// ParseError reports a results-log line that is not a JSON object.
// The aggregator skips such lines.
type ParseError struct {
	Line []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("metrics: unparsable log line (%d bytes): %v", len(e.Line), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseRecord decodes one results-log line. Fields keep their raw JSON, so
// lines with non-string scalars still count.
func ParseRecord(line []byte) (*model.CommandResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, &ParseError{Line: line, Err: err}
	}
	if fields == nil {
		// The literal null decodes into a nil map.
		return nil, &ParseError{Line: line, Err: fmt.Errorf("not a JSON object")}
	}

	return &model.CommandResult{
		DeviceUDID:     fields[model.FieldDeviceUDID],
		CommandType:    fields[model.FieldCommandType],
		CommandValue:   fields[model.FieldCommandValue],
		ExitCode:       fields[model.FieldExitCode],
		Status:         fields[model.FieldStatus],
		Output:         fields[model.FieldOutput],
		AgentTimestamp: fields["agent_timestamp"],
	}, nil
}
