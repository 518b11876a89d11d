package model

import (
	"encoding/json"
	"time"
)

// CommandResult is one command outcome reported by an agent.
// It is the only durable entity: one JSON object per line in the results log.
type CommandResult struct {
	Timestamp      time.Time       `json:"timestamp"` // assigned on receipt, UTC
	DeviceUDID     json.RawMessage `json:"device_udid"`
	CommandType    json.RawMessage `json:"command_type"`
	CommandValue   json.RawMessage `json:"command_value"`
	ExitCode       json.RawMessage `json:"exit_code"`
	Status         json.RawMessage `json:"status"`
	Output         json.RawMessage `json:"output"`
	AgentTimestamp json.RawMessage `json:"agent_timestamp"` // caller clock, never parsed
}

// Succeeded reports whether status is exactly the JSON string "success".
func (r *CommandResult) Succeeded() bool {
	s, ok := StringValue(r.Status)
	return ok && s == StatusSuccess
}

// Summary is the aggregate view over every record in the results log.
type Summary struct {
	TotalCommands      int64            `json:"total_commands"`
	SuccessfulCommands int64            `json:"successful_commands"`
	FailedCommands     int64            `json:"failed_commands"`
	UniqueDevices      int64            `json:"unique_devices"`
	CommandTypes       map[string]int64 `json:"command_types"`
}
