package model

// Shared defaults used by the server binary and the HTTP boundary.
const (
	ServiceName    = "mdm-agent-webhook"
	ServiceVersion = "2.0"
	StatusSuccess  = "success"
)
