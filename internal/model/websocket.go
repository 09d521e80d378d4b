package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update for a running job
type WSProgressMessage struct {
	Type  string          `json:"type"`
	JobID string          `json:"jobId"`
	Phase JobPhase        `json:"phase"`
	Label ResolutionLabel `json:"label,omitempty"`
	Index int             `json:"index,omitempty"`
	Total int             `json:"total,omitempty"`
	Step  string          `json:"step,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type         string `json:"type"`
	JobID        string `json:"jobId"`
	SuccessCount int    `json:"successCount"`
	Requested    int    `json:"requested"`
}

// WSErrorMessage represents a per-phase or per-resolution failure
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Phase   JobPhase        `json:"phase"`
	Label   ResolutionLabel `json:"label,omitempty"`
	Message string          `json:"message"`
}
