package model

// ProgressEvent is one ordered update emitted by the job coordinator as a
// job moves through its phases. Consumers (chat reporter, websocket hub)
// receive the same stream and format it independently.
type ProgressEvent struct {
	JobID  string          `json:"jobId"`
	UserID int64           `json:"userId"`
	ChatID int64           `json:"chatId"`
	Phase  JobPhase        `json:"phase"`
	Label  ResolutionLabel `json:"label,omitempty"` // set while converting/delivering
	Index  int             `json:"index"`           // 1-based position of Label
	Total  int             `json:"total"`           // resolutions requested
	Detail string          `json:"detail,omitempty"`
	Err    string          `json:"error,omitempty"` // per-phase failure, if any

	// Final summary fields, populated only on the terminating event.
	Final        bool `json:"final"`
	SuccessCount int  `json:"successCount"`
}
