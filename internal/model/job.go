package model

import "time"

// SourceDescriptor identifies a remote video to materialize on disk.
// It is produced by the inbound transport when a video arrives and is
// consumed exactly once by the source fetcher.
type SourceDescriptor struct {
	FileID   string `json:"fileId"` // opaque transport reference
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`  // declared bytes
	Large    bool   `json:"large"` // requires the direct-access transport
}

// MediaInfo is what the probe learned about the fetched source.
type MediaInfo struct {
	Duration float64 `json:"duration"` // seconds
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// JobPhase tracks a job through the conversion pipeline.
type JobPhase string

const (
	JobPhaseAdmitted   JobPhase = "admitted"
	JobPhaseFetching   JobPhase = "fetching"
	JobPhaseConverting JobPhase = "converting"
	JobPhaseDelivering JobPhase = "delivering"
	JobPhaseFinalizing JobPhase = "finalizing"
	JobPhaseTerminated JobPhase = "terminated"
)

// Job is one user-initiated request to convert one source video into N
// resolution-specific outputs. Only the coordinator goroutine running the
// job mutates it.
type Job struct {
	ID           string            `json:"id"`
	UserID       int64             `json:"userId"`
	ChatID       int64             `json:"chatId"`
	Source       SourceDescriptor  `json:"source"`
	SourceInfo   *MediaInfo        `json:"sourceInfo,omitempty"`
	Resolutions  []ResolutionLabel `json:"resolutions"`
	Phase        JobPhase          `json:"phase"`
	Current      int               `json:"current"` // index into Resolutions while converting
	SuccessCount int               `json:"successCount"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
}

// Succeeded reports whether the job as a whole counts as a success:
// at least one requested resolution was converted.
func (j *Job) Succeeded() bool {
	return j.SuccessCount > 0
}
