// Package report turns the coordinator's progress events into outbound
// chat messages: one progress message per job, edited in place as phases
// advance, replaced by a final summary when the job terminates.
package report

import (
	"fmt"
	"log"
	"sync"

	"github.com/resobot/api/internal/model"
)

// Messenger is the outbound chat surface the reporter writes to.
type Messenger interface {
	SendText(chatID int64, text string) (messageID int, err error)
	EditText(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
}

// Reporter implements job.EventSink.
type Reporter struct {
	m Messenger

	mu       sync.Mutex
	progress map[string]int // jobID -> progress message ID
}

// NewReporter builds a reporter over the given messenger.
func NewReporter(m Messenger) *Reporter {
	return &Reporter{m: m, progress: make(map[string]int)}
}

// Publish consumes one progress event. Send/edit failures are logged and
// swallowed: reporting must never disturb the pipeline.
func (r *Reporter) Publish(ev model.ProgressEvent) {
	switch {
	case ev.Final:
		r.finish(ev)
	case ev.Err != "":
		r.phaseFailed(ev)
	default:
		r.phaseAdvanced(ev)
	}
}

func (r *Reporter) phaseAdvanced(ev model.ProgressEvent) {
	var text string
	switch ev.Phase {
	case model.JobPhaseFetching:
		text = "Downloading your video..."
	case model.JobPhaseConverting:
		text = fmt.Sprintf("Converting to %s... (%d/%d)", ev.Label, ev.Index, ev.Total)
	case model.JobPhaseDelivering:
		text = fmt.Sprintf("Sending %s... (%d/%d)", ev.Label, ev.Index, ev.Total)
	default:
		return
	}
	r.showProgress(ev, text)
}

func (r *Reporter) phaseFailed(ev model.ProgressEvent) {
	switch ev.Phase {
	case model.JobPhaseFetching:
		// Whole-job failure; the summary follows via the final event.
		r.send(ev.ChatID, "Download failed: "+ev.Err)
	case model.JobPhaseConverting:
		r.send(ev.ChatID, fmt.Sprintf("Failed to convert to %s. Continuing with the remaining resolutions.", ev.Label))
	case model.JobPhaseDelivering:
		r.send(ev.ChatID, fmt.Sprintf("Converted %s but could not send it. Please try again later.", ev.Label))
	}
}

func (r *Reporter) finish(ev model.ProgressEvent) {
	r.mu.Lock()
	msgID, hasProgress := r.progress[ev.JobID]
	delete(r.progress, ev.JobID)
	r.mu.Unlock()
	if hasProgress {
		if err := r.m.DeleteMessage(ev.ChatID, msgID); err != nil {
			log.Printf("report: delete progress message: %v", err)
		}
	}

	if ev.SuccessCount > 0 {
		r.send(ev.ChatID, fmt.Sprintf("Processing complete! Converted %d of %d resolution(s).", ev.SuccessCount, ev.Total))
	} else {
		r.send(ev.ChatID, fmt.Sprintf("Processing failed. None of the %d requested resolution(s) could be converted.", ev.Total))
	}
}

// showProgress edits the job's progress message, creating it on first use.
func (r *Reporter) showProgress(ev model.ProgressEvent, text string) {
	r.mu.Lock()
	msgID, ok := r.progress[ev.JobID]
	r.mu.Unlock()

	if !ok {
		id, err := r.m.SendText(ev.ChatID, text)
		if err != nil {
			log.Printf("report: send progress message: %v", err)
			return
		}
		r.mu.Lock()
		r.progress[ev.JobID] = id
		r.mu.Unlock()
		return
	}
	if err := r.m.EditText(ev.ChatID, msgID, text); err != nil {
		log.Printf("report: edit progress message: %v", err)
	}
}

func (r *Reporter) send(chatID int64, text string) {
	if _, err := r.m.SendText(chatID, text); err != nil {
		log.Printf("report: send message: %v", err)
	}
}
