package job

import "github.com/resobot/api/internal/model"

// EventSink consumes the ordered progress events a job emits. Sinks must
// not block for long; the coordinator publishes synchronously to preserve
// ordering.
type EventSink interface {
	Publish(ev model.ProgressEvent)
}

type multiSink []EventSink

func (m multiSink) Publish(ev model.ProgressEvent) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// MultiSink fans one event stream out to several sinks in order.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(model.ProgressEvent) {}
