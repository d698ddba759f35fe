package collector

import "time"

const (
	EventRunStarted       = "run.started"
	EventMappingCompleted = "mapping.completed"
	EventRunCompleted     = "run.completed"
	EventRunFailed        = "run.failed"
	EventRunLocked        = "run.locked"
)

// Event is published at run milestones for live observers.
type Event struct {
	Type       string         `json:"type"`
	RunID      string         `json:"runId"`
	Time       time.Time      `json:"time"`
	Collection string         `json:"collection,omitempty"`
	Mapping    *MappingResult `json:"mapping,omitempty"`
	Result     *RunResult     `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type EventSink interface {
	Publish(Event)
}

type discardEvents struct{}

func (discardEvents) Publish(Event) {}
