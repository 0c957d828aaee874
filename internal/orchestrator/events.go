package orchestrator

import "time"

// EventType identifies an orchestrator event.
type EventType string

const (
	EventDocumentIngested EventType = "document_ingested"
	EventSyncStarted      EventType = "sync_started"
	EventSyncComplete     EventType = "sync_complete"
	EventItemSynced       EventType = "item_synced"
	EventItemFailed       EventType = "item_failed"
	EventConnectivity     EventType = "connectivity"
	EventCleanup          EventType = "cleanup"
)

// Event describes something the orchestrator did.
type Event struct {
	Type       EventType    `json:"type"`
	Time       time.Time    `json:"time"`
	DocumentID string       `json:"document_id,omitempty"`
	FileName   string       `json:"file_name,omitempty"`
	Source     string       `json:"source,omitempty"`
	Online     *bool        `json:"online,omitempty"`
	Count      int          `json:"count,omitempty"`
	Result     *DrainResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Observer receives events. OnEvent is called synchronously from the
// goroutine doing the work and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

func (o *Orchestrator) emit(e Event) {
	if o.config.Observer == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = o.now()
	}
	o.config.Observer.OnEvent(e)
}
