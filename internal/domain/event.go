package domain

import "time"

// DatasetEventType names a cache lifecycle transition.
type DatasetEventType string

const (
	EventCached  DatasetEventType = "cached"
	EventEvicted DatasetEventType = "evicted"
	EventCleared DatasetEventType = "cleared"
)

// DatasetEvent announces that a dataset entered or left the local cache.
type DatasetEvent struct {
	Type       DatasetEventType `json:"type"`
	Key        string           `json:"key,omitempty"`
	Table      string           `json:"table,omitempty"`
	Path       *Path            `json:"path,omitempty"`
	SizeBytes  int64            `json:"size_bytes,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewDatasetEvent stamps an event with the package clock.
func NewDatasetEvent(t DatasetEventType, key string) DatasetEvent {
	ev := DatasetEvent{Type: t, Key: key, OccurredAt: Now()}
	if key != "" {
		ev.Table = TableName(key)
	}
	return ev
}
