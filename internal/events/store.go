// Package events provides read access to the Sysmon event log store the
// noise analyzer consumes. The store is an external collaborator; this
// package holds the interface, the OpenSearch implementation and a Redis
// caching decorator.
package events

import "context"

// Aggregation is one (event type, field values) bucket counted over a
// host's events in a time window.
type Aggregation struct {
	EventID int               `json:"event_id"`
	Fields  map[string]string `json:"fields"`
	Count   int64             `json:"count"`
}

// Event is one raw Sysmon event document.
type Event struct {
	Timestamp string            `json:"timestamp"`
	EventID   int               `json:"event_id"`
	Hostname  string            `json:"hostname"`
	Fields    map[string]string `json:"fields"`
}

// Store reads Sysmon events collected from the fleet.
type Store interface {
	// GetAggregations buckets the host's events from the last hours by
	// event type and the given grouping fields per event type.
	GetAggregations(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]Aggregation, error)
	// QueryEvents returns raw events for ad-hoc inspection.
	QueryEvents(ctx context.Context, hostname string, eventID int, hours float64, limit int) ([]Event, error)
	// TestAccess verifies the store is reachable with the configured
	// credentials.
	TestAccess(ctx context.Context) error
}
