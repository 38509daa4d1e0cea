package noise

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed eventfields.yaml
var eventFieldsYAML []byte

// EventType describes how one Sysmon event type participates in noise
// analysis: which fields form the grouping key, which field an exclusion
// rule filters on, and the Sysmon schema element name for that rule.
type EventType struct {
	ID          int      `yaml:"id"`
	Name        string   `yaml:"name"`
	Fields      []string `yaml:"fields"`
	FilterField string   `yaml:"filter_field"`
}

// FieldTable is the per-event-type configuration table. The set is loaded
// from embedded YAML so new event types are a table edit, not a code change.
type FieldTable struct {
	byID  map[int]EventType
	order []int
}

var (
	defaultTable     *FieldTable
	defaultTableOnce sync.Once
	defaultTableErr  error
)

// DefaultFieldTable returns the table parsed from the embedded YAML.
func DefaultFieldTable() (*FieldTable, error) {
	defaultTableOnce.Do(func() {
		defaultTable, defaultTableErr = ParseFieldTable(eventFieldsYAML)
	})
	return defaultTable, defaultTableErr
}

// MustDefaultFieldTable is DefaultFieldTable for wiring code; the embedded
// table is part of the build, so a parse failure is a programmer error.
func MustDefaultFieldTable() *FieldTable {
	t, err := DefaultFieldTable()
	if err != nil {
		panic(err)
	}
	return t
}

// ParseFieldTable parses a YAML event-type table.
func ParseFieldTable(data []byte) (*FieldTable, error) {
	var doc struct {
		EventTypes []EventType `yaml:"event_types"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse event field table: %w", err)
	}
	if len(doc.EventTypes) == 0 {
		return nil, fmt.Errorf("event field table is empty")
	}

	t := &FieldTable{byID: make(map[int]EventType, len(doc.EventTypes))}
	for _, et := range doc.EventTypes {
		if et.ID == 0 || len(et.Fields) == 0 {
			return nil, fmt.Errorf("event type %q missing id or fields", et.Name)
		}
		if et.FilterField == "" {
			et.FilterField = et.Fields[0]
		}
		t.byID[et.ID] = et
		t.order = append(t.order, et.ID)
	}
	return t, nil
}

// Lookup returns the configuration for an event type.
func (t *FieldTable) Lookup(eventID int) (EventType, bool) {
	et, ok := t.byID[eventID]
	return et, ok
}

// EventIDs returns the configured event type ids in table order.
func (t *FieldTable) EventIDs() []int {
	return append([]int(nil), t.order...)
}

// FieldsByEvent returns the grouping fields per event id, the shape the
// event store's aggregation query consumes.
func (t *FieldTable) FieldsByEvent() map[int][]string {
	out := make(map[int][]string, len(t.byID))
	for id, et := range t.byID {
		out[id] = append([]string(nil), et.Fields...)
	}
	return out
}

// BuildGroupKey renders a pattern's canonical key. Field order follows the
// table, so identical patterns always produce identical keys. Fields absent
// from the values map are skipped.
func (t *FieldTable) BuildGroupKey(eventID int, values map[string]string) (string, error) {
	et, ok := t.byID[eventID]
	if !ok {
		return "", fmt.Errorf("no field table entry for event type %d", eventID)
	}
	var parts []string
	for _, f := range et.Fields {
		if v, ok := values[f]; ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", f, v))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no grouping fields present for event type %d", eventID)
	}
	return strings.Join(parts, " | "), nil
}

// ParseGroupKey reverses BuildGroupKey into field/value pairs.
func ParseGroupKey(key string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(key, " | ") {
		name, value, found := strings.Cut(part, ": ")
		if !found || name == "" {
			return nil, fmt.Errorf("malformed group key segment: %q", part)
		}
		out[name] = value
	}
	return out, nil
}
