package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFieldTable(t *testing.T) {
	table, err := DefaultFieldTable()
	require.NoError(t, err)

	for _, id := range []int{EventProcessCreate, EventNetworkConnection, EventImageLoad, EventFileCreate, EventDnsQuery} {
		et, ok := table.Lookup(id)
		require.True(t, ok, "event type %d must be configured", id)
		assert.NotEmpty(t, et.Name)
		assert.NotEmpty(t, et.Fields)
		assert.NotEmpty(t, et.FilterField)
	}
}

func TestMustDefaultFieldTable(t *testing.T) {
	var table *FieldTable
	require.NotPanics(t, func() {
		table = MustDefaultFieldTable()
	})
	require.NotNil(t, table)

	want, err := DefaultFieldTable()
	require.NoError(t, err)
	assert.Same(t, want, table)
}

func TestBuildGroupKey_DeterministicOrder(t *testing.T) {
	table, err := DefaultFieldTable()
	require.NoError(t, err)

	values := map[string]string{
		"DestinationPort": "443",
		"Image":           "C:\\Program Files\\agent\\agent.exe",
		"DestinationIp":   "10.0.0.5",
	}
	key, err := table.BuildGroupKey(EventNetworkConnection, values)
	require.NoError(t, err)
	assert.Equal(t, "Image: C:\\Program Files\\agent\\agent.exe | DestinationIp: 10.0.0.5 | DestinationPort: 443", key)

	// Same values again must give byte-identical output.
	again, err := table.BuildGroupKey(EventNetworkConnection, values)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestBuildGroupKey_SkipsMissingFields(t *testing.T) {
	table, err := DefaultFieldTable()
	require.NoError(t, err)

	key, err := table.BuildGroupKey(EventProcessCreate, map[string]string{"Image": "C:\\x.exe"})
	require.NoError(t, err)
	assert.Equal(t, "Image: C:\\x.exe", key)

	_, err = table.BuildGroupKey(EventProcessCreate, map[string]string{})
	require.Error(t, err)

	_, err = table.BuildGroupKey(99, map[string]string{"Image": "x"})
	require.Error(t, err)
}

func TestParseGroupKey_RoundTrip(t *testing.T) {
	table, err := DefaultFieldTable()
	require.NoError(t, err)

	values := map[string]string{
		"Image":     "C:\\Windows\\System32\\svchost.exe",
		"QueryName": "telemetry.example.com",
	}
	key, err := table.BuildGroupKey(EventDnsQuery, values)
	require.NoError(t, err)

	parsed, err := ParseGroupKey(key)
	require.NoError(t, err)
	assert.Equal(t, values, parsed)
}

func TestParseGroupKey_Malformed(t *testing.T) {
	_, err := ParseGroupKey("no-separator-here")
	require.Error(t, err)
}

func TestParseFieldTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty table", yaml: "event_types: []"},
		{name: "missing id", yaml: "event_types:\n  - name: X\n    fields: [A]"},
		{name: "missing fields", yaml: "event_types:\n  - id: 1\n    name: X"},
		{name: "bad yaml", yaml: ":\n  -"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFieldTable([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestParseFieldTable_FilterFieldDefaults(t *testing.T) {
	table, err := ParseFieldTable([]byte("event_types:\n  - id: 5\n    name: ProcessTerminate\n    fields: [Image]"))
	require.NoError(t, err)
	et, ok := table.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, "Image", et.FilterField)
}
