package noise

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/sysmonfleet/internal/events"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

type fakeEventStore struct {
	getAggregationsFunc func(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error)
}

func (f *fakeEventStore) GetAggregations(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error) {
	return f.getAggregationsFunc(ctx, hostname, hours, fieldsByEvent)
}

func (f *fakeEventStore) QueryEvents(ctx context.Context, hostname string, eventID int, hours float64, limit int) ([]events.Event, error) {
	return nil, nil
}

func (f *fakeEventStore) TestAccess(ctx context.Context) error { return nil }

func newTestAnalyzer(t *testing.T, store events.Store) (*Analyzer, repository.Repository) {
	t.Helper()
	table, err := DefaultFieldTable()
	require.NoError(t, err)
	repo := repository.NewInMemoryRepository()
	return NewAnalyzer(repo, store, table, logging.New(logging.ParseLevel("error"), "text")), repo
}

func addRole(t *testing.T, repo repository.Repository, hostname, role string) *models.Host {
	t.Helper()
	h := &models.Host{
		ID:        hostname + "-id",
		Hostname:  hostname,
		Role:      role,
		Managed:   models.ManagedDirect,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateHost(context.Background(), h))
	return h
}

func TestLevelForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  models.NoiseLevel
	}{
		{0, models.LevelNormal},
		{1.0, models.LevelNormal},
		{1.99, models.LevelNormal},
		{2.0, models.LevelNoisy},
		{4.99, models.LevelNoisy},
		{5.0, models.LevelVeryNoisy},
		{17.3, models.LevelVeryNoisy},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("score %.2f", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, LevelForScore(tt.score))
		})
	}
}

func TestAnalyzeHost_ScoresAgainstRoleThresholds(t *testing.T) {
	// Workstation ProcessCreate threshold is 50/h. Over 24h:
	// 2400 events -> 100/h -> score 2.0 (Noisy)
	// 6000 events -> 250/h -> score 5.0 (VeryNoisy)
	// 120 events  -> 5/h   -> score 0.1 (Normal)
	store := &fakeEventStore{
		getAggregationsFunc: func(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error) {
			assert.Equal(t, "ws-01", hostname)
			return []events.Aggregation{
				{EventID: EventProcessCreate, Fields: map[string]string{"Image": "C:\\chatty.exe", "User": "CORP\\svc"}, Count: 2400},
				{EventID: EventProcessCreate, Fields: map[string]string{"Image": "C:\\storm.exe"}, Count: 6000},
				{EventID: EventProcessCreate, Fields: map[string]string{"Image": "C:\\quiet.exe"}, Count: 120},
			}, nil
		},
	}
	analyzer, _ := newTestAnalyzer(t, store)
	addRole(t, analyzer.repo, "ws-01", "Workstation")

	run, results, err := analyzer.AnalyzeHost(context.Background(), "ws-01-id", 24)
	require.NoError(t, err)
	assert.Equal(t, int64(8520), run.TotalEvents)
	require.Len(t, results, 3)

	// Results come back score-descending.
	assert.Equal(t, models.LevelVeryNoisy, results[0].Level)
	assert.InDelta(t, 5.0, results[0].Score, 1e-9)
	assert.Equal(t, "C:\\storm.exe", results[0].ExclusionValue)
	assert.Equal(t, "Image", results[0].ExclusionField)

	assert.Equal(t, models.LevelNoisy, results[1].Level)
	assert.InDelta(t, 2.0, results[1].Score, 1e-9)
	assert.Equal(t, "Image: C:\\chatty.exe | User: CORP\\svc", results[1].GroupKey)

	assert.Equal(t, models.LevelNormal, results[2].Level)
	assert.InDelta(t, 0.1, results[2].Score, 1e-9)

	// The run is persisted and retrievable.
	stored, storedResults, err := analyzer.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, stored.ID)
	assert.Len(t, storedResults, 3)
}

func TestAnalyzeHost_ServerRoleHasHigherCeiling(t *testing.T) {
	store := &fakeEventStore{
		getAggregationsFunc: func(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error) {
			return []events.Aggregation{
				{EventID: EventNetworkConnection, Fields: map[string]string{"Image": "C:\\srv.exe", "DestinationIp": "10.0.0.9"}, Count: 4800},
			}, nil
		},
	}
	analyzer, _ := newTestAnalyzer(t, store)
	addRole(t, analyzer.repo, "srv-01", "Server")

	// 4800 events over 24h is 200/h: score 2.0 on a workstation (100/h
	// ceiling) but only 0.4 on a server (500/h ceiling).
	_, results, err := analyzer.AnalyzeHost(context.Background(), "srv-01-id", 24)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.4, results[0].Score, 1e-9)
	assert.Equal(t, models.LevelNormal, results[0].Level)
	assert.Equal(t, "DestinationIp", results[0].ExclusionField)
	assert.Equal(t, "10.0.0.9", results[0].ExclusionValue)
}

func TestAnalyzeHost_InvalidInputs(t *testing.T) {
	store := &fakeEventStore{
		getAggregationsFunc: func(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error) {
			return nil, nil
		},
	}
	analyzer, _ := newTestAnalyzer(t, store)
	addRole(t, analyzer.repo, "ws-01", "mainframe")

	_, _, err := analyzer.AnalyzeHost(context.Background(), "ws-01-id", 24)
	require.Error(t, err, "unknown role must be a validation error")

	_, _, err = analyzer.AnalyzeHost(context.Background(), "ws-01-id", 0)
	require.Error(t, err)

	_, _, err = analyzer.AnalyzeHost(context.Background(), "missing", 24)
	assert.ErrorIs(t, err, repository.ErrHostNotFound)
}

func TestCompareHosts_CommonPatterns(t *testing.T) {
	sharedKey := map[string]string{"Image": "C:\\Windows\\System32\\svchost.exe"}
	store := &fakeEventStore{
		getAggregationsFunc: func(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error) {
			aggs := []events.Aggregation{
				// 2400 over 24h on a workstation: score 2.0, noisy on both.
				{EventID: EventProcessCreate, Fields: sharedKey, Count: 2400},
			}
			if hostname == "ws-02" {
				// Only ws-02 has this very noisy host-specific pattern.
				aggs = append(aggs, events.Aggregation{
					EventID: EventProcessCreate,
					Fields:  map[string]string{"Image": "C:\\only-here.exe"},
					Count:   12000,
				})
			}
			return aggs, nil
		},
	}
	analyzer, _ := newTestAnalyzer(t, store)
	addRole(t, analyzer.repo, "ws-01", "Workstation")
	addRole(t, analyzer.repo, "ws-02", "Workstation")

	report, err := analyzer.CompareHosts(context.Background(), []string{"ws-01-id", "ws-02-id"}, 24)
	require.NoError(t, err)
	require.Len(t, report.Hosts, 2)

	assert.Equal(t, 1, report.Hosts[0].NoisyCount)
	assert.Equal(t, 0, report.Hosts[0].VeryNoisyCount)
	assert.Equal(t, 1, report.Hosts[1].NoisyCount)
	assert.Equal(t, 1, report.Hosts[1].VeryNoisyCount)
	assert.Greater(t, report.Hosts[1].AggregateScore, report.Hosts[0].AggregateScore)

	require.Len(t, report.CommonPatterns, 1)
	assert.Equal(t, "Image: C:\\Windows\\System32\\svchost.exe", report.CommonPatterns[0])
}

func TestCompareHosts_ReusesFreshRun(t *testing.T) {
	calls := 0
	store := &fakeEventStore{
		getAggregationsFunc: func(ctx context.Context, hostname string, hours float64, fieldsByEvent map[int][]string) ([]events.Aggregation, error) {
			calls++
			return nil, nil
		},
	}
	analyzer, _ := newTestAnalyzer(t, store)
	addRole(t, analyzer.repo, "ws-01", "Workstation")

	_, _, err := analyzer.AnalyzeHost(context.Background(), "ws-01-id", 24)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = analyzer.CompareHosts(context.Background(), []string{"ws-01-id"}, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "a fresh run within the window must be reused")
}

func TestLookupThreshold(t *testing.T) {
	tests := []struct {
		role    string
		eventID int
		want    float64
		wantErr bool
	}{
		{role: "Workstation", eventID: EventProcessCreate, want: 50},
		{role: "server", eventID: EventNetworkConnection, want: 500},
		{role: "DomainController", eventID: EventDnsQuery, want: 2000},
		{role: "", eventID: EventProcessCreate, want: 50},
		{role: "toaster", eventID: EventProcessCreate, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got, err := LookupThreshold(tt.role, tt.eventID)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
