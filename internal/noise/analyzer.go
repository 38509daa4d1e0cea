package noise

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/sysmonfleet/internal/events"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/metrics"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

// Level bands, fixed design constants: a pattern at 2x its threshold is
// Noisy, at 5x it is VeryNoisy.
const (
	noisyBand     = 2.0
	veryNoisyBand = 5.0
)

// LevelForScore maps a score to its band.
func LevelForScore(score float64) models.NoiseLevel {
	switch {
	case score >= veryNoisyBand:
		return models.LevelVeryNoisy
	case score >= noisyBand:
		return models.LevelNoisy
	default:
		return models.LevelNormal
	}
}

// Analyzer runs noise scoring passes over hosts.
type Analyzer struct {
	repo   repository.Repository
	store  events.Store
	table  *FieldTable
	logger *logging.Logger
}

// NewAnalyzer creates an analyzer over the given repository and event store.
func NewAnalyzer(repo repository.Repository, store events.Store, table *FieldTable, logger *logging.Logger) *Analyzer {
	return &Analyzer{
		repo:   repo,
		store:  store,
		table:  table,
		logger: logger,
	}
}

// AnalyzeHost scores one host's event patterns over the last hours and
// persists the run with its results.
func (a *Analyzer) AnalyzeHost(ctx context.Context, hostID string, hours float64) (*models.NoiseRun, []*models.NoiseResult, error) {
	if hours <= 0 {
		return nil, nil, ErrInvalidTimeRange
	}
	start := time.Now()

	host, err := a.repo.GetHostByID(ctx, hostID)
	if err != nil {
		return nil, nil, err
	}
	role, err := NormalizeRole(host.Role)
	if err != nil {
		return nil, nil, err
	}

	aggs, err := a.store.GetAggregations(ctx, host.Hostname, hours, a.table.FieldsByEvent())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query event aggregations: %w", err)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, err
	}
	run := &models.NoiseRun{
		ID:             runID.String(),
		HostID:         host.ID,
		TimeRangeHours: hours,
		CreatedAt:      time.Now().UTC(),
	}

	var results []*models.NoiseResult
	for _, agg := range aggs {
		et, ok := a.table.Lookup(agg.EventID)
		if !ok {
			continue
		}
		threshold, err := LookupThreshold(role, agg.EventID)
		if err != nil {
			return nil, nil, err
		}
		if threshold <= 0 {
			continue
		}

		groupKey, err := a.table.BuildGroupKey(agg.EventID, agg.Fields)
		if err != nil {
			continue
		}

		rate := float64(agg.Count) / hours
		score := rate / threshold

		resID, err := uuid.NewV7()
		if err != nil {
			return nil, nil, err
		}
		results = append(results, &models.NoiseResult{
			ID:             resID.String(),
			RunID:          run.ID,
			EventID:        agg.EventID,
			GroupKey:       groupKey,
			Count:          agg.Count,
			Rate:           rate,
			Score:          score,
			Level:          LevelForScore(score),
			ExclusionField: et.FilterField,
			ExclusionValue: agg.Fields[et.FilterField],
		})
		run.TotalEvents += agg.Count
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if err := a.repo.CreateNoiseRun(ctx, run, results); err != nil {
		return nil, nil, fmt.Errorf("failed to persist noise run: %w", err)
	}

	metrics.AnalysisRuns.Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	a.logger.Info("noise analysis complete",
		"host", host.Hostname, "hours", hours,
		"patterns", len(results), "total_events", run.TotalEvents)

	return run, results, nil
}

// CompareHosts analyzes each host (reusing a run created within the window
// when one exists) and reports per-host noise plus patterns noisy on more
// than one host.
func (a *Analyzer) CompareHosts(ctx context.Context, hostIDs []string, hours float64) (*models.ComparisonReport, error) {
	if len(hostIDs) == 0 {
		return nil, ErrNoHostsSelected
	}

	report := &models.ComparisonReport{}
	patternHosts := make(map[string]map[string]struct{})

	for _, hostID := range hostIDs {
		host, err := a.repo.GetHostByID(ctx, hostID)
		if err != nil {
			return nil, err
		}

		run, results, err := a.runForComparison(ctx, hostID, hours)
		if err != nil {
			return nil, err
		}

		entry := models.HostComparison{
			HostID:   hostID,
			Hostname: host.Hostname,
			RunID:    run.ID,
		}
		for _, res := range results {
			switch res.Level {
			case models.LevelNoisy:
				entry.NoisyCount++
			case models.LevelVeryNoisy:
				entry.VeryNoisyCount++
			default:
				continue
			}
			entry.AggregateScore += res.Score
			if patternHosts[res.GroupKey] == nil {
				patternHosts[res.GroupKey] = make(map[string]struct{})
			}
			patternHosts[res.GroupKey][hostID] = struct{}{}
		}
		report.Hosts = append(report.Hosts, entry)
	}

	for key, hosts := range patternHosts {
		if len(hosts) > 1 {
			report.CommonPatterns = append(report.CommonPatterns, key)
		}
	}
	sort.Strings(report.CommonPatterns)

	return report, nil
}

// runForComparison reuses a host's latest run for the same window when it
// is newer than the window start; otherwise it runs a fresh analysis.
func (a *Analyzer) runForComparison(ctx context.Context, hostID string, hours float64) (*models.NoiseRun, []*models.NoiseResult, error) {
	run, err := a.repo.LatestNoiseRun(ctx, hostID, hours)
	if err == nil && time.Since(run.CreatedAt) < time.Duration(hours*float64(time.Hour)) {
		results, err := a.repo.GetNoiseResults(ctx, run.ID)
		if err != nil {
			return nil, nil, err
		}
		return run, results, nil
	}
	return a.AnalyzeHost(ctx, hostID, hours)
}

// GetRun returns a run with its results.
func (a *Analyzer) GetRun(ctx context.Context, runID string) (*models.NoiseRun, []*models.NoiseResult, error) {
	run, err := a.repo.GetNoiseRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	results, err := a.repo.GetNoiseResults(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, results, nil
}

// History lists past runs, optionally filtered to one host.
func (a *Analyzer) History(ctx context.Context, hostID string, limit int) ([]*models.NoiseRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return a.repo.ListNoiseRuns(ctx, hostID, limit)
}

// DeleteRun removes a run and its results.
func (a *Analyzer) DeleteRun(ctx context.Context, runID string) error {
	return a.repo.DeleteNoiseRun(ctx, runID)
}

// PurgeRuns removes runs older than the given age in days.
func (a *Analyzer) PurgeRuns(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, fmt.Errorf("purge age must be at least one day")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	return a.repo.PurgeNoiseRuns(ctx, cutoff)
}
