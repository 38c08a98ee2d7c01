package db

import (
	"context"
	"fmt"
	"time"
)

// StatsSourceCount stores per-source contribution counts.
type StatsSourceCount struct {
	SourceID      string `json:"source_id"`
	Events        int64  `json:"events"`
	PrimaryEvents int64  `json:"primary_events"`
}

// StatsTotals stores totals across sources.
type StatsTotals struct {
	Events        int64 `json:"events"`
	Contributions int64 `json:"contributions"`
	MultiSource   int64 `json:"multi_source_events"`
	Runs          int64 `json:"runs"`
}

// MergeThroughput stores the decisions applied since the start of the day.
type MergeThroughput struct {
	EventsInsertedToday int64 `json:"events_inserted_today"`
	EventsMergedToday   int64 `json:"events_merged_today"`
	RunsToday           int64 `json:"runs_today"`
}

// MergeStats is the read model returned by the stats endpoint.
type MergeStats struct {
	Day         string             `json:"day"`
	Sources     []StatsSourceCount `json:"sources"`
	Totals      StatsTotals        `json:"totals"`
	Throughput  MergeThroughput    `json:"throughput"`
	MeanQuality float64            `json:"mean_quality"`
}

// QueryMergeStats returns per-source and total counts plus daily throughput.
func (p *Pool) QueryMergeStats(ctx context.Context, dayStart, dayEnd time.Time) (*MergeStats, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &MergeStats{
		Day:     startUTC.Format("2006-01-02"),
		Sources: make([]StatsSourceCount, 0, 16),
	}

	const sourcesQuery = `
SELECT
	es.source_id,
	COUNT(*) AS events,
	SUM(CASE WHEN es.is_primary THEN 1 ELSE 0 END) AS primary_events
FROM event_sources es
GROUP BY es.source_id
ORDER BY es.source_id
`

	rows, err := p.gdb.WithContext(ctx).Raw(sourcesQuery).Rows()
	if err != nil {
		return nil, fmt.Errorf("query stats source counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row StatsSourceCount
		if err := rows.Scan(&row.SourceID, &row.Events, &row.PrimaryEvents); err != nil {
			return nil, fmt.Errorf("scan stats source row: %w", err)
		}
		stats.Sources = append(stats.Sources, row)
		stats.Totals.Contributions += row.Events
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats source rows: %w", err)
	}

	const totalsQuery = `
SELECT
	(SELECT COUNT(*) FROM events) AS events,
	(SELECT COUNT(*) FROM (SELECT event_id FROM event_sources GROUP BY event_id HAVING COUNT(*) > 1) m) AS multi_source_events,
	(SELECT COUNT(*) FROM dedup_runs) AS runs,
	(SELECT COALESCE(AVG(quality_score), 0) FROM events) AS mean_quality
`
	if err := p.QueryRow(ctx, totalsQuery).Scan(
		&stats.Totals.Events,
		&stats.Totals.MultiSource,
		&stats.Totals.Runs,
		&stats.MeanQuality,
	); err != nil {
		return nil, fmt.Errorf("query stats totals: %w", err)
	}

	const throughputQuery = `
SELECT
	(SELECT COUNT(*) FROM events e WHERE e.created_at >= ? AND e.created_at < ?) AS events_inserted_today,
	(SELECT COUNT(*) FROM event_sources es WHERE es.last_action = 'UPDATE' AND es.updated_at >= ? AND es.updated_at < ?) AS events_merged_today,
	(SELECT COUNT(*) FROM dedup_runs r WHERE r.started_at >= ? AND r.started_at < ?) AS runs_today
`
	if err := p.QueryRow(ctx, throughputQuery, startUTC, endUTC, startUTC, endUTC, startUTC, endUTC).Scan(
		&stats.Throughput.EventsInsertedToday,
		&stats.Throughput.EventsMergedToday,
		&stats.Throughput.RunsToday,
	); err != nil {
		return nil, fmt.Errorf("query stats throughput: %w", err)
	}

	return stats, nil
}
