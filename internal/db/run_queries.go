package db

import (
	"context"
	"fmt"
)

const maxRunsListed = 200

// RecordRun inserts or replaces one dedup run row.
func (p *Pool) RecordRun(ctx context.Context, run DedupRun) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := p.gdb.WithContext(ctx).Save(&run).Error; err != nil {
		return fmt.Errorf("record dedup run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (p *Pool) ListRuns(ctx context.Context, limit int) ([]DedupRun, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 || limit > maxRunsListed {
		limit = maxRunsListed
	}

	var runs []DedupRun
	err := p.gdb.WithContext(ctx).
		Order("started_at DESC").
		Order("run_id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list dedup runs: %w", err)
	}
	return runs, nil
}
