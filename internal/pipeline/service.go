package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/dedup"
	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/metrics"
	"horse.fit/eventmerge/internal/rules"
	payloadschema "horse.fit/eventmerge/schema"
)

const (
	TriggerCLI  = "cli"
	TriggerHTTP = "http"

	// OutcomeRejected marks a payload that failed schema validation.
	OutcomeRejected dedup.OutcomeKind = "rejected"
)

// ErrMalformedBatch wraps errors in the batch document itself, as opposed to
// errors in individual payloads.
var ErrMalformedBatch = errors.New("malformed batch document")

// Service validates raw payloads, runs them through the dedup engine, and
// persists decisions. Each batch uses the rules current when it starts.
type Service struct {
	pool     *db.Pool
	rules    rules.Source
	recorder *metrics.Recorder
	logger   zerolog.Logger
	newRunID func() string
	now      func() time.Time
}

type RunOptions struct {
	Trigger string
	DryRun  bool
}

// ItemOutcome is the fate of one payload, indexed by its position in the batch.
type ItemOutcome struct {
	Index      int                  `json:"index"`
	Kind       dedup.OutcomeKind    `json:"kind"`
	SourceID   string               `json:"source_id,omitempty"`
	ExternalID string               `json:"external_id,omitempty"`
	InBatch    bool                 `json:"in_batch,omitempty"`
	Decision   *merge.MergeDecision `json:"decision,omitempty"`
	Applied    bool                 `json:"applied"`
	Error      string               `json:"error,omitempty"`
}

type RunReport struct {
	RunID         string           `json:"run_id"`
	Trigger       string           `json:"trigger"`
	DryRun        bool             `json:"dry_run"`
	Received      int              `json:"received"`
	Rejected      int              `json:"rejected"`
	Stats         dedup.BatchStats `json:"stats"`
	Applied       int              `json:"applied"`
	ApplyFailures int              `json:"apply_failures"`
	Outcomes      []ItemOutcome    `json:"outcomes"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

func NewService(pool *db.Pool, source rules.Source, recorder *metrics.Recorder, logger zerolog.Logger) *Service {
	if source == nil {
		source = rules.Static(rules.Default())
	}
	return &Service{
		pool:     pool,
		rules:    source,
		recorder: recorder,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		newRunID: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:      globaltime.UTC,
	}
}

// Rules returns the rules a batch started now would use.
func (s *Service) Rules() rules.Rules {
	return s.rules.Current()
}

// RunDocument splits a batch document and runs its payloads.
func (s *Service) RunDocument(ctx context.Context, raw []byte, opts RunOptions) (RunReport, error) {
	payloads, err := payloadschema.SplitBatch(raw)
	if err != nil {
		return RunReport{}, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	return s.RunPayloads(ctx, payloads, opts)
}

// RunPayloads validates, decides, and unless DryRun applies one batch. Per-item
// failures are reported in the outcomes; the returned error is reserved for
// failures that stop the whole batch.
func (s *Service) RunPayloads(ctx context.Context, payloads []json.RawMessage, opts RunOptions) (RunReport, error) {
	if s == nil {
		return RunReport{}, fmt.Errorf("pipeline service is not initialized")
	}
	if s.pool == nil && !opts.DryRun {
		return RunReport{}, fmt.Errorf("database pool is required to apply decisions")
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerCLI
	}

	report := RunReport{
		RunID:     s.newRunID(),
		Trigger:   opts.Trigger,
		DryRun:    opts.DryRun,
		Received:  len(payloads),
		StartedAt: s.now(),
	}
	started := time.Now()
	logger := s.logger.With().Str("run_id", report.RunID).Str("trigger", opts.Trigger).Logger()

	current := s.rules.Current()
	engine, err := dedup.NewEngine(current, logger, dedup.WithClock(s.now))
	if err != nil {
		return report, fmt.Errorf("build dedup engine: %w", err)
	}

	validated := payloadschema.ValidateBatch(payloads)
	report.Rejected = len(validated.Rejections)
	for _, rejection := range validated.Rejections {
		report.Outcomes = append(report.Outcomes, ItemOutcome{
			Index: rejection.Index,
			Kind:  OutcomeRejected,
			Error: rejection.Error,
		})
		logger.Warn().Int("index", rejection.Index).Str("error", rejection.Error).Msg("payload rejected")
	}

	var lookup dedup.ShortlistFunc
	var store *db.EventStore
	if s.pool != nil {
		store = db.NewEventStore(s.pool, current, logger)
		lookup = store.ShortlistFunc(ctx)
	}
	result := engine.ProcessBatch(validated.Candidates, lookup)
	report.Stats = result.Stats
	report.Stats.Received = len(payloads)

	var runErr error
	for _, outcome := range result.Outcomes {
		item := ItemOutcome{
			Index:      validated.Positions[outcome.Index],
			Kind:       outcome.Kind,
			SourceID:   outcome.SourceID,
			ExternalID: outcome.ExternalID,
			InBatch:    outcome.InBatch,
			Decision:   outcome.Decision,
			Error:      outcome.Error,
		}

		if !opts.DryRun && runErr == nil {
			if err := ctx.Err(); err != nil {
				runErr = fmt.Errorf("batch interrupted: %w", err)
			}
		}
		if outcome.Decision != nil && !opts.DryRun && runErr == nil {
			if err := store.ApplyDecision(ctx, *outcome.Decision); err != nil {
				report.ApplyFailures++
				item.Error = err.Error()
				reason := "error"
				if errors.Is(err, db.ErrStaleRevision) {
					reason = "stale_revision"
				}
				s.recorder.ObserveApplyFailure(reason)
				logger.Error().
					Err(err).
					Int("index", item.Index).
					Str("action", string(outcome.Decision.Action)).
					Str("target_id", outcome.Decision.TargetID).
					Msg("apply decision failed")
			} else {
				item.Applied = true
				report.Applied++
			}
		}
		report.Outcomes = append(report.Outcomes, item)
	}
	sort.SliceStable(report.Outcomes, func(i, j int) bool {
		return report.Outcomes[i].Index < report.Outcomes[j].Index
	})

	report.FinishedAt = s.now()
	s.recorder.ObserveRejected(report.Rejected)
	s.recorder.ObserveBatch(opts.Trigger, opts.DryRun, result, time.Since(started))

	if s.pool != nil {
		if err := s.pool.RecordRun(context.WithoutCancel(ctx), runRow(report, runErr)); err != nil {
			logger.Error().Err(err).Msg("record dedup run failed")
		}
	}

	logger.Info().
		Bool("dry_run", opts.DryRun).
		Int("received", report.Received).
		Int("rejected", report.Rejected).
		Int("inserted", report.Stats.Inserted).
		Int("updated", report.Stats.Updated).
		Int("skipped", report.Stats.Skipped).
		Int("invalid", report.Stats.Invalid).
		Int("lookup_failures", report.Stats.LookupFailures).
		Int("apply_failures", report.ApplyFailures).
		Dur("took", time.Since(started)).
		Msg("dedup batch completed")

	return report, runErr
}

func runRow(report RunReport, runErr error) db.DedupRun {
	finished := report.FinishedAt
	row := db.DedupRun{
		RunID:          report.RunID,
		Trigger:        report.Trigger,
		DryRun:         report.DryRun,
		Received:       report.Received,
		Rejected:       report.Rejected,
		Inserted:       report.Stats.Inserted,
		Updated:        report.Stats.Updated,
		Skipped:        report.Stats.Skipped,
		Invalid:        report.Stats.Invalid,
		LookupFailures: report.Stats.LookupFailures,
		InBatchMatches: report.Stats.InBatchMatches,
		Ambiguous:      report.Stats.Ambiguous,
		ApplyFailures:  report.ApplyFailures,
		StartedAt:      report.StartedAt,
		FinishedAt:     &finished,
	}
	if runErr != nil {
		msg := runErr.Error()
		row.ErrorMessage = &msg
	}
	return row
}
