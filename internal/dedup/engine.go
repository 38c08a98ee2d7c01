package dedup

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/match"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/normalize"
	"horse.fit/eventmerge/internal/quality"
	"horse.fit/eventmerge/internal/rules"
)

var ErrLookupFailure = errors.New("shortlist lookup failed")

// ShortlistFunc returns the stored events that could match c: events within
// the date window in the same or an unknown city, plus any record already
// linked to c's source and external id.
type ShortlistFunc func(c events.CandidateEvent) ([]events.StoredEvent, error)

type OutcomeKind string

const (
	OutcomeDecided      OutcomeKind = "decided"
	OutcomeInvalid      OutcomeKind = "invalid"
	OutcomeLookupFailed OutcomeKind = "lookup_failed"
)

// Outcome is the result for one input position of a batch.
type Outcome struct {
	Index      int                  `json:"index"`
	Kind       OutcomeKind          `json:"kind"`
	SourceID   string               `json:"source_id"`
	ExternalID string               `json:"external_id,omitempty"`
	InBatch    bool                 `json:"in_batch,omitempty"`
	Decision   *merge.MergeDecision `json:"decision,omitempty"`
	Error      string               `json:"error,omitempty"`
	Err        error                `json:"-"`
}

type BatchStats struct {
	Received       int `json:"received"`
	Inserted       int `json:"inserted"`
	Updated        int `json:"updated"`
	Skipped        int `json:"skipped"`
	Invalid        int `json:"invalid"`
	LookupFailures int `json:"lookup_failures"`
	InBatchMatches int `json:"in_batch_matches"`
	Ambiguous      int `json:"ambiguous"`
}

type BatchResult struct {
	Outcomes []Outcome  `json:"outcomes"`
	Stats    BatchStats `json:"stats"`
}

// Decisions returns the decisions of every decided outcome in input order.
func (r BatchResult) Decisions() []merge.MergeDecision {
	out := make([]merge.MergeDecision, 0, len(r.Outcomes))
	for _, outcome := range r.Outcomes {
		if outcome.Decision != nil {
			out = append(out, *outcome.Decision)
		}
	}
	return out
}

type Option func(*Engine)

// WithIDFunc replaces the generator used for ids of inserted events.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock replaces the clock used to stamp last_merged_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs batches of candidates through normalize, score, match and plan.
// It performs no I/O beyond the ShortlistFunc it is handed.
type Engine struct {
	normalizer *normalize.Normalizer
	scorer     *quality.Scorer
	matcher    *match.Matcher
	planner    *merge.Planner
	logger     zerolog.Logger
	newID      func() string
	now        func() time.Time
}

func NewEngine(r rules.Rules, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	normalizer := normalize.New(r.City)
	scorer, err := quality.NewScorer(r.Quality)
	if err != nil {
		return nil, err
	}
	matcher, err := match.NewMatcher(r.Match, normalizer)
	if err != nil {
		return nil, err
	}
	planner, err := merge.NewPlanner(r.Merge, scorer)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		normalizer: normalizer,
		scorer:     scorer,
		matcher:    matcher,
		planner:    planner,
		logger:     logger.With().Str("component", "dedup").Logger(),
		newID:      newEventID,
		now:        globaltime.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Normalizer() *normalize.Normalizer {
	return e.normalizer
}

func (e *Engine) Scorer() *quality.Scorer {
	return e.scorer
}

// ProcessBatch decides every candidate in order. Later candidates see the
// records created or merged by earlier ones, so duplicates inside one batch
// collapse onto a single event. A failing candidate never aborts the batch.
func (e *Engine) ProcessBatch(candidates []events.CandidateEvent, lookup ShortlistFunc) BatchResult {
	result := BatchResult{Outcomes: make([]Outcome, 0, len(candidates))}
	result.Stats.Received = len(candidates)
	state := newBatchState()

	for i := range candidates {
		candidate := candidates[i].Clean()
		outcome := Outcome{
			Index:      i,
			SourceID:   candidate.SourceID,
			ExternalID: candidate.ExternalID,
		}
		if raw := candidates[i].Coordinates; raw != nil && candidate.Coordinates == nil {
			e.logger.Warn().
				Int("index", i).
				Str("source_id", candidate.SourceID).
				Str("external_id", candidate.ExternalID).
				Float64("latitude", raw.Latitude).
				Float64("longitude", raw.Longitude).
				Msg("coordinates out of range dropped")
		}

		if err := candidate.Validate(); err != nil {
			outcome.Kind = OutcomeInvalid
			outcome.setErr(err)
			result.Stats.Invalid++
			e.logger.Warn().
				Int("index", i).
				Str("source_id", candidate.SourceID).
				Str("external_id", candidate.ExternalID).
				Err(err).
				Msg("candidate rejected")
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		var stored []events.StoredEvent
		if lookup != nil {
			rows, err := lookup(candidate)
			if err != nil {
				outcome.Kind = OutcomeLookupFailed
				outcome.setErr(fmt.Errorf("%w: %w", ErrLookupFailure, err))
				result.Stats.LookupFailures++
				e.logger.Error().
					Int("index", i).
					Str("source_id", candidate.SourceID).
					Str("external_id", candidate.ExternalID).
					Err(err).
					Msg("shortlist lookup failed")
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}
			stored = rows
		}
		shortlist := state.shortlist(stored)

		found := e.matcher.FindMatch(candidate, shortlist)
		decision := e.planner.PlanScored(candidate, e.scorer.Score(candidate.Details), found)
		if decision.Action == merge.ActionInsert {
			id := e.newID()
			decision.TargetID = id
			decision.Record.ID = id
		}
		if decision.Action != merge.ActionSkip {
			decision.Record.LastMergedAt = e.now()
		}

		if found != nil && state.createdInBatch(found.ExistingID) {
			outcome.InBatch = true
			result.Stats.InBatchMatches++
		}
		if found != nil && found.Ambiguous {
			result.Stats.Ambiguous++
			e.logger.Warn().
				Int("index", i).
				Str("source_id", candidate.SourceID).
				Str("target_id", found.ExistingID).
				Float64("confidence", found.Confidence).
				Msg("ambiguous match resolved by quality and id order")
		}

		switch decision.Action {
		case merge.ActionInsert:
			result.Stats.Inserted++
		case merge.ActionUpdate:
			result.Stats.Updated++
		case merge.ActionSkip:
			result.Stats.Skipped++
		}

		e.logger.Debug().
			Int("index", i).
			Str("action", string(decision.Action)).
			Str("source_id", decision.SourceID).
			Str("target_id", decision.TargetID).
			Float64("incoming_score", decision.IncomingScore.Score).
			Float64("quality_score", decision.QualityScore).
			Str("reason", decision.Reason).
			Msg("event decided")

		state.remember(decision)
		outcome.Kind = OutcomeDecided
		outcome.Decision = &decision
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}

func (o *Outcome) setErr(err error) {
	o.Err = err
	o.Error = err.Error()
}

func newEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// batchState overlays the decisions made so far in a batch on top of what the
// store returned, since nothing is persisted until the batch completes.
type batchState struct {
	records map[string]events.StoredEvent
	created []string
	isNew   map[string]struct{}
}

func newBatchState() *batchState {
	return &batchState{
		records: make(map[string]events.StoredEvent),
		isNew:   make(map[string]struct{}),
	}
}

func (s *batchState) shortlist(stored []events.StoredEvent) []events.StoredEvent {
	out := make([]events.StoredEvent, 0, len(stored)+len(s.created))
	seen := make(map[string]struct{}, len(stored))
	for _, row := range stored {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		if latest, ok := s.records[row.ID]; ok {
			out = append(out, latest)
			continue
		}
		out = append(out, row)
	}
	for _, id := range s.created {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, s.records[id])
	}
	return out
}

func (s *batchState) remember(decision merge.MergeDecision) {
	id := decision.Record.ID
	if id == "" {
		return
	}
	s.records[id] = decision.Record.Clone()
	if decision.Action == merge.ActionInsert {
		if _, ok := s.isNew[id]; !ok {
			s.isNew[id] = struct{}{}
			s.created = append(s.created, id)
		}
	}
}

func (s *batchState) createdInBatch(id string) bool {
	_, ok := s.isNew[id]
	return ok
}
