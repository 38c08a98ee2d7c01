package merge

import (
	"errors"
	"fmt"

	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/match"
	"horse.fit/eventmerge/internal/quality"
)

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionSkip   Action = "SKIP"
)

const (
	ReasonNoMatch       = "no matching event"
	ReasonSameSource    = "same-source refresh"
	ReasonLowerQuality  = "lower-or-equal quality duplicate"
	ReasonHigherQuality = "higher quality duplicate"
	defaultHysteresis   = 0.05
)

var ErrInvalidConfig = errors.New("invalid merge config")

// identityFields are never rewritten once a record holds them.
var identityFields = map[events.Field]struct{}{
	events.FieldTitle:     {},
	events.FieldStartDate: {},
	events.FieldCity:      {},
}

type Config struct {
	// Hysteresis is the margin an incoming cross-source event must exceed the
	// stored quality score by before it may update the record.
	Hysteresis float64 `yaml:"hysteresis" json:"hysteresis"`
}

func DefaultConfig() Config {
	return Config{Hysteresis: defaultHysteresis}
}

func (c Config) Validate() error {
	if c.Hysteresis < 0 || c.Hysteresis >= 1 {
		return fmt.Errorf("%w: hysteresis must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// FieldChoice records the value a merged field holds and the source it came from.
type FieldChoice struct {
	Value  any    `json:"value"`
	Source string `json:"source"`
}

// MergeDecision is the pure outcome of planning one incoming event. Record
// holds the full stored state after the decision is applied.
type MergeDecision struct {
	Action              Action                       `json:"action"`
	TargetID            string                       `json:"target_id,omitempty"`
	SourceID            string                       `json:"source_id"`
	ExternalID          string                       `json:"external_id,omitempty"`
	Confidence          float64                      `json:"confidence"`
	MatchedOn           []events.Field               `json:"matched_on,omitempty"`
	SameSource          bool                         `json:"same_source"`
	Ambiguous           bool                         `json:"ambiguous,omitempty"`
	Reason              string                       `json:"reason"`
	IncomingScore       quality.QualityScore         `json:"incoming_score"`
	ExistingScore       float64                      `json:"existing_score"`
	QualityScore        float64                      `json:"quality_score"`
	MergedFields        map[events.Field]FieldChoice `json:"merged_fields"`
	Changed             []events.Field               `json:"changed,omitempty"`
	ContributingSources []string                     `json:"contributing_sources"`
	BaseRevision        int64                        `json:"base_revision"`
	Record              events.StoredEvent           `json:"-"`
}

type Planner struct {
	cfg    Config
	scorer *quality.Scorer
}

func NewPlanner(cfg Config, scorer *quality.Scorer) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = quality.Default()
	}
	return &Planner{cfg: cfg, scorer: scorer}, nil
}

// Plan scores incoming and decides how it lands against found.
func (p *Planner) Plan(incoming events.CandidateEvent, found *match.MatchCandidate) MergeDecision {
	return p.PlanScored(incoming, p.scorer.Score(incoming.Details), found)
}

// PlanScored is Plan with a precomputed incoming score.
func (p *Planner) PlanScored(incoming events.CandidateEvent, score quality.QualityScore, found *match.MatchCandidate) MergeDecision {
	incoming = incoming.Clean()
	if found == nil {
		return p.planInsert(incoming, score)
	}
	if found.SameSource {
		return p.planUpdate(incoming, score, found, true, ReasonSameSource)
	}
	if score.Score <= found.Existing.QualityScore+p.cfg.Hysteresis {
		return p.planSkip(incoming, score, found)
	}
	return p.planUpdate(incoming, score, found, false, ReasonHigherQuality)
}

func (p *Planner) planInsert(incoming events.CandidateEvent, score quality.QualityScore) MergeDecision {
	record := events.StoredEvent{
		ContributingSources: events.AppendSource(nil, incoming.SourceID),
		FieldSources:        make(map[events.Field]string),
		QualityScore:        score.Score,
		Revision:            1,
		Details:             incoming.Details,
	}
	if incoming.SourceID != "" && incoming.ExternalID != "" {
		record.SourceExternalIDs = map[string]string{incoming.SourceID: incoming.ExternalID}
	}
	changed := record.PopulatedFields()
	for _, field := range changed {
		record.FieldSources[field] = incoming.SourceID
	}

	return MergeDecision{
		Action:              ActionInsert,
		SourceID:            incoming.SourceID,
		ExternalID:          incoming.ExternalID,
		Reason:              ReasonNoMatch,
		IncomingScore:       score,
		QualityScore:        score.Score,
		MergedFields:        fieldChoices(record),
		Changed:             changed,
		ContributingSources: append([]string(nil), record.ContributingSources...),
		Record:              record,
	}
}

func (p *Planner) planSkip(incoming events.CandidateEvent, score quality.QualityScore, found *match.MatchCandidate) MergeDecision {
	record := withProvenance(found.Existing, incoming)
	decision := baseDecision(ActionSkip, incoming, score, found, ReasonLowerQuality)
	decision.QualityScore = record.QualityScore
	decision.MergedFields = fieldChoices(record)
	decision.ContributingSources = append([]string(nil), record.ContributingSources...)
	decision.Record = record
	return decision
}

func (p *Planner) planUpdate(
	incoming events.CandidateEvent,
	score quality.QualityScore,
	found *match.MatchCandidate,
	sameSource bool,
	reason string,
) MergeDecision {
	record := withProvenance(found.Existing, incoming)
	changed := mergeFields(&record, incoming, sameSource)
	record.QualityScore = p.scorer.Score(record.Details).Score

	decision := baseDecision(ActionUpdate, incoming, score, found, reason)
	decision.QualityScore = record.QualityScore
	decision.MergedFields = fieldChoices(record)
	decision.Changed = changed
	decision.ContributingSources = append([]string(nil), record.ContributingSources...)
	decision.Record = record
	return decision
}

func baseDecision(action Action, incoming events.CandidateEvent, score quality.QualityScore, found *match.MatchCandidate, reason string) MergeDecision {
	return MergeDecision{
		Action:        action,
		TargetID:      found.Existing.ID,
		SourceID:      incoming.SourceID,
		ExternalID:    incoming.ExternalID,
		Confidence:    found.Confidence,
		MatchedOn:     append([]events.Field(nil), found.MatchedOn...),
		SameSource:    found.SameSource,
		Ambiguous:     found.Ambiguous,
		Reason:        reason,
		IncomingScore: score,
		ExistingScore: found.Existing.QualityScore,
		BaseRevision:  found.Existing.Revision,
	}
}

// withProvenance copies existing and links the incoming source to it. A source
// keeps the first external id it was linked with.
func withProvenance(existing events.StoredEvent, incoming events.CandidateEvent) events.StoredEvent {
	record := existing.Clone()
	record.ContributingSources = events.AppendSource(record.ContributingSources, incoming.SourceID)
	if incoming.SourceID != "" && incoming.ExternalID != "" && record.SourceExternalIDs[incoming.SourceID] == "" {
		if record.SourceExternalIDs == nil {
			record.SourceExternalIDs = make(map[string]string, 1)
		}
		record.SourceExternalIDs[incoming.SourceID] = incoming.ExternalID
	}
	if record.FieldSources == nil {
		record.FieldSources = make(map[events.Field]string)
	}
	record.Revision = existing.Revision + 1
	return record
}

// mergeFields folds incoming into record and returns the fields whose value changed.
// An empty incoming field never overwrites a populated one.
func mergeFields(record *events.StoredEvent, incoming events.CandidateEvent, sameSource bool) []events.Field {
	var changed []events.Field
	take := func(field events.Field) {
		record.CopyField(field, incoming.Details)
		record.FieldSources[field] = incoming.SourceID
		changed = append(changed, field)
	}

	for _, field := range events.MergeableFields {
		if !incoming.Has(field) {
			continue
		}
		if !record.Has(field) {
			take(field)
			continue
		}
		if record.SameValue(field, incoming.Details) {
			continue
		}
		if _, ok := identityFields[field]; ok {
			continue
		}

		switch {
		case field == events.FieldCategorySlugs:
			union := events.UnionSlugs(record.CategorySlugs, incoming.CategorySlugs)
			if len(union) != len(record.CategorySlugs) {
				record.CategorySlugs = union
				record.FieldSources[field] = incoming.SourceID
				changed = append(changed, field)
			}
		case longerTextWins(field):
			if incoming.TextLength(field) > record.TextLength(field) {
				take(field)
			}
		case sameSource && record.FieldOwner(field) == incoming.SourceID:
			take(field)
		case !sameSource:
			take(field)
		}
	}
	return changed
}

// longerTextWins lists the free-text fields where the more detailed value is kept.
func longerTextWins(field events.Field) bool {
	switch field {
	case events.FieldDescription, events.FieldSummary, events.FieldPriceInfo, events.FieldAddress, events.FieldVenueName:
		return true
	}
	return false
}

func fieldChoices(record events.StoredEvent) map[events.Field]FieldChoice {
	choices := make(map[events.Field]FieldChoice, len(events.MergeableFields))
	for _, field := range record.PopulatedFields() {
		choices[field] = FieldChoice{
			Value:  record.Value(field),
			Source: record.FieldOwner(field),
		}
	}
	return choices
}
