package dedup

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/rules"
)

var longDescription = strings.Repeat("Una noche de jazz con artistas locales. ", 3)

// memoryStore applies decisions the way the database store does.
type memoryStore struct {
	records map[string]events.StoredEvent
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]events.StoredEvent)}
}

func (s *memoryStore) shortlist(events.CandidateEvent) ([]events.StoredEvent, error) {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]events.StoredEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

func (s *memoryStore) apply(t *testing.T, result BatchResult) {
	t.Helper()
	for _, decision := range result.Decisions() {
		if decision.Action != merge.ActionInsert {
			current, ok := s.records[decision.TargetID]
			require.True(t, ok, "target %s missing", decision.TargetID)
			require.Equal(t, current.Revision, decision.BaseRevision, "stale revision for %s", decision.TargetID)
		}
		s.records[decision.Record.ID] = decision.Record.Clone()
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("evt-%04d", n)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(rules.Default(), zerolog.Nop(), WithIDFunc(sequentialIDs()))
	require.NoError(t, err)
	return engine
}

func scenarioBatch() []events.CandidateEvent {
	return []events.CandidateEvent{
		{
			SourceID:   "visitsevilla",
			ExternalID: "vs-1",
			Details: events.Details{
				Title:         "Concierto de Jazz",
				StartDate:     events.MustParseDate("2025-03-15"),
				City:          "Sevilla",
				Description:   longDescription,
				ImageURL:      "https://visitsevilla.test/jazz.jpg",
				CategorySlugs: []string{"music"},
			},
		},
		{
			SourceID:   "andalucia-cultura",
			ExternalID: "ac-9",
			Details: events.Details{
				Title:       "Concierto Jazz en Sevilla",
				StartDate:   events.MustParseDate("2025-03-15"),
				City:        "Sevilla y Comarca",
				Description: longDescription,
				Coordinates: &events.Coordinates{Latitude: 37.38, Longitude: -5.99},
				VenueName:   "Alameda",
				Summary:     "Jazz",
			},
		},
		{
			SourceID:   "agenda-a",
			ExternalID: "a-1",
			Details: events.Details{
				Title:     "Feria del Libro",
				StartDate: events.MustParseDate("2025-05-30"),
				City:      "Madrid",
				ImageURL:  "https://agenda-a.test/feria.jpg",
				VenueName: "Retiro",
			},
		},
		{
			SourceID:   "agenda-b",
			ExternalID: "b-7",
			Details: events.Details{
				Title:         "Feria del Libro de Madrid",
				StartDate:     events.MustParseDate("2025-05-30"),
				City:          "Madrid y Área Metropolitana",
				Coordinates:   &events.Coordinates{Latitude: 40.4153, Longitude: -3.6845},
				VenueName:     "Parque del Retiro",
				OrganizerName: "Gremio de Libreros",
				ContactEmail:  "info@feria.test",
			},
		},
		{
			SourceID:   "agenda-b",
			ExternalID: "b-8",
			Details: events.Details{
				StartDate: events.MustParseDate("2025-06-01"),
				City:      "Madrid",
			},
		},
		{
			SourceID:   "visitsevilla",
			ExternalID: "vs-1",
			Details: events.Details{
				Title:     "Concierto de Jazz",
				StartDate: events.MustParseDate("2025-03-15"),
				City:      "Sevilla",
				ImageURL:  "https://visitsevilla.test/jazz-2025.jpg",
			},
		},
	}
}

func summarize(result BatchResult) []byte {
	var b bytes.Buffer
	for _, outcome := range result.Outcomes {
		fmt.Fprintf(&b, "%d\t%s", outcome.Index, outcome.Kind)
		if d := outcome.Decision; d != nil {
			fmt.Fprintf(&b, "\t%s\t%s\t%.2f\t%s\t%s",
				d.Action, d.TargetID, d.QualityScore, strings.Join(d.ContributingSources, ","), d.Reason)
		} else {
			fmt.Fprintf(&b, "\t%s", outcome.Error)
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func TestProcessBatchGolden(t *testing.T) {
	engine := newTestEngine(t)
	store := newMemoryStore()

	result := engine.ProcessBatch(scenarioBatch(), store.shortlist)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scenario_batch", summarize(result))

	assert.Equal(t, BatchStats{
		Received:       6,
		Inserted:       2,
		Updated:        2,
		Skipped:        1,
		Invalid:        1,
		InBatchMatches: 3,
	}, result.Stats)
}

func TestProcessBatchCollapsesInBatchDuplicates(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	result := engine.ProcessBatch(scenarioBatch()[:2], nil)

	require.Len(t, result.Outcomes, 2)
	first, second := result.Outcomes[0].Decision, result.Outcomes[1].Decision
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, merge.ActionInsert, first.Action)
	assert.Equal(t, merge.ActionSkip, second.Action)
	assert.Equal(t, first.TargetID, second.TargetID)
	assert.True(t, result.Outcomes[1].InBatch)
	assert.Equal(t, int64(1), second.BaseRevision)
	assert.Equal(t, int64(2), second.Record.Revision)
}

func TestProcessBatchInvalidCandidateDoesNotAbort(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	batch := []events.CandidateEvent{
		{SourceID: "s", Details: events.Details{Title: "Sin fecha"}},
		{SourceID: "s", Details: events.Details{Title: "Con fecha", StartDate: events.MustParseDate("2025-01-01")}},
	}

	result := engine.ProcessBatch(batch, nil)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, OutcomeInvalid, result.Outcomes[0].Kind)
	assert.True(t, errors.Is(result.Outcomes[0].Err, events.ErrInvalidCandidate))
	assert.Equal(t, OutcomeDecided, result.Outcomes[1].Kind)
	assert.Equal(t, 1, result.Stats.Invalid)
	assert.Equal(t, 1, result.Stats.Inserted)
}

func TestProcessBatchLookupFailureIsPerCandidate(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	boom := errors.New("connection reset")
	calls := 0
	lookup := func(events.CandidateEvent) ([]events.StoredEvent, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return nil, nil
	}

	result := engine.ProcessBatch(scenarioBatch()[:3], lookup)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, OutcomeLookupFailed, result.Outcomes[0].Kind)
	assert.ErrorIs(t, result.Outcomes[0].Err, ErrLookupFailure)
	assert.ErrorIs(t, result.Outcomes[0].Err, boom)
	assert.Equal(t, merge.ActionInsert, result.Outcomes[1].Decision.Action)
	assert.Equal(t, merge.ActionInsert, result.Outcomes[2].Decision.Action)
	assert.Equal(t, 1, result.Stats.LookupFailures)
}

func TestProcessBatchIsIdempotent(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	store := newMemoryStore()

	first := engine.ProcessBatch(scenarioBatch(), store.shortlist)
	store.apply(t, first)

	// ac-9 was linked by a SKIP on the first run. Its same-source refresh
	// fills the gaps it can, once.
	second := engine.ProcessBatch(scenarioBatch(), store.shortlist)
	store.apply(t, second)
	assert.Zero(t, second.Stats.Inserted)
	for _, decision := range second.Decisions() {
		assert.Equal(t, merge.ActionUpdate, decision.Action)
		assert.True(t, decision.SameSource)
		assert.GreaterOrEqual(t, decision.QualityScore, decision.ExistingScore)
		if decision.ExternalID == "ac-9" {
			assert.ElementsMatch(t, []events.Field{
				events.FieldCoordinates, events.FieldVenueName, events.FieldSummary,
			}, decision.Changed)
		}
	}
	settled := snapshotDetails(store)

	third := engine.ProcessBatch(scenarioBatch(), store.shortlist)
	store.apply(t, third)
	assert.Zero(t, third.Stats.Inserted)
	for _, decision := range third.Decisions() {
		assert.Equal(t, merge.ActionUpdate, decision.Action)
		assert.InDelta(t, decision.ExistingScore, decision.QualityScore, 1e-9)
		if decision.ExternalID == "ac-9" {
			assert.Empty(t, decision.Changed)
		}
	}
	assert.Equal(t, settled, snapshotDetails(store))
}

func TestProcessBatchSkippedSourceRefreshUpdates(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	store := newMemoryStore()

	rich := events.CandidateEvent{
		SourceID:   "agenda-a",
		ExternalID: "a-1",
		Details: events.Details{
			Title:         "Concierto de Jazz",
			StartDate:     events.MustParseDate("2025-03-15"),
			City:          "Sevilla",
			Description:   longDescription,
			ImageURL:      "https://agenda-a.test/jazz.jpg",
			VenueName:     "Alameda",
			CategorySlugs: []string{"music"},
		},
	}
	weak := events.CandidateEvent{
		SourceID:   "agenda-b",
		ExternalID: "b-1",
		Details: events.Details{
			Title:     "Concierto de Jazz",
			StartDate: events.MustParseDate("2025-03-15"),
			City:      "Sevilla",
		},
	}

	first := engine.ProcessBatch([]events.CandidateEvent{rich, weak}, store.shortlist)
	store.apply(t, first)
	decisions := first.Decisions()
	require.Len(t, decisions, 2)
	require.Equal(t, merge.ActionSkip, decisions[1].Action)
	target := decisions[1].TargetID

	weak.OrganizerName = "Ayuntamiento de Sevilla"
	second := engine.ProcessBatch([]events.CandidateEvent{weak}, store.shortlist)
	store.apply(t, second)

	decisions = second.Decisions()
	require.Len(t, decisions, 1)
	decision := decisions[0]
	assert.Equal(t, merge.ActionUpdate, decision.Action)
	assert.True(t, decision.SameSource)
	assert.Equal(t, merge.ReasonSameSource, decision.Reason)
	assert.Equal(t, target, decision.TargetID)
	assert.Equal(t, []events.Field{events.FieldOrganizerName}, decision.Changed)

	record := store.records[target]
	assert.Equal(t, "Ayuntamiento de Sevilla", record.OrganizerName)
	assert.Equal(t, "agenda-b", record.FieldSources[events.FieldOrganizerName])
	assert.Equal(t, "Alameda", record.VenueName)
	assert.Equal(t, "agenda-a", record.FieldSources[events.FieldVenueName])
}

func TestProcessBatchKeepsSameSourceSiblingsApart(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	store := newMemoryStore()

	workshop := func(externalID, venue string) events.CandidateEvent {
		return events.CandidateEvent{
			SourceID:   "A",
			ExternalID: externalID,
			Details: events.Details{
				Title:     "Taller de cerámica",
				StartDate: events.MustParseDate("2025-06-07"),
				City:      "Sevilla",
				VenueName: venue,
			},
		}
	}
	batch := []events.CandidateEvent{workshop("a-1", "Centro Cívico Triana"), workshop("a-2", "Centro Cívico La Macarena")}

	first := engine.ProcessBatch(batch, store.shortlist)
	store.apply(t, first)
	assert.Equal(t, 2, first.Stats.Inserted)
	assert.Zero(t, first.Stats.InBatchMatches)
	decisions := first.Decisions()
	require.Len(t, decisions, 2)
	assert.NotEqual(t, decisions[0].TargetID, decisions[1].TargetID)
	assert.Equal(t, map[string]string{"A": "a-1"}, store.records[decisions[0].TargetID].SourceExternalIDs)
	assert.Equal(t, map[string]string{"A": "a-2"}, store.records[decisions[1].TargetID].SourceExternalIDs)

	second := engine.ProcessBatch(batch, store.shortlist)
	assert.Zero(t, second.Stats.Inserted)
	for i, decision := range second.Decisions() {
		assert.True(t, decision.SameSource)
		assert.Equal(t, decisions[i].TargetID, decision.TargetID)
	}
}

func TestProcessBatchDropsOutOfRangeCoordinates(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	engine, err := NewEngine(rules.Default(), zerolog.New(&logs), WithIDFunc(sequentialIDs()))
	require.NoError(t, err)

	batch := []events.CandidateEvent{{
		SourceID:   "agenda-a",
		ExternalID: "a-1",
		Details: events.Details{
			Title:       "Feria del Libro",
			StartDate:   events.MustParseDate("2025-05-30"),
			City:        "Madrid",
			VenueName:   "Retiro",
			Coordinates: &events.Coordinates{Latitude: 404.153, Longitude: -3.6845},
		},
	}}

	result := engine.ProcessBatch(batch, nil)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, OutcomeDecided, result.Outcomes[0].Kind)
	assert.Zero(t, result.Stats.Invalid)
	decision := result.Outcomes[0].Decision
	require.NotNil(t, decision)
	assert.Equal(t, merge.ActionInsert, decision.Action)
	assert.Nil(t, decision.Record.Coordinates)
	assert.Equal(t, "Retiro", decision.Record.VenueName)
	assert.Contains(t, logs.String(), "coordinates out of range dropped")
	assert.NotNil(t, batch[0].Coordinates, "caller's candidate is left untouched")
}

func TestProcessBatchNeverLowersStoredQuality(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	store := newMemoryStore()
	store.apply(t, engine.ProcessBatch(scenarioBatch(), store.shortlist))

	sparse := []events.CandidateEvent{
		{
			SourceID: "agenda-c",
			Details: events.Details{
				Title:     "Concierto de Jazz",
				StartDate: events.MustParseDate("2025-03-16"),
				City:      "sevilla",
			},
		},
		{
			SourceID:   "agenda-a",
			ExternalID: "a-1",
			Details: events.Details{
				Title:     "Feria del Libro",
				StartDate: events.MustParseDate("2025-05-30"),
				City:      "Madrid",
			},
		},
	}

	result := engine.ProcessBatch(sparse, store.shortlist)
	for _, decision := range result.Decisions() {
		require.NotEqual(t, merge.ActionInsert, decision.Action)
		assert.GreaterOrEqual(t, decision.QualityScore, decision.ExistingScore)
	}
}

func TestNewEngineRejectsInvalidRules(t *testing.T) {
	t.Parallel()

	r := rules.Default()
	r.Match.TitleThreshold = 0
	_, err := NewEngine(r, zerolog.Nop())
	require.Error(t, err)
}

func TestDefaultIDsAreUUIDs(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(rules.Default(), zerolog.Nop())
	require.NoError(t, err)

	result := engine.ProcessBatch(scenarioBatch()[:1], nil)
	require.Len(t, result.Outcomes, 1)
	assert.Len(t, result.Outcomes[0].Decision.TargetID, 36)
}

func snapshotDetails(s *memoryStore) map[string]events.Details {
	out := make(map[string]events.Details, len(s.records))
	for id, record := range s.records {
		out[id] = record.Details
	}
	return out
}

func TestProcessBatchStampsMergeTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	engine, err := NewEngine(rules.Default(), zerolog.Nop(),
		WithIDFunc(sequentialIDs()),
		WithClock(func() time.Time { return at }),
	)
	require.NoError(t, err)

	batch := scenarioBatch()
	result := engine.ProcessBatch(batch[:2], newMemoryStore().shortlist)
	decisions := result.Decisions()
	require.Len(t, decisions, 2)
	assert.Equal(t, merge.ActionInsert, decisions[0].Action)
	assert.True(t, decisions[0].Record.LastMergedAt.Equal(at))
	assert.Equal(t, merge.ActionSkip, decisions[1].Action)
	assert.True(t, decisions[1].Record.LastMergedAt.Equal(at), "skip keeps the previous merge time")
}
