package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/match"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/normalize"
	"horse.fit/eventmerge/internal/rules"
)

// ErrStaleRevision means the target row changed after the decision was planned.
var ErrStaleRevision = errors.New("event revision changed since decision was planned")

// EventStore reads shortlists and applies merge decisions. It is bound to the
// rules snapshot of one batch so stored city keys and lookups agree.
type EventStore struct {
	pool       *Pool
	normalizer *normalize.Normalizer
	dateWindow int
	limit      int
	logger     zerolog.Logger
}

func NewEventStore(pool *Pool, r rules.Rules, logger zerolog.Logger) *EventStore {
	limit := r.Match.ShortlistLimit
	if limit < 1 {
		limit = match.DefaultConfig().ShortlistLimit
	}
	return &EventStore{
		pool:       pool,
		normalizer: normalize.New(r.City),
		dateWindow: r.Match.DateWindowDays,
		limit:      limit,
		logger:     logger.With().Str("component", "event_store").Logger(),
	}
}

// Shortlist returns stored events within the date window whose city key equals
// the candidate's or is unknown, plus every event already linked to the
// candidate's source and external id.
func (s *EventStore) Shortlist(ctx context.Context, c events.CandidateEvent) ([]events.StoredEvent, error) {
	if s == nil || s.pool == nil || s.pool.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	gdb := s.pool.gdb.WithContext(ctx)
	var rows []Event
	if !c.StartDate.IsZero() {
		from := c.StartDate.AddDays(-s.dateWindow).String()
		to := c.StartDate.AddDays(s.dateWindow).String()
		q := gdb.Where("start_date BETWEEN ? AND ?", from, to)
		if key := s.normalizer.CityKey(c.City); key != "" {
			q = q.Where("city_key IN ?", []string{key, ""})
		}
		if err := q.Order("event_id").Limit(s.limit).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("query shortlist: %w", err)
		}
		if len(rows) == s.limit {
			s.logger.Warn().
				Int("limit", s.limit).
				Str("source_id", c.SourceID).
				Str("external_id", c.ExternalID).
				Str("start_date", c.StartDate.String()).
				Str("city", c.City).
				Msg("shortlist truncated; matches past the limit are not considered")
		}
	}

	if c.SourceID != "" && c.ExternalID != "" {
		linkedIDs := gdb.Model(&EventSource{}).
			Select("event_id").
			Where("source_id = ? AND external_id = ?", c.SourceID, c.ExternalID)
		var linked []Event
		if err := gdb.Where("event_id IN (?)", linkedIDs).Order("event_id").Find(&linked).Error; err != nil {
			return nil, fmt.Errorf("query linked events: %w", err)
		}
		rows = appendMissing(rows, linked)
	}

	out := make([]events.StoredEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStored())
	}
	return out, nil
}

// ShortlistFunc adapts Shortlist to a context-free lookup for one batch.
func (s *EventStore) ShortlistFunc(ctx context.Context) func(events.CandidateEvent) ([]events.StoredEvent, error) {
	return func(c events.CandidateEvent) ([]events.StoredEvent, error) {
		return s.Shortlist(ctx, c)
	}
}

// ApplyDecision persists one decision in its own transaction. Updates and
// skips are conditional on the revision the decision was planned against.
func (s *EventStore) ApplyDecision(ctx context.Context, d merge.MergeDecision) error {
	if s == nil || s.pool == nil || s.pool.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if d.Record.ID == "" {
		return fmt.Errorf("decision for %s/%s has no target id", d.SourceID, d.ExternalID)
	}

	now := globaltime.UTC()
	row := eventFromStored(d.Record, s.normalizer.CityKey(d.Record.City))
	row.UpdatedAt = now

	return s.pool.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch d.Action {
		case merge.ActionInsert:
			row.CreatedAt = now
			if row.LastMergedAt.IsZero() {
				row.LastMergedAt = now
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert event %s: %w", row.EventID, err)
			}
		case merge.ActionUpdate, merge.ActionSkip:
			columns := []string{
				"contributing_sources", "source_external_ids", "field_sources",
				"revision", "updated_at",
			}
			if d.Action == merge.ActionUpdate {
				if row.LastMergedAt.IsZero() {
					row.LastMergedAt = now
				}
				columns = append(columns, mutableEventColumns...)
				columns = append(columns, "quality_score", "last_merged_at")
			}
			res := tx.Model(&Event{}).
				Where("event_id = ? AND revision = ?", d.TargetID, d.BaseRevision).
				Select(columns).
				Updates(&row)
			if res.Error != nil {
				return fmt.Errorf("update event %s: %w", d.TargetID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: event %s at revision %d", ErrStaleRevision, d.TargetID, d.BaseRevision)
			}
		default:
			return fmt.Errorf("unsupported merge action %q", d.Action)
		}

		return upsertContribution(tx, d, now)
	})
}

// mutableEventColumns are the attribute columns an UPDATE may rewrite.
var mutableEventColumns = []string{
	"title", "start_date", "end_date", "start_time", "end_time",
	"city", "city_key", "province", "venue_name", "address",
	"latitude", "longitude", "description", "summary", "category_slugs",
	"image_url", "organizer_name", "contact_email", "contact_phone",
	"price_info", "is_free", "registration_url", "requires_registration",
	"external_url",
}

// upsertContribution records the latest contribution of d's source to the
// target event, one row per (event, source).
func upsertContribution(tx *gorm.DB, d merge.MergeDecision, now time.Time) error {
	if d.SourceID == "" {
		return nil
	}

	contribution := EventSource{
		EventID:           d.Record.ID,
		SourceID:          d.SourceID,
		ExternalID:        d.ExternalID,
		FieldsContributed: fieldNames(d.Changed),
		QualityScore:      d.IncomingScore.Score,
		IsPrimary:         d.Action == merge.ActionInsert,
		LastAction:        string(d.Action),
		LastReason:        d.Reason,
		ContributedAt:     now,
		UpdatedAt:         now,
	}
	updates := []string{"external_id", "quality_score", "last_action", "last_reason", "updated_at"}
	if len(d.Changed) > 0 {
		updates = append(updates, "fields_contributed")
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&contribution).Error
	if err != nil {
		return fmt.Errorf("record contribution of %s to %s: %w", d.SourceID, d.Record.ID, err)
	}
	return nil
}

func (s *EventStore) GetEvent(ctx context.Context, eventID string) (events.StoredEvent, error) {
	var row Event
	err := s.pool.gdb.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return events.StoredEvent{}, ErrNoRows
		}
		return events.StoredEvent{}, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return row.toStored(), nil
}

// ListContributions returns the contribution ledger of one event, primary first.
func (s *EventStore) ListContributions(ctx context.Context, eventID string) ([]EventSource, error) {
	var rows []EventSource
	err := s.pool.gdb.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("is_primary DESC").
		Order("contributed_at ASC").
		Order("source_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list contributions for %s: %w", eventID, err)
	}
	return rows, nil
}

// RekeyCities recomputes city_key for every event with the store's rules and
// returns how many rows changed.
func (s *EventStore) RekeyCities(ctx context.Context) (int, error) {
	changed := 0
	var batch []Event
	result := s.pool.gdb.WithContext(ctx).
		Select("event_id", "city", "city_key").
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for _, row := range batch {
				key := s.normalizer.CityKey(row.City)
				if key == row.CityKey {
					continue
				}
				err := s.pool.gdb.WithContext(ctx).
					Model(&Event{}).
					Where("event_id = ?", row.EventID).
					Update("city_key", key).Error
				if err != nil {
					return fmt.Errorf("rekey event %s: %w", row.EventID, err)
				}
				changed++
			}
			return nil
		})
	if result.Error != nil {
		return changed, result.Error
	}
	s.logger.Info().Int("changed", changed).Msg("city keys recomputed")
	return changed, nil
}

func appendMissing(rows, extra []Event) []Event {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		seen[row.EventID] = struct{}{}
	}
	for _, row := range extra {
		if _, ok := seen[row.EventID]; ok {
			continue
		}
		seen[row.EventID] = struct{}{}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].EventID < rows[j].EventID })
	return rows
}
