package db

import (
	"time"
)

// Event maps events, one row per merged event.
type Event struct {
	EventID              string            `gorm:"column:event_id;type:varchar(36);primaryKey"`
	Title                string            `gorm:"column:title;type:text;not null"`
	StartDate            string            `gorm:"column:start_date;type:varchar(10);not null;index:idx_events_start_city,priority:1"`
	EndDate              *string           `gorm:"column:end_date;type:varchar(10)"`
	StartTime            string            `gorm:"column:start_time;type:varchar(8);not null;default:''"`
	EndTime              string            `gorm:"column:end_time;type:varchar(8);not null;default:''"`
	City                 string            `gorm:"column:city;type:text;not null;default:''"`
	CityKey              string            `gorm:"column:city_key;type:text;not null;default:'';index:idx_events_start_city,priority:2"`
	Province             string            `gorm:"column:province;type:text;not null;default:''"`
	VenueName            string            `gorm:"column:venue_name;type:text;not null;default:''"`
	Address              string            `gorm:"column:address;type:text;not null;default:''"`
	Latitude             *float64          `gorm:"column:latitude;type:double precision"`
	Longitude            *float64          `gorm:"column:longitude;type:double precision"`
	Description          string            `gorm:"column:description;type:text;not null;default:''"`
	Summary              string            `gorm:"column:summary;type:text;not null;default:''"`
	CategorySlugs        []string          `gorm:"column:category_slugs;type:text;serializer:json"`
	ImageURL             string            `gorm:"column:image_url;type:text;not null;default:''"`
	OrganizerName        string            `gorm:"column:organizer_name;type:text;not null;default:''"`
	ContactEmail         string            `gorm:"column:contact_email;type:text;not null;default:''"`
	ContactPhone         string            `gorm:"column:contact_phone;type:text;not null;default:''"`
	PriceInfo            string            `gorm:"column:price_info;type:text;not null;default:''"`
	IsFree               *bool             `gorm:"column:is_free"`
	RegistrationURL      string            `gorm:"column:registration_url;type:text;not null;default:''"`
	RequiresRegistration bool              `gorm:"column:requires_registration;not null;default:false"`
	ExternalURL          string            `gorm:"column:external_url;type:text;not null;default:''"`
	ContributingSources  []string          `gorm:"column:contributing_sources;type:text;serializer:json"`
	SourceExternalIDs    map[string]string `gorm:"column:source_external_ids;type:text;serializer:json"`
	FieldSources         map[string]string `gorm:"column:field_sources;type:text;serializer:json"`
	QualityScore         float64           `gorm:"column:quality_score;type:double precision;not null;default:0"`
	Revision             int64             `gorm:"column:revision;not null;default:1"`
	LastMergedAt         time.Time         `gorm:"column:last_merged_at;not null"`
	CreatedAt            time.Time         `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;not null"`
}

func (Event) TableName() string { return "events" }

// EventSource maps event_sources, the per-source contribution ledger.
type EventSource struct {
	EventSourceID     int64     `gorm:"column:event_source_id;primaryKey;autoIncrement"`
	EventID           string    `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:idx_event_sources_event_source,priority:1"`
	SourceID          string    `gorm:"column:source_id;type:varchar(128);not null;uniqueIndex:idx_event_sources_event_source,priority:2;index:idx_event_sources_external,priority:1"`
	ExternalID        string    `gorm:"column:external_id;type:varchar(255);not null;default:'';index:idx_event_sources_external,priority:2"`
	FieldsContributed []string  `gorm:"column:fields_contributed;type:text;serializer:json"`
	QualityScore      float64   `gorm:"column:quality_score;type:double precision;not null;default:0"`
	IsPrimary         bool      `gorm:"column:is_primary;not null;default:false"`
	LastAction        string    `gorm:"column:last_action;type:varchar(16);not null"`
	LastReason        string    `gorm:"column:last_reason;type:text;not null;default:''"`
	ContributedAt     time.Time `gorm:"column:contributed_at;not null"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

func (EventSource) TableName() string { return "event_sources" }

// DedupRun maps dedup_runs, one row per processed batch.
type DedupRun struct {
	RunID          string     `gorm:"column:run_id;type:varchar(36);primaryKey" json:"run_id"`
	Trigger        string     `gorm:"column:trigger_name;type:varchar(32);not null" json:"trigger"`
	DryRun         bool       `gorm:"column:dry_run;not null;default:false" json:"dry_run"`
	Received       int        `gorm:"column:received;not null;default:0" json:"received"`
	Rejected       int        `gorm:"column:rejected;not null;default:0" json:"rejected"`
	Inserted       int        `gorm:"column:inserted;not null;default:0" json:"inserted"`
	Updated        int        `gorm:"column:updated;not null;default:0" json:"updated"`
	Skipped        int        `gorm:"column:skipped;not null;default:0" json:"skipped"`
	Invalid        int        `gorm:"column:invalid;not null;default:0" json:"invalid"`
	LookupFailures int        `gorm:"column:lookup_failures;not null;default:0" json:"lookup_failures"`
	InBatchMatches int        `gorm:"column:in_batch_matches;not null;default:0" json:"in_batch_matches"`
	Ambiguous      int        `gorm:"column:ambiguous;not null;default:0" json:"ambiguous"`
	ApplyFailures  int        `gorm:"column:apply_failures;not null;default:0" json:"apply_failures"`
	StartedAt      time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	ErrorMessage   *string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
}

func (DedupRun) TableName() string { return "dedup_runs" }

func autoMigrateModels() []any {
	return []any{
		&Event{},
		&EventSource{},
		&DedupRun{},
	}
}
