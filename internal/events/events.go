package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrInvalidCandidate = errors.New("invalid candidate event")

// Field names a mergeable attribute of an event.
type Field string

const (
	FieldTitle                Field = "title"
	FieldStartDate            Field = "start_date"
	FieldEndDate              Field = "end_date"
	FieldStartTime            Field = "start_time"
	FieldEndTime              Field = "end_time"
	FieldCity                 Field = "city"
	FieldProvince             Field = "province"
	FieldVenueName            Field = "venue_name"
	FieldAddress              Field = "address"
	FieldCoordinates          Field = "coordinates"
	FieldDescription          Field = "description"
	FieldSummary              Field = "summary"
	FieldCategorySlugs        Field = "category_slugs"
	FieldImageURL             Field = "image_url"
	FieldOrganizerName        Field = "organizer_name"
	FieldContactEmail         Field = "contact_email"
	FieldContactPhone         Field = "contact_phone"
	FieldPriceInfo            Field = "price_info"
	FieldIsFree               Field = "is_free"
	FieldRegistrationURL      Field = "registration_url"
	FieldRequiresRegistration Field = "requires_registration"
	FieldExternalURL          Field = "external_url"
)

// MergeableFields lists every attribute in a stable order.
var MergeableFields = []Field{
	FieldTitle,
	FieldStartDate,
	FieldEndDate,
	FieldStartTime,
	FieldEndTime,
	FieldCity,
	FieldProvince,
	FieldVenueName,
	FieldAddress,
	FieldCoordinates,
	FieldDescription,
	FieldSummary,
	FieldCategorySlugs,
	FieldImageURL,
	FieldOrganizerName,
	FieldContactEmail,
	FieldContactPhone,
	FieldPriceInfo,
	FieldIsFree,
	FieldRegistrationURL,
	FieldRequiresRegistration,
	FieldExternalURL,
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InRange reports whether the pair is a valid WGS84 position.
func (c Coordinates) InRange() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Details is the attribute surface shared by candidates and stored events.
type Details struct {
	Title                string       `json:"title"`
	StartDate            Date         `json:"start_date"`
	EndDate              Date         `json:"end_date,omitempty"`
	StartTime            string       `json:"start_time,omitempty"`
	EndTime              string       `json:"end_time,omitempty"`
	City                 string       `json:"city,omitempty"`
	Province             string       `json:"province,omitempty"`
	VenueName            string       `json:"venue_name,omitempty"`
	Address              string       `json:"address,omitempty"`
	Coordinates          *Coordinates `json:"coordinates,omitempty"`
	Description          string       `json:"description,omitempty"`
	Summary              string       `json:"summary,omitempty"`
	CategorySlugs        []string     `json:"category_slugs,omitempty"`
	ImageURL             string       `json:"image_url,omitempty"`
	OrganizerName        string       `json:"organizer_name,omitempty"`
	ContactEmail         string       `json:"contact_email,omitempty"`
	ContactPhone         string       `json:"contact_phone,omitempty"`
	PriceInfo            string       `json:"price_info,omitempty"`
	IsFree               *bool        `json:"is_free,omitempty"`
	RegistrationURL      string       `json:"registration_url,omitempty"`
	RequiresRegistration bool         `json:"requires_registration,omitempty"`
	ExternalURL          string       `json:"external_url,omitempty"`
}

// CandidateEvent is one event as produced by a source adapter.
type CandidateEvent struct {
	SourceID   string `json:"source_id"`
	ExternalID string `json:"external_id,omitempty"`
	Details
}

// StoredEvent is a merged record. QualityScore is a cache of the score of Details.
type StoredEvent struct {
	ID                  string            `json:"id"`
	ContributingSources []string          `json:"contributing_sources"`
	SourceExternalIDs   map[string]string `json:"source_external_ids,omitempty"`
	FieldSources        map[Field]string  `json:"field_sources,omitempty"`
	QualityScore        float64           `json:"quality_score"`
	LastMergedAt        time.Time         `json:"last_merged_at"`
	Revision            int64             `json:"revision"`
	Details
}

func (c CandidateEvent) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidCandidate)
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date is required", ErrInvalidCandidate)
	}
	return nil
}

// Clean trims text attributes and canonicalizes category slugs.
// Out-of-range coordinates are dropped; the rest of the candidate is kept.
func (c CandidateEvent) Clean() CandidateEvent {
	out := c
	out.SourceID = strings.TrimSpace(c.SourceID)
	out.ExternalID = strings.TrimSpace(c.ExternalID)
	out.Details = c.Details.clean()
	return out
}

func (d Details) clean() Details {
	out := d
	for _, s := range []*string{
		&out.Title, &out.StartTime, &out.EndTime, &out.City, &out.Province,
		&out.VenueName, &out.Address, &out.Description, &out.Summary,
		&out.ImageURL, &out.OrganizerName, &out.ContactEmail, &out.ContactPhone,
		&out.PriceInfo, &out.RegistrationURL, &out.ExternalURL,
	} {
		*s = strings.TrimSpace(*s)
	}
	out.CategorySlugs = NormalizeSlugs(d.CategorySlugs)
	if out.Coordinates != nil && !out.Coordinates.InRange() {
		out.Coordinates = nil
	}
	return out.copyRefs()
}

// copyRefs detaches the pointer and slice attributes of d.
func (d Details) copyRefs() Details {
	out := d
	if d.CategorySlugs != nil {
		out.CategorySlugs = append([]string(nil), d.CategorySlugs...)
	}
	if d.Coordinates != nil {
		coords := *d.Coordinates
		out.Coordinates = &coords
	}
	if d.IsFree != nil {
		free := *d.IsFree
		out.IsFree = &free
	}
	return out
}

// NormalizeSlugs lowercases, trims, and removes duplicate slugs keeping first-seen order.
func NormalizeSlugs(slugs []string) []string {
	if len(slugs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// UnionSlugs returns base followed by the slugs of extra not already present.
func UnionSlugs(base, extra []string) []string {
	return NormalizeSlugs(append(append([]string(nil), base...), extra...))
}

func (d Details) HasCoordinates() bool {
	return d.Coordinates != nil
}

// Has reports whether field f carries a value.
func (d Details) Has(f Field) bool {
	switch f {
	case FieldStartDate:
		return !d.StartDate.IsZero()
	case FieldEndDate:
		return !d.EndDate.IsZero()
	case FieldCoordinates:
		return d.Coordinates != nil
	case FieldCategorySlugs:
		return len(d.CategorySlugs) > 0
	case FieldIsFree:
		return d.IsFree != nil
	case FieldRequiresRegistration:
		return d.RequiresRegistration
	}
	if s := d.text(f); s != nil {
		return strings.TrimSpace(*s) != ""
	}
	return false
}

// Value returns the JSON-friendly value of field f, or nil when absent.
func (d Details) Value(f Field) any {
	if !d.Has(f) {
		return nil
	}
	switch f {
	case FieldStartDate:
		return d.StartDate.String()
	case FieldEndDate:
		return d.EndDate.String()
	case FieldCoordinates:
		return *d.Coordinates
	case FieldCategorySlugs:
		return append([]string(nil), d.CategorySlugs...)
	case FieldIsFree:
		return *d.IsFree
	case FieldRequiresRegistration:
		return d.RequiresRegistration
	}
	return *d.text(f)
}

// TextLength is the rune length of a text field, zero for non-text fields.
func (d Details) TextLength(f Field) int {
	s := d.text(f)
	if s == nil {
		return 0
	}
	return utf8.RuneCountInString(strings.TrimSpace(*s))
}

// IsText reports whether f is a free-text field.
func IsText(f Field) bool {
	var d Details
	return d.text(f) != nil
}

// SameValue reports whether both sides carry an equal value for f.
func (d Details) SameValue(f Field, other Details) bool {
	if d.Has(f) != other.Has(f) {
		return false
	}
	switch f {
	case FieldStartDate:
		return d.StartDate.Equal(other.StartDate)
	case FieldEndDate:
		return d.EndDate.Equal(other.EndDate)
	case FieldCoordinates:
		if d.Coordinates == nil || other.Coordinates == nil {
			return d.Coordinates == other.Coordinates
		}
		return *d.Coordinates == *other.Coordinates
	case FieldCategorySlugs:
		left := NormalizeSlugs(d.CategorySlugs)
		right := NormalizeSlugs(other.CategorySlugs)
		if len(left) != len(right) {
			return false
		}
		sort.Strings(left)
		sort.Strings(right)
		for i := range left {
			if left[i] != right[i] {
				return false
			}
		}
		return true
	case FieldIsFree:
		if d.IsFree == nil || other.IsFree == nil {
			return d.IsFree == other.IsFree
		}
		return *d.IsFree == *other.IsFree
	case FieldRequiresRegistration:
		return d.RequiresRegistration == other.RequiresRegistration
	}
	left, right := d.text(f), other.text(f)
	if left == nil || right == nil {
		return false
	}
	return strings.TrimSpace(*left) == strings.TrimSpace(*right)
}

// CopyField overwrites field f of d with the value held by src.
func (d *Details) CopyField(f Field, src Details) {
	switch f {
	case FieldStartDate:
		d.StartDate = src.StartDate
	case FieldEndDate:
		d.EndDate = src.EndDate
	case FieldCoordinates:
		if src.Coordinates == nil {
			d.Coordinates = nil
			return
		}
		coords := *src.Coordinates
		d.Coordinates = &coords
	case FieldCategorySlugs:
		d.CategorySlugs = append([]string(nil), src.CategorySlugs...)
	case FieldIsFree:
		if src.IsFree == nil {
			d.IsFree = nil
			return
		}
		free := *src.IsFree
		d.IsFree = &free
	case FieldRequiresRegistration:
		d.RequiresRegistration = src.RequiresRegistration
	default:
		if dst, from := d.text(f), src.text(f); dst != nil && from != nil {
			*dst = *from
		}
	}
}

// PopulatedFields lists the fields of d carrying a value, in MergeableFields order.
func (d Details) PopulatedFields() []Field {
	out := make([]Field, 0, len(MergeableFields))
	for _, f := range MergeableFields {
		if d.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (d *Details) text(f Field) *string {
	switch f {
	case FieldTitle:
		return &d.Title
	case FieldStartTime:
		return &d.StartTime
	case FieldEndTime:
		return &d.EndTime
	case FieldCity:
		return &d.City
	case FieldProvince:
		return &d.Province
	case FieldVenueName:
		return &d.VenueName
	case FieldAddress:
		return &d.Address
	case FieldDescription:
		return &d.Description
	case FieldSummary:
		return &d.Summary
	case FieldImageURL:
		return &d.ImageURL
	case FieldOrganizerName:
		return &d.OrganizerName
	case FieldContactEmail:
		return &d.ContactEmail
	case FieldContactPhone:
		return &d.ContactPhone
	case FieldPriceInfo:
		return &d.PriceInfo
	case FieldRegistrationURL:
		return &d.RegistrationURL
	case FieldExternalURL:
		return &d.ExternalURL
	}
	return nil
}

// Clone returns a deep copy of e.
func (e StoredEvent) Clone() StoredEvent {
	out := e
	out.Details = e.Details.copyRefs()
	out.ContributingSources = append([]string(nil), e.ContributingSources...)
	if e.SourceExternalIDs != nil {
		out.SourceExternalIDs = make(map[string]string, len(e.SourceExternalIDs))
		for k, v := range e.SourceExternalIDs {
			out.SourceExternalIDs[k] = v
		}
	}
	if e.FieldSources != nil {
		out.FieldSources = make(map[Field]string, len(e.FieldSources))
		for k, v := range e.FieldSources {
			out.FieldSources[k] = v
		}
	}
	return out
}

// PrimarySource is the first source that contributed to the record.
func (e StoredEvent) PrimarySource() string {
	if len(e.ContributingSources) == 0 {
		return ""
	}
	return e.ContributingSources[0]
}

// FieldOwner is the source recorded for field f, defaulting to the primary source.
func (e StoredEvent) FieldOwner(f Field) string {
	if owner, ok := e.FieldSources[f]; ok && owner != "" {
		return owner
	}
	return e.PrimarySource()
}

// AppendSource adds source to sources unless empty or already present.
func AppendSource(sources []string, source string) []string {
	if source == "" {
		return sources
	}
	for _, existing := range sources {
		if existing == source {
			return sources
		}
	}
	return append(sources, source)
}
