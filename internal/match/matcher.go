package match

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/normalize"
)

const floatTolerance = 1e-9

var ErrInvalidConfig = errors.New("invalid match config")

type Config struct {
	DateWindowDays   int     `yaml:"date_window_days" json:"date_window_days"`
	TitleThreshold   float64 `yaml:"title_threshold" json:"title_threshold"`
	GeoMaxKM         float64 `yaml:"geo_max_km" json:"geo_max_km"`
	AcceptConfidence float64 `yaml:"accept_confidence" json:"accept_confidence"`
	TitleWeight      float64 `yaml:"title_weight" json:"title_weight"`
	CityWeight       float64 `yaml:"city_weight" json:"city_weight"`
	DateWeight       float64 `yaml:"date_weight" json:"date_weight"`
	// ShortlistLimit caps the date-window rows read per candidate.
	ShortlistLimit int `yaml:"shortlist_limit" json:"shortlist_limit"`
}

func DefaultConfig() Config {
	return Config{
		DateWindowDays:   1,
		TitleThreshold:   0.72,
		GeoMaxKM:         2.0,
		AcceptConfidence: 0.75,
		TitleWeight:      0.60,
		CityWeight:       0.25,
		DateWeight:       0.15,
		ShortlistLimit:   200,
	}
}

func (c Config) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("%w: date_window_days must be >= 0", ErrInvalidConfig)
	}
	if c.TitleThreshold <= 0 || c.TitleThreshold > 1 {
		return fmt.Errorf("%w: title_threshold must be in (0, 1]", ErrInvalidConfig)
	}
	if c.GeoMaxKM <= 0 {
		return fmt.Errorf("%w: geo_max_km must be > 0", ErrInvalidConfig)
	}
	if c.AcceptConfidence <= 0 || c.AcceptConfidence > 1 {
		return fmt.Errorf("%w: accept_confidence must be in (0, 1]", ErrInvalidConfig)
	}
	if c.ShortlistLimit < 1 {
		return fmt.Errorf("%w: shortlist_limit must be >= 1", ErrInvalidConfig)
	}
	if c.TitleWeight < 0 || c.CityWeight < 0 || c.DateWeight < 0 {
		return fmt.Errorf("%w: confidence weights must be >= 0", ErrInvalidConfig)
	}
	if sum := c.TitleWeight + c.CityWeight + c.DateWeight; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: confidence weights sum to %.6f, want 1.0", ErrInvalidConfig, sum)
	}
	return nil
}

// MatchCandidate is the accepted pairing of an incoming event with a stored one.
type MatchCandidate struct {
	Existing        events.StoredEvent `json:"-"`
	ExistingID      string             `json:"existing_id"`
	Confidence      float64            `json:"confidence"`
	MatchedOn       []events.Field     `json:"matched_on"`
	SameSource      bool               `json:"same_source"`
	TitleSimilarity float64            `json:"title_similarity"`
	DistanceKM      *float64           `json:"distance_km,omitempty"`
	Ambiguous       bool               `json:"ambiguous"`
}

type Matcher struct {
	cfg        Config
	normalizer *normalize.Normalizer
}

func NewMatcher(cfg Config, normalizer *normalize.Normalizer) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if normalizer == nil {
		normalizer = normalize.Default()
	}
	return &Matcher{cfg: cfg, normalizer: normalizer}, nil
}

type survivor struct {
	existing     *events.StoredEvent
	similarity   float64
	cityScore    float64
	dateScore    float64
	confidence   float64
	distanceKM   *float64
	sameCityKey  bool
	usedGeometry bool
}

// FindMatch returns the best stored match for incoming among shortlist, or nil.
func (m *Matcher) FindMatch(incoming events.CandidateEvent, shortlist []events.StoredEvent) *MatchCandidate {
	if found := sameSourceMatch(incoming, shortlist); found != nil {
		return found
	}

	incomingKey := m.normalizer.CityKey(incoming.City)
	survivors := make([]survivor, 0, len(shortlist))
	for i := range shortlist {
		existing := &shortlist[i]
		if linkedElsewhere(incoming, *existing) {
			continue
		}
		days := incoming.StartDate.DaysBetween(existing.StartDate)
		if days > m.cfg.DateWindowDays {
			continue
		}

		existingKey := m.normalizer.CityKey(existing.City)
		if incomingKey != "" && existingKey != "" && incomingKey != existingKey {
			continue
		}

		similarity := TitleSimilarity(incoming.Title, existing.Title, incomingKey, existingKey)
		if similarity < m.cfg.TitleThreshold {
			continue
		}

		s := survivor{
			existing:   existing,
			similarity: similarity,
			cityScore:  0.5,
			dateScore:  0.5,
		}
		if incomingKey != "" && incomingKey == existingKey {
			s.cityScore = 1
			s.sameCityKey = true
		}
		if days == 0 {
			s.dateScore = 1
		}
		survivors = append(survivors, s)
	}

	if len(survivors) > 1 && incoming.HasCoordinates() {
		survivors = m.geoTieBreak(*incoming.Coordinates, survivors)
	}

	accepted := survivors[:0]
	for _, s := range survivors {
		s.confidence = m.cfg.TitleWeight*s.similarity + m.cfg.CityWeight*s.cityScore + m.cfg.DateWeight*s.dateScore
		if s.confidence+floatTolerance < m.cfg.AcceptConfidence {
			continue
		}
		accepted = append(accepted, s)
	}
	if len(accepted) == 0 {
		return nil
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return ranksBefore(accepted[i], accepted[j])
	})
	best := accepted[0]

	found := &MatchCandidate{
		Existing:        *best.existing,
		ExistingID:      best.existing.ID,
		Confidence:      roundConfidence(best.confidence),
		MatchedOn:       matchedOn(best),
		TitleSimilarity: best.similarity,
		DistanceKM:      best.distanceKM,
	}
	if len(accepted) > 1 {
		runnerUp := accepted[1]
		found.Ambiguous = nearlyEqual(best.confidence, runnerUp.confidence) &&
			nearlyEqual(best.existing.QualityScore, runnerUp.existing.QualityScore)
	}
	return found
}

// linkedElsewhere reports whether existing already holds a different event
// of the incoming source. One source never lists the same event twice under
// two external ids.
func linkedElsewhere(incoming events.CandidateEvent, existing events.StoredEvent) bool {
	if incoming.ExternalID == "" {
		return false
	}
	linked := existing.SourceExternalIDs[incoming.SourceID]
	return linked != "" && linked != incoming.ExternalID
}

// sameSourceMatch links an event back to the record it was previously merged into.
func sameSourceMatch(incoming events.CandidateEvent, shortlist []events.StoredEvent) *MatchCandidate {
	if incoming.SourceID == "" || incoming.ExternalID == "" {
		return nil
	}

	var found *events.StoredEvent
	for i := range shortlist {
		existing := &shortlist[i]
		if existing.SourceExternalIDs[incoming.SourceID] != incoming.ExternalID {
			continue
		}
		if found == nil || existing.ID < found.ID {
			found = existing
		}
	}
	if found == nil {
		return nil
	}
	return &MatchCandidate{
		Existing:        *found,
		ExistingID:      found.ID,
		Confidence:      1.0,
		MatchedOn:       []events.Field{"external_id"},
		SameSource:      true,
		TitleSimilarity: TitleSimilarity(incoming.Title, found.Title),
	}
}

// geoTieBreak drops coordinate-bearing survivors too far from the incoming
// point and, when any remain, keeps only the nearest.
func (m *Matcher) geoTieBreak(point events.Coordinates, survivors []survivor) []survivor {
	var (
		nearest    *survivor
		withoutGeo []survivor
	)
	for i := range survivors {
		s := survivors[i]
		if !s.existing.HasCoordinates() {
			withoutGeo = append(withoutGeo, s)
			continue
		}
		distance := HaversineKM(point, *s.existing.Coordinates)
		if distance > m.cfg.GeoMaxKM {
			continue
		}
		s.distanceKM = &distance
		s.usedGeometry = true
		if nearest == nil || distance < *nearest.distanceKM {
			candidate := s
			nearest = &candidate
		}
	}
	if nearest != nil {
		return []survivor{*nearest}
	}
	return withoutGeo
}

func ranksBefore(left, right survivor) bool {
	if !nearlyEqual(left.confidence, right.confidence) {
		return left.confidence > right.confidence
	}
	if !nearlyEqual(left.existing.QualityScore, right.existing.QualityScore) {
		return left.existing.QualityScore > right.existing.QualityScore
	}
	return left.existing.ID < right.existing.ID
}

func matchedOn(s survivor) []events.Field {
	fields := []events.Field{events.FieldTitle, events.FieldStartDate}
	if s.sameCityKey {
		fields = append(fields, events.FieldCity)
	}
	if s.usedGeometry {
		fields = append(fields, events.FieldCoordinates)
	}
	return fields
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= floatTolerance
}

func roundConfidence(v float64) float64 {
	v = math.Round(v*1e4) / 1e4
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
