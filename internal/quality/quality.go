package quality

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"horse.fit/eventmerge/internal/events"
)

// Component is one scored aspect of an event's completeness.
type Component string

const (
	ComponentDescription  Component = "description"
	ComponentImage        Component = "image"
	ComponentCoordinates  Component = "coordinates"
	ComponentCategories   Component = "categories"
	ComponentOrganizer    Component = "organizer"
	ComponentContact      Component = "contact"
	ComponentPrice        Component = "price"
	ComponentVenue        Component = "venue"
	ComponentSummary      Component = "summary"
	ComponentRegistration Component = "registration"
)

var Components = []Component{
	ComponentDescription,
	ComponentImage,
	ComponentCoordinates,
	ComponentCategories,
	ComponentOrganizer,
	ComponentContact,
	ComponentPrice,
	ComponentVenue,
	ComponentSummary,
	ComponentRegistration,
}

const (
	weightSumTolerance = 1e-6
	scoreDecimals      = 4
)

var ErrInvalidWeights = errors.New("invalid quality weights")

type Config struct {
	Weights                map[Component]float64 `yaml:"weights" json:"weights"`
	ShortDescriptionChars  int                   `yaml:"short_description_chars" json:"short_description_chars"`
	ShortDescriptionWeight float64               `yaml:"short_description_weight" json:"short_description_weight"`
}

func DefaultConfig() Config {
	return Config{
		Weights: map[Component]float64{
			ComponentDescription:  0.15,
			ComponentImage:        0.12,
			ComponentCoordinates:  0.12,
			ComponentCategories:   0.15,
			ComponentOrganizer:    0.10,
			ComponentContact:      0.08,
			ComponentPrice:        0.10,
			ComponentVenue:        0.08,
			ComponentSummary:      0.05,
			ComponentRegistration: 0.05,
		},
		ShortDescriptionChars:  50,
		ShortDescriptionWeight: 0.05,
	}
}

func (c Config) Validate() error {
	known := make(map[Component]struct{}, len(Components))
	for _, component := range Components {
		known[component] = struct{}{}
	}

	names := make([]string, 0, len(c.Weights))
	for component := range c.Weights {
		names = append(names, string(component))
	}
	sort.Strings(names)

	sum := 0.0
	for _, name := range names {
		component := Component(name)
		if _, ok := known[component]; !ok {
			return fmt.Errorf("%w: unknown component %q", ErrInvalidWeights, name)
		}
		weight := c.Weights[component]
		if weight < 0 || math.IsNaN(weight) {
			return fmt.Errorf("%w: component %q has negative weight", ErrInvalidWeights, name)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1.0", ErrInvalidWeights, sum)
	}
	if c.ShortDescriptionChars < 0 {
		return fmt.Errorf("%w: short_description_chars must be >= 0", ErrInvalidWeights)
	}
	if c.ShortDescriptionWeight < 0 || c.ShortDescriptionWeight > c.Weights[ComponentDescription] {
		return fmt.Errorf("%w: short_description_weight must be between 0 and the description weight", ErrInvalidWeights)
	}
	return nil
}

// QualityScore is a completeness score in [0, 1] with its per-component breakdown.
type QualityScore struct {
	Score    float64               `json:"score"`
	PerField map[Component]float64 `json:"per_field"`
}

// Scorer rates event completeness. Scores depend only on which attributes
// are populated, never on the source.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	weights := make(map[Component]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	cfg.Weights = weights
	return &Scorer{cfg: cfg}, nil
}

var std = mustScorer(DefaultConfig())

func mustScorer(cfg Config) *Scorer {
	s, err := NewScorer(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns the scorer built from the default weights.
func Default() *Scorer {
	return std
}

// Score rates d with the default weights.
func Score(d events.Details) QualityScore {
	return std.Score(d)
}

func (s *Scorer) Score(d events.Details) QualityScore {
	perField := make(map[Component]float64, len(Components))
	total := 0.0
	for _, component := range Components {
		weight := s.weight(component, d)
		if weight == 0 {
			continue
		}
		perField[component] = weight
		total += weight
	}
	return QualityScore{Score: clamp(round(total)), PerField: perField}
}

func (s *Scorer) weight(component Component, d events.Details) float64 {
	full := s.cfg.Weights[component]
	switch component {
	case ComponentDescription:
		length := d.TextLength(events.FieldDescription)
		if length == 0 {
			return 0
		}
		if length < s.cfg.ShortDescriptionChars {
			return s.cfg.ShortDescriptionWeight
		}
		return full
	case ComponentImage:
		return presentWeight(full, d.Has(events.FieldImageURL))
	case ComponentCoordinates:
		return presentWeight(full, d.Has(events.FieldCoordinates))
	case ComponentCategories:
		return presentWeight(full, d.Has(events.FieldCategorySlugs))
	case ComponentOrganizer:
		return presentWeight(full, d.Has(events.FieldOrganizerName))
	case ComponentContact:
		return presentWeight(full, d.Has(events.FieldContactEmail) || d.Has(events.FieldContactPhone))
	case ComponentPrice:
		return presentWeight(full, d.Has(events.FieldPriceInfo) || d.Has(events.FieldIsFree))
	case ComponentVenue:
		return presentWeight(full, d.Has(events.FieldVenueName))
	case ComponentSummary:
		return presentWeight(full, d.Has(events.FieldSummary))
	case ComponentRegistration:
		return presentWeight(full, d.Has(events.FieldRegistrationURL) || d.Has(events.FieldRequiresRegistration))
	}
	return 0
}

func presentWeight(weight float64, present bool) float64 {
	if present {
		return weight
	}
	return 0
}

func round(v float64) float64 {
	scale := math.Pow(10, scoreDecimals)
	return math.Round(v*scale) / scale
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
