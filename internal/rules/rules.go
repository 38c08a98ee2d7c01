package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"horse.fit/eventmerge/internal/match"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/normalize"
	"horse.fit/eventmerge/internal/quality"
)

// Rules bundles every tunable of the dedup engine.
type Rules struct {
	City    normalize.Config `yaml:"city" json:"city"`
	Quality quality.Config   `yaml:"quality" json:"quality"`
	Match   match.Config     `yaml:"match" json:"match"`
	Merge   merge.Config     `yaml:"merge" json:"merge"`
}

func Default() Rules {
	return Rules{
		City:    normalize.DefaultConfig(),
		Quality: quality.DefaultConfig(),
		Match:   match.DefaultConfig(),
		Merge:   merge.DefaultConfig(),
	}
}

func (r Rules) Validate() error {
	if err := r.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if err := r.Match.Validate(); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if err := r.Merge.Validate(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// Parse overlays the YAML document in data onto the defaults. Omitted keys
// keep their default values; lists are replaced wholesale.
func Parse(data []byte) (Rules, error) {
	r := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return Default(), nil
		}
		return Rules{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func Load(path string) (Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, err
	}
	r, err := Parse(b)
	if err != nil {
		return Rules{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// LoadOrDefault returns the defaults when path is empty.
func LoadOrDefault(path string) (Rules, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func Marshal(r Rules) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Source hands out the rules snapshot to use for the next batch.
type Source interface {
	Current() Rules
}

type staticSource struct {
	rules Rules
}

func (s staticSource) Current() Rules {
	return s.rules
}

// Static returns a Source that always yields r.
func Static(r Rules) Source {
	return staticSource{rules: r}
}
