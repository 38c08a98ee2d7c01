package normalize

import (
	"strings"
)

// DefaultSuffixes are regional qualifiers that sources append to a city name.
// Matching is done on folded tokens, so entries are accent and case insensitive.
var DefaultSuffixes = []string{
	"y comarca",
	"y su comarca",
	"i comarca",
	"e comarca",
	"comarca",
	"y alrededores",
	"y su entorno",
	"y entorno",
	"entorno",
	"y campina",
	"y su campina",
	"campina",
	"y alfoz",
	"y su alfoz",
	"alfoz",
	"area metropolitana",
	"y area metropolitana",
	"y su area metropolitana",
	"metropolitano",
	"metropolitana",
	"and its surrounding countryside",
	"and surrounding countryside",
	"and surroundings",
	"and surrounding area",
	"and area",
	"metropolitan area",
	"capital",
	"provincia",
}

// DefaultAliases maps folded alternate names to their canonical folded key.
var DefaultAliases = map[string]string{
	"donostia":                "san sebastian",
	"donostia san sebastian":  "san sebastian",
	"san sebastian donostia":  "san sebastian",
	"vitoria gasteiz":         "vitoria",
	"gasteiz":                 "vitoria",
	"la coruna":               "a coruna",
	"coruna":                  "a coruna",
	"xixon":                   "gijon",
	"iruna":                   "pamplona",
	"pamplona iruna":          "pamplona",
	"bilbo":                   "bilbao",
	"lleida lerida":           "lleida",
	"lerida":                  "lleida",
	"gerona":                  "girona",
	"orense":                  "ourense",
	"alicante alacant":        "alicante",
	"alacant":                 "alicante",
	"castellon de la plana":   "castellon",
	"castello de la plana":    "castellon",
	"palma de mallorca":       "palma",
	"valencia ciudad":         "valencia",
	"santiago":                "santiago de compostela",
	"las palmas":              "las palmas de gran canaria",
	"santa cruz":              "santa cruz de tenerife",
	"l hospitalet":            "l hospitalet de llobregat",
	"hospitalet de llobregat": "l hospitalet de llobregat",
}

type Config struct {
	Suffixes []string          `yaml:"suffixes" json:"suffixes"`
	Aliases  map[string]string `yaml:"aliases" json:"aliases"`
}

func DefaultConfig() Config {
	aliases := make(map[string]string, len(DefaultAliases))
	for k, v := range DefaultAliases {
		aliases[k] = v
	}
	return Config{
		Suffixes: append([]string(nil), DefaultSuffixes...),
		Aliases:  aliases,
	}
}

// Normalizer computes comparison keys for city names. It is immutable and
// safe for concurrent use.
type Normalizer struct {
	suffixes [][]string
	aliases  map[string]string
}

func New(cfg Config) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(cfg.Aliases))}
	seen := make(map[string]struct{}, len(cfg.Suffixes))
	for _, suffix := range cfg.Suffixes {
		tokens := FoldTokens(suffix)
		if len(tokens) == 0 {
			continue
		}
		key := strings.Join(tokens, " ")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		n.suffixes = append(n.suffixes, tokens)
	}
	for alias, canonical := range cfg.Aliases {
		from, to := Fold(alias), Fold(canonical)
		if from == "" || to == "" {
			continue
		}
		n.aliases[from] = to
	}
	return n
}

var std = New(DefaultConfig())

// Default returns the normalizer built from the compiled-in tables.
func Default() *Normalizer {
	return std
}

// CityKey is shorthand for Default().CityKey(raw).
func CityKey(raw string) string {
	return std.CityKey(raw)
}

// DisplayCity is shorthand for Default().DisplayCity(raw).
func DisplayCity(raw string) string {
	return std.DisplayCity(raw)
}

// CityKey returns the comparison key for raw: folded, with regional
// qualifiers removed and aliases resolved. Empty input yields "".
func (n *Normalizer) CityKey(raw string) string {
	tokens := FoldTokens(raw)
	if len(tokens) == 0 {
		return ""
	}
	if cut := n.suffixStart(tokens); cut > 0 {
		tokens = tokens[:cut]
	}
	key := strings.Join(tokens, " ")
	if canonical, ok := n.aliases[key]; ok {
		return canonical
	}
	return key
}

// DisplayCity strips regional qualifiers from raw while keeping its
// original spelling and casing.
func (n *Normalizer) DisplayCity(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}

	var (
		tokens []string
		owner  []int
	)
	for i, field := range fields {
		for _, token := range FoldTokens(field) {
			tokens = append(tokens, token)
			owner = append(owner, i)
		}
	}

	keep := len(fields)
	if cut := n.suffixStart(tokens); cut > 0 {
		keep = owner[cut]
		if owner[cut] == owner[cut-1] {
			keep++
		}
	}
	return strings.TrimRight(strings.Join(fields[:keep], " "), " ,;:-/(")
}

// suffixStart returns the index of the earliest token at which a configured
// suffix begins, or -1.
func (n *Normalizer) suffixStart(tokens []string) int {
	for i := range tokens {
		for _, suffix := range n.suffixes {
			if hasPrefixTokens(tokens[i:], suffix) {
				return i
			}
		}
	}
	return -1
}

func hasPrefixTokens(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}
