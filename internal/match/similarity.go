package match

import (
	"math"
	"strings"

	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/normalize"
)

const earthRadiusKM = 6371.0088

// TitleSimilarity compares two titles on their folded, non-stopword tokens.
// Tokens of the given city keys are ignored when something else remains, so
// "Concierto de Jazz" and "Concierto Jazz en Sevilla" compare equal for Sevilla.
func TitleSimilarity(left, right string, cityKeys ...string) float64 {
	cityTokens := make(map[string]struct{})
	for _, key := range cityKeys {
		for _, token := range strings.Fields(key) {
			cityTokens[token] = struct{}{}
		}
	}
	return diceRatio(titleSet(left, cityTokens), titleSet(right, cityTokens))
}

func titleSet(title string, cityTokens map[string]struct{}) map[string]struct{} {
	tokens := normalize.TitleTokens(title)
	if len(tokens) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, ok := cityTokens[token]; ok {
			continue
		}
		set[token] = struct{}{}
	}
	if len(set) > 0 {
		return set
	}

	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// diceRatio is the Sørensen-Dice coefficient 2|A∩B| / (|A|+|B|). Extra tokens
// on either side lower the score, so a short title is not a full match for a
// longer one that merely contains it.
func diceRatio(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	return 2 * float64(intersection) / float64(len(left)+len(right))
}

// HaversineKM is the great-circle distance between two points.
func HaversineKM(a, b events.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}
