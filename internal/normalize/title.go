package normalize

// stopwords covers the function words of the languages sources publish in:
// Spanish, Catalan, Galician, Basque and English.
var stopwords = map[string]struct{}{
	// es
	"de": {}, "del": {}, "la": {}, "las": {}, "el": {}, "los": {}, "en": {},
	"y": {}, "e": {}, "o": {}, "u": {}, "a": {}, "al": {}, "con": {},
	"para": {}, "por": {}, "un": {}, "una": {}, "unos": {}, "unas": {},
	"lo": {}, "su": {}, "sus": {},
	// ca
	"i": {}, "amb": {}, "per": {}, "els": {}, "les": {}, "l": {}, "d": {},
	// gl
	"da": {}, "do": {}, "das": {}, "dos": {}, "no": {}, "na": {}, "nos": {},
	"nas": {}, "co": {}, "coa": {}, "os": {}, "as": {}, "unha": {},
	// eu
	"eta": {},
	// en
	"the": {}, "an": {}, "and": {}, "of": {}, "in": {}, "at": {}, "on": {},
	"for": {}, "with": {}, "to": {},
}

// IsStopword reports whether the folded token carries no identifying meaning.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// TitleTokens returns the distinct folded, non-stopword tokens of title in
// first-seen order.
func TitleTokens(title string) []string {
	folded := FoldTokens(title)
	if len(folded) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(folded))
	out := make([]string, 0, len(folded))
	for _, token := range folded {
		if IsStopword(token) {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
