package verify

import (
	"strings"
	"unicode"
)

// textOverlap is the word-set Jaccard of two texts. ok is false when either
// side has no words.
func textOverlap(a, b string) (float64, bool) {
	return jaccard(words(a), words(b))
}

// setOverlap is the Jaccard of two normalized string lists.
func setOverlap(a, b []string) (float64, bool) {
	return jaccard(normalizedSet(a), normalizedSet(b))
}

func jaccard(a, b map[string]struct{}) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	shared := 0
	for key := range a {
		if _, ok := b[key]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union), true
}

func words(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		out[field] = struct{}{}
	}
	return out
}

func normalizedSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		if normalized := strings.Join(strings.Fields(strings.ToLower(value)), " "); normalized != "" {
			out[normalized] = struct{}{}
		}
	}
	return out
}
