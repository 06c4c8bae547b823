package uixml

import (
	"strings"

	"github.com/feedpilot/feedpilot/internal/perception"
)

// Markers maps element kinds to the labels that identify them in a hierarchy
// dump. A marker ending in "*" matches as a prefix; any other marker must
// match the whole normalized label.
type Markers map[perception.ElementKind][]string

// DefaultMarkers returns the labels used by the dating feed the tool was built
// against. Every entry can be overridden from config.
func DefaultMarkers() Markers {
	return Markers{
		perception.ElementLikePriority: {"send priority like", "priority like*"},
		perception.ElementLike:         {"like*"},
		perception.ElementCommentEntry: {"add a comment", "add a comment*"},
		perception.ElementSend:         {"send like", "send like anyway"},
		perception.ElementSendPriority: {"send priority like with message", "send priority like with message*"},
		perception.ElementReject:       {"skip *", "skip"},
		perception.ElementEndOfFeed:    {"no more profiles*", "you've seen everyone*", "out of free likes*"},
	}
}

// Merge overlays non-empty entries from other.
func (m Markers) Merge(other map[string][]string) Markers {
	out := make(Markers, len(m)+len(other))
	for kind, labels := range m {
		out[kind] = append([]string(nil), labels...)
	}
	for kind, labels := range other {
		cleaned := make([]string, 0, len(labels))
		for _, label := range labels {
			if normalized := normalizeLabel(label); normalized != "" {
				cleaned = append(cleaned, normalized)
			}
		}
		if len(cleaned) == 0 {
			continue
		}
		out[perception.ElementKind(strings.TrimSpace(kind))] = cleaned
	}
	return out
}

// Primary returns the first marker for kind with any wildcard removed.
func (m Markers) Primary(kind perception.ElementKind) string {
	labels := m[kind]
	if len(labels) == 0 {
		return string(kind)
	}
	return strings.TrimSuffix(labels[0], "*")
}

// matchOrder fixes evaluation so specific markers win over broad prefixes
// such as "like*".
var matchOrder = []perception.ElementKind{
	perception.ElementEndOfFeed,
	perception.ElementSendPriority,
	perception.ElementLikePriority,
	perception.ElementSend,
	perception.ElementCommentEntry,
	perception.ElementReject,
	perception.ElementLike,
}

// match returns the element kind and confidence for a label. Exact matches
// score 1.0 and prefix matches 0.8.
func (m Markers) match(label string) (perception.ElementKind, float64, bool) {
	normalized := normalizeLabel(label)
	if normalized == "" {
		return "", 0, false
	}
	kinds := append([]perception.ElementKind(nil), matchOrder...)
	for kind := range m {
		if !containsKind(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}

	var (
		bestKind  perception.ElementKind
		bestScore float64
	)
	for _, kind := range kinds {
		for _, marker := range m[kind] {
			marker = normalizeLabel(marker)
			if marker == "" {
				continue
			}
			score := 0.0
			switch {
			case strings.HasSuffix(marker, "*"):
				if strings.HasPrefix(normalized, strings.TrimSuffix(marker, "*")) {
					score = 0.8
				}
			case normalized == marker:
				score = 1.0
			}
			if score > bestScore {
				bestKind = kind
				bestScore = score
			}
		}
		if bestScore == 1.0 {
			break
		}
	}
	if bestScore == 0 {
		return "", 0, false
	}
	return bestKind, bestScore, true
}

func containsKind(kinds []perception.ElementKind, kind perception.ElementKind) bool {
	for _, candidate := range kinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

func normalizeLabel(value string) string {
	value = strings.ReplaceAll(value, "’", "'")
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
