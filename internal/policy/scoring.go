package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/feedpilot/feedpilot/internal/perception"
)

// HardKillDelta is the delta at or below which a single matching rule
// rejects regardless of the total score.
const HardKillDelta = -1000

// Match names how a rule compares a content field.
type Match string

const (
	MatchEquals   Match = "equals"
	MatchContains Match = "contains"
	MatchAtLeast  Match = "at_least"
	MatchAtMost   Match = "at_most"
	MatchPresent  Match = "present"
)

// Rule scores one content field.
type Rule struct {
	Field string
	Match Match
	Value string
	Delta int
}

// Validate checks that the rule can be evaluated.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("rule field must not be empty")
	}
	switch r.Match {
	case MatchEquals, MatchContains, MatchPresent:
	case MatchAtLeast, MatchAtMost:
		if _, err := strconv.Atoi(strings.TrimSpace(r.Value)); err != nil {
			return fmt.Errorf("rule %s %s needs an integer value: %w", r.Field, r.Match, err)
		}
	default:
		return fmt.Errorf("rule %s has unsupported match %q", r.Field, r.Match)
	}
	if r.Delta == 0 {
		return fmt.Errorf("rule %s %s has zero delta", r.Field, r.Match)
	}
	return nil
}

func (r Rule) matches(content perception.Content) bool {
	value := content.Field(r.Field)
	if value == "" {
		return false
	}
	want := strings.TrimSpace(r.Value)
	switch r.Match {
	case MatchPresent:
		return true
	case MatchEquals:
		return strings.EqualFold(value, want)
	case MatchContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(want))
	case MatchAtLeast, MatchAtMost:
		got, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		limit, err := strconv.Atoi(want)
		if err != nil {
			return false
		}
		if r.Match == MatchAtLeast {
			return got >= limit
		}
		return got <= limit
	default:
		return false
	}
}

// Contribution is one matched rule.
type Contribution struct {
	Field string
	Value string
	Delta int
}

// Score is the result of evaluating every rule against one subject.
type Score struct {
	Total         int
	Contributions []Contribution
	HardKills     []Contribution
}

// Scorer is an explicit negative-signal rule table.
type Scorer struct {
	rules    []Rule
	minScore int
	hasMin   bool
}

// NewScorer validates rules. A nil minScore disables score-based rejection,
// leaving only hard kills.
func NewScorer(rules []Rule, minScore *int) (*Scorer, error) {
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("reject rule %d: %w", i, err)
		}
	}
	scorer := &Scorer{rules: append([]Rule(nil), rules...)}
	if minScore != nil {
		scorer.minScore = *minScore
		scorer.hasMin = true
	}
	return scorer, nil
}

// Evaluate scores content against every rule.
func (s *Scorer) Evaluate(content perception.Content) Score {
	var score Score
	if s == nil {
		return score
	}
	for _, rule := range s.rules {
		if !rule.matches(content) {
			continue
		}
		contribution := Contribution{Field: rule.Field, Value: content.Field(rule.Field), Delta: rule.Delta}
		score.Total += rule.Delta
		score.Contributions = append(score.Contributions, contribution)
		if rule.Delta <= HardKillDelta {
			score.HardKills = append(score.HardKills, contribution)
		}
	}
	return score
}

// Reject reports whether the content carries an explicit negative signal.
// Unmatched content is never rejected.
func (s *Scorer) Reject(content perception.Content) (string, bool) {
	score := s.Evaluate(content)
	if len(score.Contributions) == 0 {
		return "", false
	}
	if len(score.HardKills) > 0 {
		return "hard reject: " + describe(score.HardKills), true
	}
	if s.hasMin && score.Total < s.minScore {
		return fmt.Sprintf("score %d below %d: %s", score.Total, s.minScore, describe(score.Contributions)), true
	}
	return "", false
}

func describe(contributions []Contribution) string {
	parts := make([]string, 0, len(contributions))
	for _, c := range contributions {
		parts = append(parts, fmt.Sprintf("%s=%s(%+d)", c.Field, c.Value, c.Delta))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
