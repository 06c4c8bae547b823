// Package uixml reads uiautomator-style hierarchy dumps into perception
// layouts.
package uixml

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/feedpilot/feedpilot/internal/perception"
)

// FieldResourcePrefix marks synthetic nodes that carry a content field
// directly, e.g. resource-id="field:name".
const FieldResourcePrefix = "field:"

var (
	boundsPattern    = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)
	skipNamePattern  = regexp.MustCompile(`(?i)^skip\s+(.+)$`)
	photoNamePattern = regexp.MustCompile(`(?i)^(.+?)(?:'s|’s)\s+photo$`)
	digitsPattern    = regexp.MustCompile(`\d+`)
)

var nonNameLabels = map[string]struct{}{
	"she": {}, "he": {}, "they": {}, "online": {},
	"active today": {}, "active now": {}, "active recently": {},
}

// biometricLabels maps label content-desc values to content fields.
var biometricLabels = map[string]string{
	"age":      "age",
	"height":   "height_cm",
	"location": "location",
	"hometown": "hometown",
	"job":      "job",
	"work":     "job",
	"religion": "religion",
	"drinking": "drinking",
	"smoking":  "smoking",
	"children": "children",
	"pets":     "pets",
}

// Node is one flattened hierarchy node.
type Node struct {
	Text        string
	ContentDesc string
	ResourceID  string
	Class       string
	Clickable   bool
	Bounds      perception.Bounds
}

// Label returns the content description, falling back to the text.
func (n Node) Label() string {
	if desc := strings.TrimSpace(n.ContentDesc); desc != "" {
		return desc
	}
	return strings.TrimSpace(n.Text)
}

// Parser turns hierarchy dumps into layouts.
type Parser struct {
	markers Markers
}

// NewParser builds a parser. Nil markers use DefaultMarkers.
func NewParser(markers Markers) *Parser {
	if len(markers) == 0 {
		markers = DefaultMarkers()
	}
	return &Parser{markers: markers}
}

// Markers returns the markers the parser matches against.
func (p *Parser) Markers() Markers {
	return p.markers
}

// Parse implements perception.Structure.
func (p *Parser) Parse(data []byte) (perception.Layout, error) {
	nodes, err := ParseNodes(data)
	if err != nil {
		return perception.Layout{}, err
	}
	return perception.Layout{
		Elements: p.Elements(nodes),
		Content:  ExtractContent(nodes),
	}, nil
}

// Elements classifies nodes into located elements.
func (p *Parser) Elements(nodes []Node) []perception.Element {
	elements := make([]perception.Element, 0, 8)
	for _, node := range nodes {
		if node.Bounds.Empty() {
			continue
		}
		label := node.Label()
		kind, confidence, ok := p.markers.match(label)
		if !ok && node.ContentDesc != "" && node.Text != "" {
			kind, confidence, ok = p.markers.match(node.Text)
		}
		if !ok {
			continue
		}
		if kind == perception.ElementLike && !node.Clickable && !strings.Contains(strings.ToLower(node.Class), "button") {
			confidence *= 0.75
		}
		elements = append(elements, perception.Element{
			Kind:       kind,
			Confidence: confidence,
			Bounds:     node.Bounds,
			Label:      label,
		})
	}
	return elements
}

// Find returns the most confident element of kind located in nodes.
func (p *Parser) Find(nodes []Node, kind perception.ElementKind, threshold float64) (perception.Element, bool) {
	return perception.Snapshot{Elements: p.Elements(nodes)}.Locate(kind, threshold)
}

// ParseNodes flattens every node element of a hierarchy dump.
func ParseNodes(data []byte) ([]Node, error) {
	trimmed := extractXMLRoot(data)
	if len(trimmed) == 0 {
		return nil, errors.New("hierarchy dump is empty")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimmed); err != nil {
		return nil, fmt.Errorf("read hierarchy xml: %w", err)
	}
	if doc.Root() == nil {
		return nil, errors.New("hierarchy dump has no root element")
	}

	elements := doc.FindElements("//node")
	nodes := make([]Node, 0, len(elements))
	for _, element := range elements {
		bounds, _ := ParseBounds(element.SelectAttrValue("bounds", ""))
		nodes = append(nodes, Node{
			Text:        strings.TrimSpace(element.SelectAttrValue("text", "")),
			ContentDesc: strings.TrimSpace(element.SelectAttrValue("content-desc", "")),
			ResourceID:  strings.TrimSpace(element.SelectAttrValue("resource-id", "")),
			Class:       strings.TrimSpace(element.SelectAttrValue("class", "")),
			Clickable:   element.SelectAttrValue("clickable", "false") == "true",
			Bounds:      bounds,
		})
	}
	return nodes, nil
}

// ParseBounds parses the "[x1,y1][x2,y2]" bounds attribute.
func ParseBounds(value string) (perception.Bounds, bool) {
	match := boundsPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return perception.Bounds{}, false
	}
	coords := make([]int, 4)
	for i := range coords {
		parsed, err := strconv.Atoi(match[i+1])
		if err != nil {
			return perception.Bounds{}, false
		}
		coords[i] = parsed
	}
	return perception.Bounds{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, true
}

// FormatBounds renders bounds in uiautomator form.
func FormatBounds(b perception.Bounds) string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}

// ExtractContent reads subject identity and attributes from nodes.
func ExtractContent(nodes []Node) perception.Content {
	content := perception.Content{}
	attributes := map[string]string{}

	for _, node := range nodes {
		if !strings.HasPrefix(node.ResourceID, FieldResourcePrefix) {
			continue
		}
		applyField(&content, attributes, strings.TrimPrefix(node.ResourceID, FieldResourcePrefix), node.Text)
	}

	if content.Name == "" {
		content.Name = extractName(nodes)
	}
	for field, value := range pairBiometrics(nodes) {
		if content.Field(field) == "" && attributes[field] == "" {
			applyField(&content, attributes, field, value)
		}
	}
	if content.Text == "" {
		content.Text = collectText(nodes, content.Name)
	}
	if len(attributes) > 0 {
		content.Attributes = attributes
	}
	return content
}

// ParseHeight converts a height label to centimeters.
func ParseHeight(raw string) int {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return 0
	}
	numbers := make([]int, 0, 2)
	for _, digits := range digitsPattern.FindAllString(value, -1) {
		parsed, err := strconv.Atoi(digits)
		if err == nil {
			numbers = append(numbers, parsed)
		}
	}
	if len(numbers) == 0 {
		return 0
	}
	if strings.Contains(value, "cm") || numbers[0] >= 100 {
		return numbers[0]
	}
	feetInches := strings.Contains(value, "'") || strings.Contains(value, "ft") ||
		(len(numbers) >= 2 && numbers[0] <= 7 && numbers[1] <= 11)
	if feetInches {
		inches := 0
		if len(numbers) > 1 {
			inches = numbers[1]
		}
		return int(math.Round(float64(numbers[0])*30.48 + float64(inches)*2.54))
	}
	return numbers[0]
}

func applyField(content *perception.Content, attributes map[string]string, field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "name":
		content.Name = cleanName(value)
	case "age":
		if digits := digitsPattern.FindString(value); digits != "" {
			content.Age, _ = strconv.Atoi(digits)
		}
	case "height_cm", "height":
		content.HeightCM = ParseHeight(value)
	case "location":
		content.Location = value
	case "interests":
		for _, interest := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(interest); trimmed != "" {
				content.Interests = append(content.Interests, trimmed)
			}
		}
	case "text":
		content.Text = value
	default:
		attributes[strings.ToLower(strings.TrimSpace(field))] = value
	}
}

func extractName(nodes []Node) string {
	for _, pattern := range []*regexp.Regexp{skipNamePattern, photoNamePattern} {
		for _, node := range nodes {
			match := pattern.FindStringSubmatch(node.ContentDesc)
			if match == nil {
				continue
			}
			if name := cleanName(match[1]); looksLikeName(name) {
				return name
			}
		}
	}
	return ""
}

// pairBiometrics pairs label nodes with the closest value text to their right
// on roughly the same row.
func pairBiometrics(nodes []Node) map[string]string {
	out := map[string]string{}
	for _, label := range nodes {
		field, ok := biometricLabels[normalizeLabel(label.ContentDesc)]
		if !ok || label.Bounds.Empty() {
			continue
		}
		_, labelY := label.Bounds.Center()
		tolerance := (label.Bounds.Y2 - label.Bounds.Y1) * 3 / 2
		if tolerance < 60 {
			tolerance = 60
		}
		bestScore := -1
		bestValue := ""
		for _, value := range nodes {
			if value.Text == "" || value.Bounds.Empty() || value.Bounds.X1 < label.Bounds.X2-5 {
				continue
			}
			_, valueY := value.Bounds.Center()
			dy := absInt(valueY - labelY)
			if dy > tolerance {
				continue
			}
			score := dy*2 + (value.Bounds.X1 - label.Bounds.X2)
			if bestScore < 0 || score < bestScore {
				bestScore = score
				bestValue = value.Text
			}
		}
		if bestValue != "" {
			out[field] = bestValue
		}
	}
	return out
}

func collectText(nodes []Node, name string) string {
	seen := map[string]struct{}{}
	parts := make([]string, 0, len(nodes))
	lowerName := strings.ToLower(name)
	for _, node := range nodes {
		text := strings.TrimSpace(node.Text)
		if len(text) < 3 || strings.ToLower(text) == lowerName {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func cleanName(value string) string {
	return strings.Trim(strings.TrimSpace(value), " .,!?:;")
}

func looksLikeName(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > 40 {
		return false
	}
	lower := normalizeLabel(value)
	if _, blocked := nonNameLabels[lower]; blocked || strings.HasPrefix(lower, "active ") {
		return false
	}
	hasLetter := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case r == ' ' || r == '-' || r == '\'' || r == '’':
		default:
			return false
		}
	}
	return hasLetter
}

func extractXMLRoot(data []byte) []byte {
	text := string(data)
	start := strings.Index(text, "<?xml")
	if start < 0 {
		start = strings.Index(text, "<hierarchy")
	}
	if start < 0 {
		start = strings.Index(text, "<")
	}
	if start < 0 {
		return nil
	}
	end := strings.LastIndex(text, ">")
	if end < start {
		return nil
	}
	return []byte(text[start : end+1])
}

func absInt(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
