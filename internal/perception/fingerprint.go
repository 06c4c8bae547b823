package perception

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DefaultKeyFields is the coarse duplicate-guard key.
var DefaultKeyFields = []string{"name", "age", "height_cm"}

// layoutBucket quantizes element centers so jitter does not change the layout.
const layoutBucket = 48

// Fingerprint summarizes subject identity for change and duplicate detection.
type Fingerprint struct {
	// Content is a hash of the normalized extracted content.
	Content string
	// Key is the coarse duplicate-guard key.
	Key string
	// Layout is a signature of located element kinds and positions.
	Layout string
	// Frame is the average hash of the captured image.
	Frame uint64
}

// IsZero reports whether nothing was fingerprinted.
func (f Fingerprint) IsZero() bool {
	return f.Content == "" && f.Key == "" && f.Layout == "" && f.Frame == 0
}

// String returns a short printable identifier.
func (f Fingerprint) String() string {
	if f.Key != "" {
		return f.Key
	}
	if len(f.Content) >= 12 {
		return f.Content[:12]
	}
	return f.Content
}

// NewFingerprint derives a fingerprint from extracted content, located
// elements and the frame hash.
func NewFingerprint(content Content, elements []Element, frameHash uint64, keyFields []string) Fingerprint {
	return Fingerprint{
		Content: ContentHash(content),
		Key:     CoarseKey(content, keyFields),
		Layout:  LayoutSignature(elements),
		Frame:   frameHash,
	}
}

// ContentHash hashes normalized content. Empty content hashes to "".
func ContentHash(content Content) string {
	if content.Empty() {
		return ""
	}
	interests := normalizedList(content.Interests)
	attrKeys := make([]string, 0, len(content.Attributes))
	for key := range content.Attributes {
		attrKeys = append(attrKeys, key)
	}
	sort.Strings(attrKeys)

	var b strings.Builder
	fmt.Fprintf(&b, "name=%s\n", normalize(content.Name))
	fmt.Fprintf(&b, "age=%d\n", content.Age)
	fmt.Fprintf(&b, "height_cm=%d\n", content.HeightCM)
	fmt.Fprintf(&b, "location=%s\n", normalize(content.Location))
	fmt.Fprintf(&b, "interests=%s\n", strings.Join(interests, ","))
	fmt.Fprintf(&b, "text=%s\n", normalize(content.Text))
	for _, key := range attrKeys {
		fmt.Fprintf(&b, "attr.%s=%s\n", normalize(key), normalize(content.Attributes[key]))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CoarseKey joins the normalized key fields. It is "" when every field is
// empty.
func CoarseKey(content Content, fields []string) string {
	if len(fields) == 0 {
		fields = DefaultKeyFields
	}
	parts := make([]string, 0, len(fields))
	populated := false
	for _, field := range fields {
		value := normalize(content.Field(field))
		if value != "" {
			populated = true
		}
		parts = append(parts, value)
	}
	if !populated {
		return ""
	}
	return strings.Join(parts, "|")
}

// LayoutSignature describes element kinds and quantized centers in a stable
// order.
func LayoutSignature(elements []Element) string {
	if len(elements) == 0 {
		return ""
	}
	entries := make([]string, 0, len(elements))
	for _, element := range elements {
		x, y := element.Bounds.Center()
		entries = append(entries, fmt.Sprintf("%s@%d,%d", element.Kind, x/layoutBucket, y/layoutBucket))
	}
	sort.Strings(entries)
	return strings.Join(entries, ";")
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func normalizedList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if normalized := normalize(value); normalized != "" {
			out = append(out, normalized)
		}
	}
	sort.Strings(out)
	return out
}
