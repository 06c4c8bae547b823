package perception

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
)

// ElementKind names a UI affordance the session cares about.
type ElementKind string

const (
	// ElementLikePriority is the priority like affordance.
	ElementLikePriority ElementKind = "like_priority"
	// ElementLike is the regular like affordance.
	ElementLike ElementKind = "like"
	// ElementCommentEntry is the comment input entry point.
	ElementCommentEntry ElementKind = "comment_entry"
	// ElementSend confirms a pending like.
	ElementSend ElementKind = "send"
	// ElementSendPriority confirms a pending like as a priority like.
	ElementSendPriority ElementKind = "send_priority"
	// ElementReject skips the current subject.
	ElementReject ElementKind = "reject"
	// ElementEndOfFeed marks that no further subjects are available.
	ElementEndOfFeed ElementKind = "end_of_feed"
)

// Bounds is an axis-aligned screen rectangle.
type Bounds struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Center returns the rectangle midpoint.
func (b Bounds) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Empty reports whether the rectangle has no area.
func (b Bounds) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Element is one located UI affordance.
type Element struct {
	Kind       ElementKind
	Confidence float64
	Bounds     Bounds
	Label      string
}

// Content is the subject identity and attributes extracted from a frame.
type Content struct {
	Name       string
	Age        int
	HeightCM   int
	Location   string
	Interests  []string
	Text       string
	Attributes map[string]string
}

// Empty reports whether nothing was extracted.
func (c Content) Empty() bool {
	return !c.HasIdentity() &&
		strings.TrimSpace(c.Location) == "" &&
		len(c.Interests) == 0 &&
		strings.TrimSpace(c.Text) == "" &&
		len(c.Attributes) == 0
}

// HasIdentity reports whether the content identifies a subject.
func (c Content) HasIdentity() bool {
	return strings.TrimSpace(c.Name) != "" || c.Age > 0
}

// Field returns a named field as text. Unknown names are looked up in
// Attributes.
func (c Content) Field(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "name":
		return strings.TrimSpace(c.Name)
	case "age":
		if c.Age <= 0 {
			return ""
		}
		return strconv.Itoa(c.Age)
	case "height_cm", "height":
		if c.HeightCM <= 0 {
			return ""
		}
		return strconv.Itoa(c.HeightCM)
	case "location":
		return strings.TrimSpace(c.Location)
	case "interests":
		return strings.Join(c.Interests, ",")
	case "text":
		return strings.TrimSpace(c.Text)
	default:
		if c.Attributes == nil {
			return ""
		}
		return strings.TrimSpace(c.Attributes[strings.ToLower(strings.TrimSpace(name))])
	}
}

// Merge fills empty fields of c from other.
func (c Content) Merge(other Content) Content {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = other.Name
	}
	if c.Age <= 0 {
		c.Age = other.Age
	}
	if c.HeightCM <= 0 {
		c.HeightCM = other.HeightCM
	}
	if strings.TrimSpace(c.Location) == "" {
		c.Location = other.Location
	}
	if len(c.Interests) == 0 {
		c.Interests = append([]string(nil), other.Interests...)
	}
	if strings.TrimSpace(c.Text) == "" {
		c.Text = other.Text
	}
	if len(other.Attributes) > 0 {
		merged := make(map[string]string, len(c.Attributes)+len(other.Attributes))
		for key, value := range other.Attributes {
			merged[key] = value
		}
		for key, value := range c.Attributes {
			merged[key] = value
		}
		c.Attributes = merged
	}
	return c
}

// Snapshot is the immutable result of one capture and analyze pass.
type Snapshot struct {
	Elements    []Element
	Content     Content
	Fingerprint Fingerprint
	CapturedAt  time.Time
}

// Locate returns the most confident element of kind at or above threshold.
func (s Snapshot) Locate(kind ElementKind, threshold float64) (Element, bool) {
	var (
		best  Element
		found bool
	)
	for _, element := range s.Elements {
		if element.Kind != kind || element.Confidence < threshold {
			continue
		}
		if !found || element.Confidence > best.Confidence {
			best = element
			found = true
		}
	}
	return best, found
}

// Located reports whether any element of kind clears threshold.
func (s Snapshot) Located(kind ElementKind, threshold float64) bool {
	_, ok := s.Locate(kind, threshold)
	return ok
}

// Blank reports whether the snapshot has neither elements nor content.
func (s Snapshot) Blank() bool {
	return len(s.Elements) == 0 && s.Content.Empty()
}

// Provider turns a raw frame into a snapshot.
type Provider interface {
	Analyze(ctx context.Context, frame action.Frame) (Snapshot, error)
}
