package action

import (
	"math"
	"time"
)

// Swipe is a gesture in screen-relative coordinates (0..1).
type Swipe struct {
	FromX    float64
	FromY    float64
	ToX      float64
	ToY      float64
	Duration time.Duration
}

// Scale converts the swipe to absolute pixel coordinates.
func (s Swipe) Scale(width, height int) (x1, y1, x2, y2 int) {
	w := float64(width)
	h := float64(height)
	return int(math.Round(s.FromX * w)), int(math.Round(s.FromY * h)), int(math.Round(s.ToX * w)), int(math.Round(s.ToY * h))
}

// navigationPatterns[0] is the default advance gesture; the rest are the
// recovery variants tried in order.
var navigationPatterns = []Swipe{
	{FromX: 0.5, FromY: 0.7, ToX: 0.5, ToY: 0.3, Duration: 600 * time.Millisecond},
	{FromX: 0.9, FromY: 0.5, ToX: 0.1, ToY: 0.5, Duration: 800 * time.Millisecond},
	{FromX: 0.5, FromY: 0.3, ToX: 0.5, ToY: 0.7, Duration: 800 * time.Millisecond},
	{FromX: 0.8, FromY: 0.3, ToX: 0.2, ToY: 0.7, Duration: 800 * time.Millisecond},
}

// RecoveryPatternCount is the number of neutral recovery gestures.
const RecoveryPatternCount = 3

// Pattern returns the swipe for a navigation pattern index, wrapping out of
// range values onto the default gesture.
func Pattern(index int) Swipe {
	if index < 0 || index >= len(navigationPatterns) {
		return navigationPatterns[0]
	}
	return navigationPatterns[index]
}
