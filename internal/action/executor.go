package action

import (
	"context"
	"strings"
	"time"
)

// Frame is one raw capture of the device screen.
type Frame struct {
	// Image holds PNG-encoded screenshot bytes.
	Image []byte
	// Hierarchy holds a UI hierarchy dump in uiautomator XML form.
	Hierarchy  []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Empty reports whether the frame carries no usable data.
func (f Frame) Empty() bool {
	return len(f.Image) == 0 && len(f.Hierarchy) == 0
}

// Result reports the outcome of a single executor call.
type Result struct {
	Success    bool
	Diagnostic string
	// Synthetic marks a result produced without touching the device.
	Synthetic bool
	// Variant is the like variant the device committed. Empty means the
	// executor did not report one.
	Variant LikeVariant
}

// Sent returns r with the committed like variant recorded.
func (r Result) Sent(variant LikeVariant) Result {
	r.Variant = variant
	return r
}

// Succeeded builds a successful result.
func Succeeded(diagnostic string) Result {
	return Result{Success: true, Diagnostic: strings.TrimSpace(diagnostic)}
}

// Failed builds a failed result.
func Failed(diagnostic string) Result {
	return Result{Success: false, Diagnostic: strings.TrimSpace(diagnostic)}
}

// Synthesized builds a successful result that never reached the device.
func Synthesized(diagnostic string) Result {
	return Result{Success: true, Synthetic: true, Diagnostic: strings.TrimSpace(diagnostic)}
}

// Executor performs physical actions against the device session.
type Executor interface {
	Execute(ctx context.Context, intent Intent) Result
	Capture(ctx context.Context) (Frame, error)
	Reset(ctx context.Context) Result
}
