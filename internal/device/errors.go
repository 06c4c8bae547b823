// Package device holds the error types shared by the device executors.
package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrElementNotFound means the affordance an intent needs is not on screen.
	ErrElementNotFound = errors.New("element not found")
	// ErrUnavailable means the device or page is not answering at all.
	ErrUnavailable = errors.New("device unavailable")
)

// unavailableMarkers are output fragments that mean the device is gone rather
// than the command being wrong.
var unavailableMarkers = []string{
	"device offline",
	"no devices/emulators found",
	"device not found",
	"device unauthorized",
	"cannot connect",
	"connection refused",
	"target closed",
}

// CommandError is returned when a device command exits unsuccessfully.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("run %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("run %s: %v (%s)", e.Command, e.Err, output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches any *CommandError, and ErrUnavailable when the output says the
// device is gone.
func (e *CommandError) Is(target error) bool {
	if target == ErrUnavailable {
		return Unavailable(e.Output) || (e.Err != nil && Unavailable(e.Err.Error()))
	}
	_, ok := target.(*CommandError)
	return ok
}

// Unavailable reports whether text describes a missing or offline device.
func Unavailable(text string) bool {
	text = strings.ToLower(text)
	for _, marker := range unavailableMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
