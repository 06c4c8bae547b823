// Package adb drives an Android device through the adb command line.
package adb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/feedpilot/feedpilot/internal/action"
	"github.com/feedpilot/feedpilot/internal/device"
	"github.com/feedpilot/feedpilot/internal/perception"
	"github.com/feedpilot/feedpilot/internal/perception/uixml"
)

const (
	// DefaultPath is the adb binary looked up on PATH.
	DefaultPath = "adb"
	// DefaultPackage is the application relaunched on reset.
	DefaultPackage = "co.hinge.app"
	// DefaultDumpPath is the on-device file uiautomator dumps into.
	DefaultDumpPath = "/sdcard/feedpilot_ui.xml"
	// DefaultCommandInterval paces consecutive adb commands.
	DefaultCommandInterval = 250 * time.Millisecond

	defaultRetries       = 2
	defaultRetryInterval = 300 * time.Millisecond
	defaultConfidence    = 0.5
	settleDelay          = 800 * time.Millisecond
	stopDelay            = 500 * time.Millisecond
	launchDelay          = time.Second
	keycodeEscape        = "111"
)

// transientMarkers are adb failures that usually clear on a second attempt.
var transientMarkers = []string{
	"error: closed",
	"protocol fault",
	"device still authorizing",
	"device offline",
	"could not get idle state",
}

// Options configures an adb executor.
type Options struct {
	Runner  CommandRunner
	Path    string
	Serial  string
	Package string
	// Width and Height skip wm size discovery when both are positive.
	Width           int
	Height          int
	CommandInterval time.Duration
	Retries         int
	Markers         uixml.Markers
	Confidence      float64
	DumpPath        string
	Logger          *log.Logger
}

// DeviceInfo is one line of adb devices output.
type DeviceInfo struct {
	Serial string
	State  string
}

// Executor implements action.Executor against one adb device.
type Executor struct {
	runner        CommandRunner
	path          string
	serial        string
	pkg           string
	dumpPath      string
	confidence    float64
	retries       uint64
	retryInterval time.Duration
	parser        *uixml.Parser
	limiter       *rate.Limiter
	logger        *log.Logger
	now           func() time.Time
	sleep         func(context.Context, time.Duration)

	mu     sync.Mutex
	width  int
	height int
}

// New creates an adb executor with default dependencies where omitted.
func New(opts Options) (*Executor, error) {
	runner := opts.Runner
	if runner == nil {
		runner = execRunner{}
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath
	}
	pkg := strings.TrimSpace(opts.Package)
	if pkg == "" {
		pkg = DefaultPackage
	}
	if strings.ContainsAny(pkg, " ;&|") {
		return nil, fmt.Errorf("invalid package name %q", pkg)
	}
	dumpPath := strings.TrimSpace(opts.DumpPath)
	if dumpPath == "" {
		dumpPath = DefaultDumpPath
	}
	interval := opts.CommandInterval
	if interval <= 0 {
		interval = DefaultCommandInterval
	}
	retries := opts.Retries
	if retries < 0 {
		return nil, errors.New("retries must not be negative")
	}
	if retries == 0 {
		retries = defaultRetries
	}
	confidence := opts.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = defaultConfidence
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	e := &Executor{
		runner:        runner,
		path:          path,
		serial:        strings.TrimSpace(opts.Serial),
		pkg:           pkg,
		dumpPath:      dumpPath,
		confidence:    confidence,
		retries:       uint64(retries),
		retryInterval: defaultRetryInterval,
		parser:        uixml.NewParser(opts.Markers),
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		logger:        logger,
		now:           time.Now,
		sleep:         sleepContext,
	}
	if opts.Width > 0 && opts.Height > 0 {
		e.width, e.height = opts.Width, opts.Height
	}
	return e, nil
}

// Capture takes a screenshot and a hierarchy dump. A failed dump still
// returns the screenshot.
func (e *Executor) Capture(ctx context.Context) (action.Frame, error) {
	width, height, err := e.ScreenSize(ctx)
	if err != nil {
		return action.Frame{}, err
	}
	image, err := e.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return action.Frame{}, fmt.Errorf("capture screen: %w", err)
	}
	hierarchy, err := e.dump(ctx)
	if err != nil {
		e.logger.Warn("hierarchy dump failed", "serial", e.serial, "error", err)
	}
	frame := action.Frame{
		Image:      image,
		Hierarchy:  hierarchy,
		Width:      width,
		Height:     height,
		CapturedAt: e.now().UTC(),
	}
	if frame.Empty() {
		return action.Frame{}, errors.New("capture returned no data")
	}
	return frame, nil
}

// Execute performs one intent. Simulated irreversible intents never reach
// the device.
func (e *Executor) Execute(ctx context.Context, intent action.Intent) action.Result {
	if intent.Simulated && intent.Irreversible() {
		return action.Synthesized("simulated " + string(intent.Kind))
	}
	switch intent.Kind {
	case action.KindScroll:
		return e.swipe(ctx, action.Pattern(intent.Pattern))
	case action.KindRetryCapture:
		return action.Succeeded("no device action")
	case action.KindReset:
		return e.Reset(ctx)
	case action.KindTerminate:
		return action.Succeeded("session terminating")
	case action.KindReject:
		return device.Reject(ctx, e)
	case action.KindLikeOnly:
		return device.Like(ctx, e, intent.Variant, "")
	case action.KindLikeWithComment:
		return device.Like(ctx, e, intent.Variant, intent.Comment)
	default:
		return action.Failed(fmt.Sprintf("unsupported intent %q", intent.Kind))
	}
}

// Reset force-stops and relaunches the target package.
func (e *Executor) Reset(ctx context.Context) action.Result {
	if _, err := e.Shell(ctx, "am", "force-stop", e.pkg); err != nil {
		return action.Failed(fmt.Sprintf("force-stop %s: %v", e.pkg, err))
	}
	e.sleep(ctx, stopDelay)
	if _, err := e.Shell(ctx, "monkey", "-p", e.pkg, "-c", "android.intent.category.LAUNCHER", "1"); err != nil {
		return action.Failed(fmt.Sprintf("launch %s: %v", e.pkg, err))
	}
	e.sleep(ctx, launchDelay)
	return action.Succeeded("relaunched " + e.pkg)
}

// ScreenSize returns the configured size or discovers it with wm size. An
// override size wins over the physical size.
func (e *Executor) ScreenSize(ctx context.Context) (int, int, error) {
	e.mu.Lock()
	width, height := e.width, e.height
	e.mu.Unlock()
	if width > 0 && height > 0 {
		return width, height, nil
	}

	out, err := e.Shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, fmt.Errorf("discover screen size: %w", err)
	}
	width, height, err = ParseSize(string(out))
	if err != nil {
		return 0, 0, err
	}
	e.mu.Lock()
	e.width, e.height = width, height
	e.mu.Unlock()
	e.logger.Debug("screen size discovered", "serial", e.serial, "width", width, "height", height)
	return width, height, nil
}

// Devices lists attached devices.
func (e *Executor) Devices(ctx context.Context) ([]DeviceInfo, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := e.runner.Run(ctx, e.path, "devices")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return ParseDevices(string(out)), nil
}

// Shell runs an adb shell command on the device.
func (e *Executor) Shell(ctx context.Context, args ...string) ([]byte, error) {
	return e.run(ctx, append([]string{"shell"}, args...)...)
}

func (e *Executor) run(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if e.serial != "" {
		full = append([]string{"-s", e.serial}, args...)
	}

	var out []byte
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := e.runner.Run(ctx, e.path, full...)
		if err != nil {
			if ctx.Err() != nil || !transient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = result
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryInterval), e.retries), ctx)
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("retrying adb command", "command", formatCommand(e.path, full), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) swipe(ctx context.Context, gesture action.Swipe) action.Result {
	width, height, err := e.ScreenSize(ctx)
	if err != nil {
		return action.Failed(err.Error())
	}
	x1, y1, x2, y2 := gesture.Scale(width, height)
	args := []string{"input", "swipe", strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(gesture.Duration.Milliseconds(), 10)}
	if _, err := e.Shell(ctx, args...); err != nil {
		return action.Failed(fmt.Sprintf("swipe: %v", err))
	}
	return action.Succeeded(fmt.Sprintf("swiped %d,%d to %d,%d", x1, y1, x2, y2))
}

// Find implements device.Surface with a fresh hierarchy dump.
func (e *Executor) Find(ctx context.Context, kinds ...perception.ElementKind) (perception.Element, bool, error) {
	data, err := e.dump(ctx)
	if err != nil {
		return perception.Element{}, false, err
	}
	nodes, err := uixml.ParseNodes(data)
	if err != nil {
		return perception.Element{}, false, err
	}
	for _, kind := range kinds {
		if element, ok := e.parser.Find(nodes, kind, e.confidence); ok {
			return element, true, nil
		}
	}
	return perception.Element{}, false, nil
}

// Tap implements device.Surface.
func (e *Executor) Tap(ctx context.Context, element perception.Element) error {
	x, y := element.Bounds.Center()
	if _, err := e.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("tap %s: %w", element.Kind, err)
	}
	return nil
}

// TypeText implements device.Surface.
func (e *Executor) TypeText(ctx context.Context, text string) error {
	if _, err := e.Shell(ctx, "input", "text", EscapeText(text)); err != nil {
		return err
	}
	if _, err := e.Shell(ctx, "input", "keyevent", keycodeEscape); err != nil {
		return fmt.Errorf("dismiss keyboard: %w", err)
	}
	return nil
}

// Settle implements device.Surface.
func (e *Executor) Settle(ctx context.Context) {
	e.sleep(ctx, settleDelay)
}

func (e *Executor) dump(ctx context.Context) ([]byte, error) {
	out, err := e.Shell(ctx, "uiautomator", "dump", e.dumpPath)
	if err != nil {
		return nil, fmt.Errorf("dump hierarchy: %w", err)
	}
	if text := strings.ToLower(string(out)); strings.Contains(text, "error") {
		return nil, fmt.Errorf("dump hierarchy: %s", strings.TrimSpace(string(out)))
	}
	data, err := e.Shell(ctx, "cat", e.dumpPath)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	if _, err := e.Shell(ctx, "rm", "-f", e.dumpPath); err != nil {
		e.logger.Debug("hierarchy cleanup failed", "path", e.dumpPath, "error", err)
	}
	return data, nil
}

// ParseSize reads wm size output.
func ParseSize(output string) (int, int, error) {
	var physical, override string
	for _, line := range strings.Split(output, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "physical size":
			physical = strings.TrimSpace(value)
		case "override size":
			override = strings.TrimSpace(value)
		}
	}
	size := override
	if size == "" {
		size = physical
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("unrecognized wm size output %q", strings.TrimSpace(output))
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid screen width %q", w)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid screen height %q", h)
	}
	return width, height, nil
}

// ParseDevices reads adb devices output.
func ParseDevices(output string) []DeviceInfo {
	devices := []DeviceInfo{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, DeviceInfo{Serial: fields[0], State: fields[1]})
	}
	return devices
}

// EscapeText prepares text for adb shell input text, which splits on spaces
// and passes the rest through the device shell.
func EscapeText(text string) string {
	var b strings.Builder
	for _, r := range strings.Join(strings.Fields(text), " ") {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune("\\'\"()&<>;|*~$`?[]#!{}%", r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func transient(err error) bool {
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var (
	_ action.Executor = (*Executor)(nil)
	_ device.Surface  = (*Executor)(nil)
)
