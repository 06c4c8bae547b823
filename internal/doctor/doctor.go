// Package doctor runs preflight checks against the local toolchain, the
// target device, and the export destinations before a session starts.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/feedpilot/feedpilot/internal/device/adb"
	"github.com/feedpilot/feedpilot/internal/events"
	"github.com/feedpilot/feedpilot/internal/export"
	"github.com/feedpilot/feedpilot/internal/llm"
	"github.com/feedpilot/feedpilot/internal/theme"
)

// Status is the outcome of one check.
type Status string

const (
	// StatusOK means the check passed.
	StatusOK Status = "ok"
	// StatusWarn means the session can run but something looks off.
	StatusWarn Status = "warn"
	// StatusFail means a session would fail.
	StatusFail Status = "fail"
)

const (
	targetADB     = "adb"
	targetBrowser = "browser"

	stateDevice       = "device"
	stateUnauthorized = "unauthorized"
	stateOffline      = "offline"
)

// Check is one named preflight result.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report is the result of one RunOnce.
type Report struct {
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Failed reports whether any check failed.
func (r Report) Failed() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return true
		}
	}
	return false
}

// Write renders the report as one styled line per check.
func (r Report) Write(w io.Writer) error {
	width := 0
	for _, check := range r.Checks {
		if len(check.Name) > width {
			width = len(check.Name)
		}
	}
	for _, check := range r.Checks {
		line := fmt.Sprintf("%-*s  %s  %s\n", width, check.Name, theme.Status(string(check.Status)), theme.MutedStyle.Render(check.Detail))
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// DeviceProbe lists attached adb devices.
type DeviceProbe interface {
	Devices(ctx context.Context) ([]adb.DeviceInfo, error)
}

// EventBus publishes health events.
type EventBus interface {
	Publish(event events.Event)
}

// Config selects which checks run.
type Config struct {
	Target     string
	ADBPath    string
	Serial     string
	BrowserBin string
	// LLMProvider is checked for an API key. NeedsLLM turns a missing key
	// into a failure.
	LLMProvider string
	NeedsLLM    bool
	ExportDir   string
	SQLitePath  string
}

// Manager runs preflight checks.
type Manager struct {
	cfg         Config
	probe       DeviceProbe
	bus         EventBus
	lookPath    func(string) (string, error)
	findBrowser func() (string, bool)
	lookupKey   func(llm.Provider) (string, error)
	now         func() time.Time
}

// NewManager builds a preflight manager. The probe is required for the adb
// target; bus may be nil.
func NewManager(cfg Config, probe DeviceProbe, bus EventBus) (*Manager, error) {
	cfg.Target = strings.ToLower(strings.TrimSpace(cfg.Target))
	switch cfg.Target {
	case "":
		cfg.Target = targetADB
	case targetADB, targetBrowser:
	default:
		return nil, fmt.Errorf("unsupported target %q", cfg.Target)
	}
	if cfg.Target == targetADB && probe == nil {
		return nil, errors.New("device probe is required for the adb target")
	}
	if strings.TrimSpace(cfg.ADBPath) == "" {
		cfg.ADBPath = adb.DefaultPath
	}
	return &Manager{
		cfg:         cfg,
		probe:       probe,
		bus:         bus,
		lookPath:    exec.LookPath,
		findBrowser: launcher.LookPath,
		lookupKey:   llm.LookupAPIKey,
		now:         time.Now,
	}, nil
}

// RunOnce executes every applicable check and publishes the report.
func (m *Manager) RunOnce(ctx context.Context) (Report, error) {
	if m == nil {
		return Report{}, errors.New("doctor manager is nil")
	}

	var checks []Check
	switch m.cfg.Target {
	case targetADB:
		checks = append(checks, m.checkADBBinary())
		checks = append(checks, m.checkDevice(ctx))
	case targetBrowser:
		checks = append(checks, m.checkBrowser())
	}
	checks = append(checks, m.checkLLMKey())
	if strings.TrimSpace(m.cfg.ExportDir) != "" {
		checks = append(checks, checkWritable(m.cfg.ExportDir))
	}
	if strings.TrimSpace(m.cfg.SQLitePath) != "" {
		checks = append(checks, checkStore(ctx, m.cfg.SQLitePath))
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Checks: checks, CheckedAt: m.now().UTC()}
	if m.bus != nil {
		severity := events.SeverityInfo
		if report.Failed() {
			severity = events.SeverityError
		}
		m.bus.Publish(events.Event{
			Type:       events.EventTypeHealthCheck,
			Timestamp:  report.CheckedAt,
			EntityType: "health",
			EntityID:   "doctor",
			Payload:    report,
			Severity:   severity,
		})
	}
	return report, nil
}

func (m *Manager) checkADBBinary() Check {
	path, err := m.lookPath(m.cfg.ADBPath)
	if err != nil {
		return Check{Name: "adb", Status: StatusFail, Detail: fmt.Sprintf("%s not found on PATH", m.cfg.ADBPath)}
	}
	return Check{Name: "adb", Status: StatusOK, Detail: path}
}

func (m *Manager) checkDevice(ctx context.Context) Check {
	devices, err := m.probe.Devices(ctx)
	if err != nil {
		return Check{Name: "device", Status: StatusFail, Detail: err.Error()}
	}
	serial := strings.TrimSpace(m.cfg.Serial)
	if serial != "" {
		for _, device := range devices {
			if device.Serial == serial {
				return deviceState(device)
			}
		}
		return Check{Name: "device", Status: StatusFail, Detail: fmt.Sprintf("%s is not attached", serial)}
	}

	switch len(devices) {
	case 0:
		return Check{Name: "device", Status: StatusFail, Detail: "no devices attached"}
	case 1:
		return deviceState(devices[0])
	default:
		serials := make([]string, 0, len(devices))
		for _, device := range devices {
			serials = append(serials, device.Serial)
		}
		return Check{
			Name:   "device",
			Status: StatusWarn,
			Detail: fmt.Sprintf("%d devices attached (%s); set device.serial", len(devices), strings.Join(serials, ", ")),
		}
	}
}

func deviceState(device adb.DeviceInfo) Check {
	switch device.State {
	case stateDevice:
		return Check{Name: "device", Status: StatusOK, Detail: device.Serial}
	case stateUnauthorized:
		return Check{Name: "device", Status: StatusFail, Detail: device.Serial + " is unauthorized; accept the debugging prompt"}
	case stateOffline:
		return Check{Name: "device", Status: StatusFail, Detail: device.Serial + " is offline"}
	default:
		return Check{Name: "device", Status: StatusWarn, Detail: fmt.Sprintf("%s is %s", device.Serial, device.State)}
	}
}

func (m *Manager) checkBrowser() Check {
	if bin := strings.TrimSpace(m.cfg.BrowserBin); bin != "" {
		if _, err := os.Stat(bin); err != nil {
			return Check{Name: "browser", Status: StatusFail, Detail: err.Error()}
		}
		return Check{Name: "browser", Status: StatusOK, Detail: bin}
	}
	if path, ok := m.findBrowser(); ok {
		return Check{Name: "browser", Status: StatusOK, Detail: path}
	}
	return Check{Name: "browser", Status: StatusWarn, Detail: "no local browser found; one will be downloaded on first run"}
}

func (m *Manager) checkLLMKey() Check {
	provider, err := llm.ParseProvider(m.cfg.LLMProvider)
	if err != nil {
		return Check{Name: "llm", Status: StatusFail, Detail: err.Error()}
	}
	if _, err := m.lookupKey(provider); err != nil {
		status := StatusWarn
		if m.cfg.NeedsLLM {
			status = StatusFail
		}
		return Check{Name: "llm", Status: status, Detail: err.Error()}
	}
	return Check{Name: "llm", Status: StatusOK, Detail: string(provider) + " key configured"}
}

func checkWritable(dir string) Check {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Check{Name: "exports", Status: StatusFail, Detail: err.Error()}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "exports", Status: StatusFail, Detail: err.Error()}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return Check{Name: "exports", Status: StatusOK, Detail: abs}
}

func checkStore(ctx context.Context, path string) Check {
	store, err := export.OpenStore(ctx, path)
	if err != nil {
		return Check{Name: "store", Status: StatusFail, Detail: err.Error()}
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(ctx)
	if err != nil {
		return Check{Name: "store", Status: StatusFail, Detail: err.Error()}
	}
	return Check{Name: "store", Status: StatusOK, Detail: fmt.Sprintf("%d profiles (%d repeats)", stats.Profiles, stats.Repeats)}
}
