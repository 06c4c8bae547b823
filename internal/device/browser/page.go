package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/feedpilot/feedpilot/internal/perception"
)

const navigateTimeout = 30 * time.Second

// DOMElement is one visible element read from the page.
type DOMElement struct {
	Tag       string `json:"tag"`
	Text      string `json:"text"`
	Label     string `json:"label"`
	ID        string `json:"id"`
	Clickable bool   `json:"clickable"`
	X1        int    `json:"x1"`
	Y1        int    `json:"y1"`
	X2        int    `json:"x2"`
	Y2        int    `json:"y2"`
}

// Bounds returns the element rectangle in viewport pixels.
func (d DOMElement) Bounds() perception.Bounds {
	return perception.Bounds{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2}
}

// Page is the browser tab the executor drives.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Viewport(ctx context.Context) (int, int, error)
	// Elements returns visible elements that carry text or an accessible
	// label.
	Elements(ctx context.Context) ([]DOMElement, error)
	// Query returns visible elements matching a CSS selector with their full
	// inner text.
	Query(ctx context.Context, selector string) ([]DOMElement, error)
	ClickAt(ctx context.Context, x, y int) error
	InsertText(ctx context.Context, text string) error
	Scroll(ctx context.Context, x, y, dx, dy int) error
	// Open navigates to url and waits for the load event.
	Open(ctx context.Context, url string) error
	Close() error
}

// LaunchConfig configures a local browser.
type LaunchConfig struct {
	Bin         string
	UserDataDir string
	Headless    bool
	// ControlURL connects to an already running browser instead of launching.
	ControlURL string
}

// RodPage implements Page over a stealth rod page.
type RodPage struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
}

// Launch starts or connects to a browser and opens a stealth page.
func Launch(ctx context.Context, cfg LaunchConfig) (*RodPage, error) {
	controlURL := strings.TrimSpace(cfg.ControlURL)
	var l *launcher.Launcher
	if controlURL == "" {
		bin := strings.TrimSpace(cfg.Bin)
		if bin == "" {
			if path, ok := launcher.LookPath(); ok {
				bin = path
			}
		}
		l = launcher.New().Headless(cfg.Headless).Set("disable-blink-features", "AutomationControlled")
		if bin != "" {
			l = l.Bin(bin)
		}
		if dir := strings.TrimSpace(cfg.UserDataDir); dir != "" {
			l = l.UserDataDir(dir)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		if l != nil {
			l.Cleanup()
		}
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &RodPage{browser: b, page: page, launcher: l}, nil
}

// Screenshot captures the viewport as PNG.
func (p *RodPage) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// Viewport returns the inner window size.
func (p *RodPage) Viewport(ctx context.Context) (int, int, error) {
	res, err := p.page.Context(ctx).Eval(`() => JSON.stringify([window.innerWidth, window.innerHeight])`)
	if err != nil {
		return 0, 0, fmt.Errorf("read viewport: %w", err)
	}
	var size [2]int
	if err := json.Unmarshal([]byte(res.Value.Str()), &size); err != nil {
		return 0, 0, fmt.Errorf("decode viewport: %w", err)
	}
	return size[0], size[1], nil
}

// Elements implements Page.
func (p *RodPage) Elements(ctx context.Context) ([]DOMElement, error) {
	return p.collect(ctx, elementsScript)
}

// Query implements Page.
func (p *RodPage) Query(ctx context.Context, selector string) ([]DOMElement, error) {
	return p.collect(ctx, queryScript, selector)
}

// ClickAt moves the mouse to x,y and clicks once.
func (p *RodPage) ClickAt(ctx context.Context, x, y int) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// InsertText types text into the focused element.
func (p *RodPage) InsertText(ctx context.Context, text string) error {
	if err := p.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// Scroll wheels by dx,dy with the pointer at x,y.
func (p *RodPage) Scroll(ctx context.Context, x, y, dx, dy int) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := mouse.Scroll(float64(dx), float64(dy), 8); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// Open implements Page.
func (p *RodPage) Open(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	page := p.page.Context(navCtx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Close closes the page and browser and removes a launched profile.
func (p *RodPage) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.page != nil {
		errs = append(errs, p.page.Close())
	}
	if p.browser != nil {
		errs = append(errs, p.browser.Close())
	}
	if p.launcher != nil {
		p.launcher.Cleanup()
	}
	return errors.Join(errs...)
}

func (p *RodPage) collect(ctx context.Context, script string, args ...interface{}) ([]DOMElement, error) {
	res, err := p.page.Context(ctx).Eval(script, args...)
	if err != nil {
		return nil, fmt.Errorf("read page elements: %w", err)
	}
	var elements []DOMElement
	if err := json.Unmarshal([]byte(res.Value.Str()), &elements); err != nil {
		return nil, fmt.Errorf("decode page elements: %w", err)
	}
	return elements, nil
}

const describeElement = `
const describe = (el, full) => {
	const r = el.getBoundingClientRect();
	const own = Array.from(el.childNodes)
		.filter((n) => n.nodeType === Node.TEXT_NODE)
		.map((n) => n.textContent.trim())
		.filter(Boolean)
		.join(' ');
	const role = el.getAttribute('role') || '';
	return {
		tag: el.tagName.toLowerCase(),
		text: (full ? el.innerText || '' : own).trim().slice(0, 2000),
		label: (el.getAttribute('aria-label') || el.getAttribute('alt') || el.getAttribute('placeholder') || '').trim(),
		id: el.id || '',
		clickable: ['BUTTON', 'A', 'TEXTAREA', 'INPUT'].includes(el.tagName) || role === 'button' || typeof el.onclick === 'function',
		x1: Math.round(r.left), y1: Math.round(r.top), x2: Math.round(r.right), y2: Math.round(r.bottom),
	};
};
const visible = (el) => {
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0 && r.bottom > 0 && r.top < window.innerHeight;
};
`

var elementsScript = `() => {` + describeElement + `
	return JSON.stringify(Array.from(document.querySelectorAll('body *'))
		.filter(visible)
		.map((el) => describe(el, false))
		.filter((d) => d.text || d.label));
}`

var queryScript = `(selector) => {` + describeElement + `
	return JSON.stringify(Array.from(document.querySelectorAll(selector))
		.filter(visible)
		.map((el) => describe(el, true)));
}`

var _ Page = (*RodPage)(nil)
