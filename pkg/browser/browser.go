package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Options configures the Chrome instance behind a Browser.
type Options struct {
	// Headless runs Chrome without a window.
	Headless bool
	// NoSandbox disables the Chrome sandbox, needed as root in containers.
	NoSandbox bool
	// Bin is the Chrome binary. Empty lets rod find or download one.
	Bin string
	// ControlURL attaches to an already running Chrome instead of launching.
	ControlURL string
	// Timeout bounds each page operation. Zero means 30s.
	Timeout time.Duration
}

// PageInfo describes the current page after navigation.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Link is one anchor on the page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Browser drives a single Chrome tab. Chrome is started on first use.
type Browser struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	rod      *rod.Browser
	page     *rod.Page
	closed   bool
}

// New returns a Browser that has not launched Chrome yet.
func New(opts Options, logger zerolog.Logger) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Browser{opts: opts, logger: logger}
}

// Launched reports whether Chrome has been started.
func (b *Browser) Launched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rod != nil
}

// ensurePage launches Chrome and opens the working tab if needed.
func (b *Browser) ensurePage(ctx context.Context) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, newError(ErrCodeClosed, nil, "Browser is closed")
	}
	if b.page != nil {
		return b.page.Context(ctx).Timeout(b.opts.Timeout), nil
	}

	controlURL := b.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(b.opts.Headless).NoSandbox(b.opts.NoSandbox)
		if b.opts.Bin != "" {
			l = l.Bin(b.opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, newError(ErrCodeLaunch, err, "Failed to launch Chrome")
		}
		b.launcher = l
		controlURL = u
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		b.killLocked()
		return nil, newError(ErrCodeLaunch, err, "Failed to connect to Chrome")
	}
	page, err := br.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = br.Close()
		b.killLocked()
		return nil, newError(ErrCodeLaunch, err, "Failed to open a tab")
	}

	b.rod = br
	b.page = page
	b.logger.Info().Str("control_url", controlURL).Msg("Browser started")
	return page.Context(ctx).Timeout(b.opts.Timeout), nil
}

// Navigate opens rawURL in the working tab and waits for the load event.
// The URL must already have passed the policy.
func (b *Browser) Navigate(ctx context.Context, rawURL string) (*PageInfo, error) {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	if err := page.Navigate(rawURL); err != nil {
		return nil, newError(ErrCodeNavigation, err, "Failed to navigate to %s", rawURL)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, newError(ErrCodeNavigation, err, "Page did not finish loading")
	}
	info, err := page.Info()
	if err != nil {
		return nil, newError(ErrCodeNavigation, err, "Failed to read page info")
	}
	return &PageInfo{URL: info.URL, Title: info.Title}, nil
}

// CurrentURL returns the URL of the working tab.
func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", newError(ErrCodeNavigation, err, "Failed to read page info")
	}
	return info.URL, nil
}

// Blank replaces the working tab's page with about:blank.
func (b *Browser) Blank(ctx context.Context) error {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return err
	}
	if err := page.Navigate(blankURL); err != nil {
		return newError(ErrCodeNavigation, err, "Failed to open %s", blankURL)
	}
	return nil
}

// Text returns the visible text of the page, or of the first element
// matching selector when it is not empty.
func (b *Browser) Text(ctx context.Context, selector string) (string, error) {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return "", err
	}
	if selector == "" {
		res, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
		if err != nil {
			return "", newError(ErrCodeScriptExecution, err, "Failed to extract text")
		}
		return res.Value.Str(), nil
	}

	el, err := page.Element(selector)
	if err != nil {
		return "", newError(ErrCodeElementNotFound, err, "Element not found: %s", selector)
	}
	text, err := el.Text()
	if err != nil {
		return "", newError(ErrCodeScriptExecution, err, "Failed to read text of %s", selector)
	}
	return text, nil
}

// Links returns every anchor on the page with its resolved href.
func (b *Browser) Links(ctx context.Context) ([]Link, error) {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Eval(`() => Array.from(document.querySelectorAll('a[href]'))
		.map(a => ({ href: a.href, text: (a.textContent || '').trim() }))`)
	if err != nil {
		return nil, newError(ErrCodeScriptExecution, err, "Failed to extract links")
	}
	var links []Link
	if err := res.Value.Unmarshal(&links); err != nil {
		return nil, newError(ErrCodeScriptExecution, err, "Failed to decode links")
	}
	return links, nil
}

// Click clicks the first element matching selector.
func (b *Browser) Click(ctx context.Context, selector string) error {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return err
	}
	el, err := page.Element(selector)
	if err != nil {
		return newError(ErrCodeElementNotFound, err, "Element not found: %s", selector)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return newError(ErrCodeScriptExecution, err, "Failed to click %s", selector)
	}
	return nil
}

// Type replaces the value of the input matching selector with text.
func (b *Browser) Type(ctx context.Context, selector, text string) error {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return err
	}
	el, err := page.Element(selector)
	if err != nil {
		return newError(ErrCodeElementNotFound, err, "Element not found: %s", selector)
	}
	if err := el.SelectAllText(); err != nil {
		b.logger.Debug().Err(err).Str("selector", selector).Msg("Could not select existing text")
	}
	if err := el.Input(text); err != nil {
		return newError(ErrCodeScriptExecution, err, "Failed to type into %s", selector)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, newError(ErrCodeScriptExecution, err, "Failed to capture screenshot")
	}
	return data, nil
}

// Eval runs a JavaScript function expression and returns its result as JSON.
func (b *Browser) Eval(ctx context.Context, script string) (string, error) {
	page, err := b.ensurePage(ctx)
	if err != nil {
		return "", err
	}
	res, err := page.Eval(script)
	if err != nil {
		return "", newError(ErrCodeScriptExecution, err, "Script execution failed")
	}
	return res.Value.JSON("", ""), nil
}

// Close shuts Chrome down. Later calls fail with ErrCodeClosed.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.rod != nil {
		err = b.rod.Close()
		b.rod = nil
		b.page = nil
	}
	b.killLocked()
	b.logger.Debug().Msg("Browser closed")
	return err
}

func (b *Browser) killLocked() {
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
		b.launcher = nil
	}
}
