package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

const (
	navigateTimeout = 60 * time.Second
	idleTimeout     = 10 * time.Second
	maxFrameDepth   = 4
)

// Page adapts a Rod page to locator.Page
type Page struct {
	page    *rod.Page
	timeout time.Duration
	logger  *zap.Logger
}

// Rod returns the underlying Rod page
func (p *Page) Rod() *rod.Page {
	return p.page
}

func (p *Page) Main() locator.Surface {
	return &frame{page: p.page, timeout: p.timeout}
}

// Surfaces returns the main frame followed by nested frames, depth first
func (p *Page) Surfaces(ctx context.Context) ([]locator.Surface, error) {
	out := []locator.Surface{p.Main()}
	p.collectFrames(ctx, p.page, 0, &out)
	return out, nil
}

func (p *Page) collectFrames(ctx context.Context, parent *rod.Page, depth int, out *[]locator.Surface) {
	if depth >= maxFrameDepth {
		return
	}
	els, err := parent.Context(ctx).Elements("iframe, frame")
	if err != nil {
		return
	}
	for _, el := range els {
		child, err := el.Frame()
		if err != nil {
			p.logger.Debug("skipping detached frame", zap.Error(err))
			continue
		}
		*out = append(*out, &frame{page: child, timeout: p.timeout})
		p.collectFrames(ctx, child, depth+1, out)
	}
}

func (p *Page) URL(ctx context.Context) string {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Navigate loads url and waits for the network to settle
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(navigateTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page did not finish loading %s: %w", url, err)
	}
	return p.WaitIdle(ctx)
}

// WaitIdle waits for network quiescence, then, on single page apps, for
// interactive elements to render
func (p *Page) WaitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Timeout avoids hanging on persistent connections (WebSockets, polling, etc.)
	p.page.Context(ctx).Timeout(idleTimeout).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	if detectSPA(ctx, p.page) {
		waitForInteractiveElements(ctx, p.page, 5*time.Second)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context, opts locator.ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts.Format == locator.FormatJPEG {
		q := opts.Quality
		if q == 0 {
			q = 70
		}
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &q
	}
	data, err := p.page.Context(ctx).Timeout(p.timeout).Screenshot(opts.FullPage, req)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

// waitForInteractiveElements polls until interactive elements appear or timeout
func waitForInteractiveElements(ctx context.Context, page *rod.Page, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	checkInterval := 200 * time.Millisecond

	for time.Now().Before(deadline) {
		res, err := page.Context(ctx).Eval(jsVisibleControlCount)
		if err != nil {
			return
		}
		if res.Value.Int() > 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(checkInterval):
		}
	}
}

// detectSPA checks if the page is a Single Page Application
func detectSPA(ctx context.Context, page *rod.Page) bool {
	res, err := page.Context(ctx).Eval(jsDetectSPA)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// frame is one document of the page: the main frame or an iframe
type frame struct {
	page    *rod.Page
	timeout time.Duration
}

func (f *frame) URL(ctx context.Context) string {
	res, err := f.page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (f *frame) WaitIdle(ctx context.Context) error {
	f.page.Context(ctx).Timeout(idleTimeout).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return ctx.Err()
}

// Query runs a candidate against the frame without waiting for elements
// to appear
func (f *frame) Query(ctx context.Context, c locator.Candidate) ([]locator.Element, error) {
	page := f.page.Context(ctx)

	var (
		els rod.Elements
		err error
	)
	switch c.Engine {
	case locator.EngineTestID:
		els, err = page.Elements(locator.AttrSelector("data-testid", c.Value))
	case locator.EngineCSS:
		if base, text, ok := locator.SplitHasText(c.Value); ok {
			els, err = page.ElementsByJS(rod.Eval(jsHasText, base, text))
		} else {
			els, err = page.Elements(c.Value)
		}
	case locator.EngineText:
		els, err = page.ElementsByJS(rod.Eval(jsByText, c.Text))
	case locator.EngineRole:
		els, err = page.ElementsByJS(rod.Eval(jsByRole, c.Role))
		if err == nil {
			els, err = filterByName(ctx, els, c, jsAccessibleName)
		}
	case locator.EngineLabel:
		els, err = page.ElementsByJS(rod.Eval(jsFormControls))
		if err == nil {
			els, err = filterByName(ctx, els, c, jsLabelText)
		}
	default:
		return nil, fmt.Errorf("unsupported engine %q", c.Engine)
	}
	if err != nil {
		return nil, err
	}

	out := make([]locator.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el, timeout: f.timeout})
	}
	return out, nil
}

func filterByName(ctx context.Context, els rod.Elements, c locator.Candidate, js string) (rod.Elements, error) {
	re, err := c.NameMatcher()
	if err != nil || re == nil {
		return els, err
	}
	var out rod.Elements
	for _, el := range els {
		res, err := el.Context(ctx).Eval(js)
		if err != nil {
			continue
		}
		if re.MatchString(res.Value.Str()) {
			out = append(out, el)
		}
	}
	return out, nil
}

// element adapts a Rod element to locator.Element
type element struct {
	el      *rod.Element
	timeout time.Duration
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *element) WaitVisible(ctx context.Context, timeout time.Duration) error {
	return e.el.Context(ctx).Timeout(timeout).WaitVisible()
}

func (e *element) Click(ctx context.Context) error {
	el := e.el.Context(ctx).Timeout(e.timeout)
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("failed to scroll element into view: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click element: %w", err)
	}
	return nil
}

func (e *element) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx).Timeout(e.timeout)
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("field not visible: %w", err)
	}
	// Select existing text so the input replaces it; fields that reject
	// selection still accept input
	_ = el.SelectAllText()
	if err := el.Input(value); err != nil {
		return fmt.Errorf("failed to type into field: %w", err)
	}
	return nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Name(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(jsAccessibleName)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(jsText)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Closest(ctx context.Context, selector string) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`function (sel) { return !!this.closest(sel) }`, selector)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}
