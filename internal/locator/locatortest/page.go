// Package locatortest provides an in-memory locator.Page backed by static
// HTML, for driving the resolver, auth flow and executor in tests.
package locatortest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/v0xg/storyrun/internal/locator"
)

// ErrNotVisible is returned when interacting with a hidden element.
var ErrNotVisible = errors.New("element is not visible")

// Click records one click.
type Click struct {
	Frame  string
	Tag    string
	Name   string
	TestID string
}

// Fill records one value typed into a field.
type Fill struct {
	Field string
	Value string
}

// Page is a fake browser tab. Frames are static documents; hooks let tests
// change the DOM in response to clicks and navigations.
type Page struct {
	mu     sync.Mutex
	url    string
	frames []*Frame

	clicks      []Click
	fills       []Fill
	navigations []string
	screenshots int

	// OnNavigate runs after a navigation is recorded.
	OnNavigate func(p *Page, url string)
	// OnClick runs after a click is recorded.
	OnClick func(p *Page, el *Element)
	// NavigateErr, when set, is returned from Navigate.
	NavigateErr error
	// ScreenshotErr, when set, is returned from Screenshot.
	ScreenshotErr error
	// FillErr, when set, is returned from every Fill.
	FillErr error
}

// NewPage creates a page showing html at url.
func NewPage(url, html string) *Page {
	p := &Page{url: url}
	p.frames = []*Frame{newFrame(p, url, html)}
	return p
}

// SetHTML replaces the main document.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[0] = newFrame(p, p.url, html)
}

// SetURL changes the current URL without recording a navigation, as a
// redirect would.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.frames[0].url = url
}

// AddFrame attaches a nested frame.
func (p *Page) AddFrame(url, html string) *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := newFrame(p, url, html)
	p.frames = append(p.frames, f)
	return f
}

// RemoveFrames detaches every nested frame.
func (p *Page) RemoveFrames() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = p.frames[:1]
}

func (p *Page) Clicks() []Click {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Click(nil), p.clicks...)
}

func (p *Page) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshots
}

// Clicked reports whether an element with the given accessible name or test
// id was clicked.
func (p *Page) Clicked(name string) bool {
	for _, c := range p.Clicks() {
		if strings.EqualFold(c.Name, name) || c.TestID == name {
			return true
		}
	}
	return false
}

func (p *Page) Main() locator.Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[0]
}

func (p *Page) Surfaces(ctx context.Context) ([]locator.Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]locator.Surface, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f)
	}
	return out, nil
}

func (p *Page) URL(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	if p.NavigateErr != nil {
		err := p.NavigateErr
		p.mu.Unlock()
		return err
	}
	p.url = url
	p.frames[0].url = url
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) WaitIdle(ctx context.Context) error {
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context, opts locator.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	p.screenshots++
	return blankPNG(), nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[0].doc.Html()
}

func blankPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func (p *Page) recordClick(el *Element) {
	p.mu.Lock()
	testID, _ := el.sel.Attr("data-testid")
	p.clicks = append(p.clicks, Click{
		Frame:  el.frame.url,
		Tag:    goquery.NodeName(el.sel),
		Name:   el.AccessibleName(),
		TestID: testID,
	})
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, el)
	}
}

func (p *Page) recordFill(el *Element, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, Fill{Field: el.fieldKey(), Value: value})
}

// Frame is one document of the fake page.
type Frame struct {
	page *Page
	url  string
	doc  *goquery.Document
}

func newFrame(p *Page, url, html string) *Frame {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(fmt.Sprintf("locatortest: parse html: %v", err))
	}
	return &Frame{page: p, url: url, doc: doc}
}

func (f *Frame) URL(ctx context.Context) string {
	return f.url
}

func (f *Frame) WaitIdle(ctx context.Context) error {
	return ctx.Err()
}

// Find returns the elements matching a plain CSS selector.
func (f *Frame) Find(selector string) []*Element {
	var out []*Element
	f.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{frame: f, sel: s})
	})
	return out
}

func (f *Frame) Query(ctx context.Context, c locator.Candidate) ([]locator.Element, error) {
	var sels []*goquery.Selection

	switch c.Engine {
	case locator.EngineTestID:
		sels = each(f.doc.Find(locator.AttrSelector("data-testid", c.Value)))
	case locator.EngineCSS:
		if base, text, ok := locator.SplitHasText(c.Value); ok {
			needle := strings.ToLower(text)
			for _, s := range each(f.doc.Find(base)) {
				if strings.Contains(strings.ToLower(textContent(s)), needle) {
					sels = append(sels, s)
				}
			}
		} else {
			sels = each(f.doc.Find(c.Value))
		}
	case locator.EngineText:
		sels = f.byText(c.Text)
	case locator.EngineRole:
		re, err := c.NameMatcher()
		if err != nil {
			return nil, err
		}
		for _, s := range each(f.doc.Find("*")) {
			if roleOf(s) != c.Role {
				continue
			}
			if re == nil || re.MatchString(accessibleName(f.doc, s)) {
				sels = append(sels, s)
			}
		}
	case locator.EngineLabel:
		re, err := c.NameMatcher()
		if err != nil {
			return nil, err
		}
		for _, s := range each(f.doc.Find("input, textarea, select")) {
			if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
				continue
			}
			if label := labelText(f.doc, s); label != "" && re.MatchString(label) {
				sels = append(sels, s)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported engine %q", c.Engine)
	}

	out := make([]locator.Element, 0, len(sels))
	for _, s := range sels {
		out = append(out, &Element{frame: f, sel: s})
	}
	return out, nil
}

// byText returns the deepest elements whose text contains needle.
func (f *Frame) byText(needle string) []*goquery.Selection {
	needle = strings.ToLower(locator.NormalizeSpace(needle))
	contains := func(s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(textContent(s)), needle)
	}

	var out []*goquery.Selection
	for _, s := range each(f.doc.Find("body *")) {
		switch goquery.NodeName(s) {
		case "script", "style":
			continue
		}
		if !contains(s) {
			continue
		}
		deeper := false
		s.Children().EachWithBreak(func(_ int, c *goquery.Selection) bool {
			if contains(c) {
				deeper = true
				return false
			}
			return true
		})
		if !deeper {
			out = append(out, s)
		}
	}
	return out
}

// Element is a node of a fake frame.
type Element struct {
	frame *Frame
	sel   *goquery.Selection
}

// AccessibleName returns the computed name without a context.
func (e *Element) AccessibleName() string {
	return accessibleName(e.frame.doc, e.sel)
}

// Attr returns a raw attribute.
func (e *Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

// SetAttr changes an attribute, for tests that toggle visibility.
func (e *Element) SetAttr(name, value string) {
	e.sel.SetAttr(name, value)
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	return visible(e.sel), nil
}

func (e *Element) WaitVisible(ctx context.Context, timeout time.Duration) error {
	if visible(e.sel) {
		return nil
	}
	return fmt.Errorf("wait visible %s: %w", timeout, ErrNotVisible)
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !visible(e.sel) {
		return ErrNotVisible
	}
	e.frame.page.recordClick(e)
	return nil
}

func (e *Element) Fill(ctx context.Context, value string) error {
	if err := e.frame.page.FillErr; err != nil {
		return err
	}
	switch goquery.NodeName(e.sel) {
	case "input", "textarea", "select":
	default:
		return fmt.Errorf("element <%s> is not fillable", goquery.NodeName(e.sel))
	}
	if !visible(e.sel) {
		return ErrNotVisible
	}
	e.sel.SetAttr("value", value)
	e.frame.page.recordFill(e, value)
	return nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e *Element) Name(ctx context.Context) (string, error) {
	return e.AccessibleName(), nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return textContent(e.sel), nil
}

func (e *Element) Closest(ctx context.Context, selector string) (bool, error) {
	return e.sel.Closest(selector).Length() > 0, nil
}

func (e *Element) fieldKey() string {
	for _, attr := range []string{"id", "name", "data-testid", "aria-label", "type"} {
		if v, ok := e.sel.Attr(attr); ok && v != "" {
			return v
		}
	}
	return goquery.NodeName(e.sel)
}

func each(s *goquery.Selection) []*goquery.Selection {
	out := make([]*goquery.Selection, 0, s.Length())
	s.Each(func(_ int, c *goquery.Selection) {
		out = append(out, c)
	})
	return out
}

func textContent(s *goquery.Selection) string {
	return locator.NormalizeSpace(s.Text())
}

func visible(s *goquery.Selection) bool {
	if t, _ := s.Attr("type"); goquery.NodeName(s) == "input" && strings.EqualFold(t, "hidden") {
		return false
	}
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, hidden := n.Attr("hidden"); hidden {
			return false
		}
		style, _ := n.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func roleOf(s *goquery.Selection) string {
	if r, ok := s.Attr("role"); ok && strings.TrimSpace(r) != "" {
		return strings.Fields(r)[0]
	}
	t, _ := s.Attr("type")
	_, hasHref := s.Attr("href")
	return locator.ImplicitRole(goquery.NodeName(s), t, hasHref)
}

func accessibleName(doc *goquery.Document, s *goquery.Selection) string {
	if v, _ := s.Attr("aria-label"); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v := labelledBy(doc, s); v != "" {
		return v
	}
	switch goquery.NodeName(s) {
	case "input", "textarea", "select":
		if t, _ := s.Attr("type"); !isButtonInput(t) {
			if v := labelText(doc, s); v != "" {
				return v
			}
		}
	}
	if v := textContent(s); v != "" {
		return v
	}
	for _, attr := range []string{"value", "title", "alt", "placeholder"} {
		if v, _ := s.Attr(attr); strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func isButtonInput(t string) bool {
	switch strings.ToLower(t) {
	case "button", "submit", "reset", "image":
		return true
	}
	return false
}

func labelledBy(doc *goquery.Document, s *goquery.Selection) string {
	ids, _ := s.Attr("aria-labelledby")
	var parts []string
	for _, id := range strings.Fields(ids) {
		if t := textContent(doc.Find(locator.AttrSelector("id", id))); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func labelText(doc *goquery.Document, s *goquery.Selection) string {
	var parts []string
	if id, _ := s.Attr("id"); id != "" {
		doc.Find(locator.AttrSelector("for", id)).Each(func(_ int, l *goquery.Selection) {
			parts = append(parts, textContent(l))
		})
	}
	if l := s.Closest("label"); l.Length() > 0 {
		parts = append(parts, textContent(l))
	}
	if v, _ := s.Attr("aria-label"); v != "" {
		parts = append(parts, v)
	}
	if v := labelledBy(doc, s); v != "" {
		parts = append(parts, v)
	}
	return locator.NormalizeSpace(strings.Join(parts, " "))
}
