package repair

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/storyrun/internal/ai"
	"github.com/v0xg/storyrun/internal/artifacts"
	"github.com/v0xg/storyrun/internal/locator"
	"github.com/v0xg/storyrun/internal/resolver"
)

// MaxSuggestions is how many selectors the backend is asked for
const MaxSuggestions = 3

var dangerousPatterns = []string{"javascript:", "<script", "onerror=", "onload="}

const repairPrompt = `You are a test selector repair assistant. Given a failed selector, a page screenshot, DOM structure, and available elements, propose up to %d alternative selectors.
Rules: Only output a JSON array of strings; each must be a CSS selector, data-testid form, text selector, or role-based selector. No prose.
Prefer stable selectors: data-testid > role+name > id > aria-label > class. Avoid fragile CSS selectors.

Failed selector: %s
Current URL: %s
Available testids: %s
Available aria-labels: %s
Available buttons (by text): %s
Available links (by text): %s
Available menuitems (by text): %s
DOM structure (simplified, first %d chars):
%s
Page text (markdown excerpt):
%s
`

// Healer implements resolver.Repairer on top of an ai.Provider
type Healer struct {
	provider  ai.Provider
	artifacts *artifacts.Writer
	logger    *zap.Logger
	maxWidth  uint
	quality   int
}

// Option configures a Healer or a Verifier
type Option func(*settings)

type settings struct {
	artifacts *artifacts.Writer
	logger    *zap.Logger
	maxWidth  uint
	quality   int
}

// WithArtifacts stores the screenshots sent to the backend
func WithArtifacts(w *artifacts.Writer) Option {
	return func(s *settings) { s.artifacts = w }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMaxWidth bounds the screenshot width in pixels
func WithMaxWidth(px uint) Option {
	return func(s *settings) { s.maxWidth = px }
}

func newSettings(opts []Option) settings {
	s := settings{logger: zap.NewNop(), maxWidth: DefaultMaxWidth, quality: DefaultQuality}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewHealer creates a Healer
func NewHealer(p ai.Provider, opts ...Option) *Healer {
	s := newSettings(opts)
	return &Healer{
		provider:  p,
		artifacts: s.artifacts,
		logger:    s.logger,
		maxWidth:  s.maxWidth,
		quality:   s.quality,
	}
}

// Suggest captures the page and asks for replacement selectors for d
func (h *Healer) Suggest(ctx context.Context, page locator.Page, d resolver.Descriptor) ([]string, error) {
	snap := capture(ctx, page, h.maxWidth, h.quality, h.logger)

	req := ai.Request{Prompt: buildRepairPrompt(d, snap)}
	if snap.JPEG != nil {
		req.Images = []ai.Image{{MediaType: "image/jpeg", Data: snap.JPEG}}
		h.saveScreenshot(ctx, d, snap.JPEG)
	}

	h.logger.Debug("requesting selector repair",
		zap.String("descriptor", d.String()),
		zap.Bool("screenshot", snap.JPEG != nil))

	reply, err := h.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("repair request: %w", err)
	}

	suggestions := ParseSuggestions(reply)
	h.logger.Debug("repair suggestions", zap.Strings("suggestions", suggestions))
	return suggestions, nil
}

func (h *Healer) saveScreenshot(ctx context.Context, d resolver.Descriptor, data []byte) {
	if h.artifacts == nil {
		return
	}
	label := clip(d.String(), 50)
	if _, err := h.artifacts.Screenshot(ctx, artifacts.KindRepair, label, "jpg", data); err != nil {
		h.logger.Warn("could not save repair screenshot", zap.Error(err))
	}
}

func buildRepairPrompt(d resolver.Descriptor, snap *Snapshot) string {
	inv := snap.Inventory
	return fmt.Sprintf(repairPrompt,
		MaxSuggestions,
		d.String(),
		snap.URL,
		list(inv.TestIDs),
		list(inv.AriaLabels),
		list(inv.Buttons),
		list(inv.Links),
		list(inv.MenuItems),
		domChars,
		snap.DOM,
		snap.Excerpt,
	)
}

func list(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	return mustJSON(items)
}

// ParseSuggestions extracts selector strings from a reply, dropping unsafe
// ones and keeping at most MaxSuggestions
func ParseSuggestions(reply string) []string {
	var out []string
	for _, s := range ai.ParseStringArray(reply) {
		s = strings.TrimSpace(s)
		if ContainsDangerousPattern(s) {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

// ContainsDangerousPattern reports whether a selector carries script content
func ContainsDangerousPattern(selector string) bool {
	lower := strings.ToLower(selector)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
