// Package resolver turns authored target descriptors into live elements,
// trying a cascade of candidate strategies and remembering what worked.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/v0xg/storyrun/internal/cache"
	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

// ErrNotResolved is returned when no candidate matched after the cascade
// and any repair attempt.
var ErrNotResolved = errors.New("no candidate matched")

// Source names the cascade step that produced a resolution.
type Source string

const (
	SourceCache     Source = "cache"
	SourceDirect    Source = "direct"
	SourceHeuristic Source = "heuristic"
	SourceAttribute Source = "attribute"
	SourceOverride  Source = "override"
	SourceHumanized Source = "humanized"
	SourceMenu      Source = "menu"
	SourceRepair    Source = "repair"
)

// maxSuggestions bounds how many repair suggestions are tried.
const maxSuggestions = 3

// Repairer proposes alternative selector strings for a descriptor that
// failed to resolve on page.
type Repairer interface {
	Suggest(ctx context.Context, page locator.Page, d Descriptor) ([]string, error)
}

// Resolution is a resolved descriptor.
type Resolution struct {
	Match     locator.Match
	Candidate locator.Candidate
	Key       string
	Source    Source
}

// Options tune a single Resolve call.
type Options struct {
	// Verify requires the element's name or text to agree with the
	// descriptor's expectation.
	Verify bool
}

// Resolver runs the candidate cascade. It is used from one goroutine at a
// time; the Store handles its own locking.
type Resolver struct {
	store     cache.Store
	overrides Overrides
	repairer  Repairer
	logger    *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRepairer enables self-healing.
func WithRepairer(r Repairer) Option {
	return func(res *Resolver) { res.repairer = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(res *Resolver) { res.logger = l }
}

// New creates a Resolver.
func New(store cache.Store, overrides Overrides, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		overrides: overrides,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RepairEnabled reports whether a Repairer is configured.
func (r *Resolver) RepairEnabled() bool {
	return r.repairer != nil
}

// Resolve runs the cascade, verifies the result when asked, and falls back
// to repair. A cache hit that fails verification does not skip the rest of
// the cascade. Repaired cache entries are accepted without name checks. The
// error wraps ErrNotResolved when nothing matched.
func (r *Resolver) Resolve(ctx context.Context, page locator.Page, d Descriptor, opts Options) (*Resolution, error) {
	key := d.Key()

	if res, e, ok := r.cached(ctx, page, key); ok {
		if !opts.Verify || e.Repaired || Verify(ctx, d, res.Match) {
			return res, nil
		}
		r.logger.Debug("cached element failed verification",
			zap.String("descriptor", d.String()),
			zap.String("candidate", res.Candidate.String()))
	}

	if res, ok := r.uncached(ctx, page, d); ok {
		res.Key = key
		if !opts.Verify || Verify(ctx, d, res.Match) {
			r.remember(ctx, key, cache.Entry{Candidate: res.Candidate})
			return res, nil
		}
		r.logger.Debug("resolved element failed verification",
			zap.String("descriptor", d.String()),
			zap.String("candidate", res.Candidate.String()))
	}

	if r.repairer == nil {
		return nil, fmt.Errorf("%s: %w", d, ErrNotResolved)
	}
	return r.repair(ctx, page, d, opts)
}

func (r *Resolver) repair(ctx context.Context, page locator.Page, d Descriptor, opts Options) (*Resolution, error) {
	suggestions, err := r.repairer.Suggest(ctx, page, d)
	if err != nil {
		r.logger.Warn("repair request failed", zap.String("descriptor", d.String()), zap.Error(err))
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	for i, s := range suggestions {
		sd := FromString(s)
		res, ok := r.Direct(ctx, page, sd)
		if !ok || res.Match.Count() == 0 {
			r.logger.Debug("repair suggestion did not resolve", zap.Int("index", i+1), zap.String("suggestion", s))
			continue
		}
		if opts.Verify && !Verify(ctx, sd, res.Match) {
			continue
		}

		res.Key = d.Key()
		res.Source = SourceRepair
		r.remember(ctx, res.Key, cache.Entry{Candidate: res.Candidate, Repaired: true})
		r.logger.Info("repaired selector",
			zap.String("descriptor", d.String()),
			zap.String("suggestion", s),
			zap.String("candidate", res.Candidate.String()))
		return res, nil
	}

	return nil, fmt.Errorf("%s (repair attempted with %d suggestions): %w", d, len(suggestions), ErrNotResolved)
}

// Cascade tries every strategy in order and caches the winning candidate.
func (r *Resolver) Cascade(ctx context.Context, page locator.Page, d Descriptor) (*Resolution, bool) {
	key := d.Key()
	if res, _, ok := r.cached(ctx, page, key); ok {
		return res, true
	}

	res, ok := r.uncached(ctx, page, d)
	if !ok {
		return nil, false
	}
	res.Key = key
	r.remember(ctx, key, cache.Entry{Candidate: res.Candidate})
	return res, true
}

// cached looks key up and queries the page with the stored candidate.
func (r *Resolver) cached(ctx context.Context, page locator.Page, key string) (*Resolution, cache.Entry, bool) {
	e, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("selector cache read failed", zap.Error(err))
		return nil, e, false
	}
	if !ok {
		return nil, e, false
	}
	m, found := locator.FindInAnyFrame(ctx, page, e.Candidate)
	if !found {
		return nil, e, false
	}
	return &Resolution{Match: m, Candidate: e.Candidate, Key: key, Source: SourceCache}, e, true
}

// Direct tries only the descriptor's own shape and the string heuristics.
// It does not read or write the cache.
func (r *Resolver) Direct(ctx context.Context, page locator.Page, d Descriptor) (*Resolution, bool) {
	if res, ok := firstMatch(ctx, page, SourceDirect, structured(d)...); ok {
		return res, true
	}
	return firstMatch(ctx, page, SourceHeuristic, heuristics(d)...)
}

func (r *Resolver) uncached(ctx context.Context, page locator.Page, d Descriptor) (*Resolution, bool) {
	if res, ok := r.Direct(ctx, page, d); ok {
		return res, true
	}

	slug := d.Slug()
	if slug == "" {
		return nil, false
	}

	guesses := attributeGuesses(slug)
	if res, ok := firstMatch(ctx, page, SourceAttribute, guesses...); ok {
		return res, true
	}
	if res, ok := firstMatch(ctx, page, SourceOverride, r.overrides.Candidates(slug)...); ok {
		return res, true
	}
	if res, ok := firstMatch(ctx, page, SourceHumanized, humanized(slug)...); ok {
		return res, true
	}

	if OpenUserMenu(ctx, page, r.logger) {
		return firstMatch(ctx, page, SourceMenu, guesses...)
	}
	return nil, false
}

func (r *Resolver) remember(ctx context.Context, key string, e cache.Entry) {
	if err := r.store.Put(ctx, key, e); err != nil {
		r.logger.Warn("selector cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func firstMatch(ctx context.Context, page locator.Page, src Source, cands ...locator.Candidate) (*Resolution, bool) {
	for _, c := range cands {
		if m, ok := locator.FindInAnyFrame(ctx, page, c); ok {
			return &Resolution{Match: m, Candidate: c, Source: src}, true
		}
	}
	return nil, false
}

func structured(d Descriptor) []locator.Candidate {
	switch d.Kind {
	case KindTestID:
		return []locator.Candidate{locator.TestID(d.Value)}
	case KindCSS:
		return []locator.Candidate{locator.CSS(d.Value)}
	case KindText:
		return []locator.Candidate{locator.Text(d.Value)}
	case KindRole:
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return []locator.Candidate{locator.Role(d.Role, "")}
		}
		return []locator.Candidate{locator.Role(d.Role, regexp.QuoteMeta(name))}
	}
	return nil
}

var (
	testIDSyntaxRe = regexp.MustCompile(`^data-testid\s*=\s*['"]?([\w\-:]+)['"]?$`)
	ariaLabelRe    = regexp.MustCompile(`aria-label[*^$~|]?=['"](.+?)['"]`)
	roleSyntaxRe   = regexp.MustCompile(`^role\s*=\s*([\w-]+)$`)
)

const cssMetachars = "[].#: >"

func heuristics(d Descriptor) []locator.Candidate {
	if d.Kind != KindString {
		return nil
	}
	s := d.Value
	var out []locator.Candidate

	if m := testIDSyntaxRe.FindStringSubmatch(s); m != nil {
		out = append(out, locator.TestID(m[1]))
	}
	if strings.ContainsAny(s, cssMetachars) {
		out = append(out, locator.CSS(s))
		if m := ariaLabelRe.FindStringSubmatch(s); m != nil {
			name := regexp.QuoteMeta(m[1])
			out = append(out, locator.Role("button", name), locator.Role("link", name))
		}
	}
	if rest, ok := cutPrefixFold(s, "text="); ok && rest != "" {
		out = append(out, locator.Text(unquote(rest)))
	}
	if m := roleSyntaxRe.FindStringSubmatch(s); m != nil {
		out = append(out, locator.Role(m[1], ""))
	}
	return out
}

func attributeGuesses(slug string) []locator.Candidate {
	out := []locator.Candidate{
		locator.CSS(locator.AttrSelector("data-testid", slug)),
		locator.CSS(locator.AttrSelector("data-test-id", slug)),
		locator.CSS(locator.AttrSelector("data-qa", slug)),
		locator.CSS(locator.AttrSelector("id", slug)),
		locator.CSS(locator.AttrSelector("name", slug)),
	}
	return out
}

func humanized(slug string) []locator.Candidate {
	human := Humanize(slug)
	if human == "" {
		return nil
	}
	name := regexp.QuoteMeta(human)
	return []locator.Candidate{
		locator.Role("menuitem", name),
		locator.Role("link", name),
		locator.Role("button", name),
		locator.Text(human),
	}
}
