package resolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/storyrun/internal/cache"
	"github.com/v0xg/storyrun/internal/locator"
	"github.com/v0xg/storyrun/internal/locator/locatortest"
	"go.uber.org/zap/zaptest"
)

type countingStore struct {
	cache.Store
	gets, puts int
}

func (s *countingStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	s.gets++
	return s.Store.Get(ctx, key)
}

func (s *countingStore) Put(ctx context.Context, key string, e cache.Entry) error {
	s.puts++
	return s.Store.Put(ctx, key, e)
}

type scriptedRepairer struct {
	suggestions []string
	calls       int
}

func (r *scriptedRepairer) Suggest(ctx context.Context, page locator.Page, d Descriptor) ([]string, error) {
	r.calls++
	return r.suggestions, nil
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	s, err := cache.OpenFile(filepath.Join(t.TempDir(), "cache.json"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return &countingStore{Store: s}
}

func newResolver(t *testing.T, store cache.Store, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(store, Overrides{BuiltinOverrides()}, opts...)
}

func TestCacheHitShortCircuits(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<button>Add Study</button>`)
	store := newStore(t)
	r := newResolver(t, store)

	first, err := r.Resolve(ctx, page, FromString("add-study-button"), Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceOverride, first.Source)
	assert.Equal(t, 1, store.puts)

	second, err := r.Resolve(ctx, page, FromString("add-study-button"), Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Candidate, second.Candidate)
	assert.Equal(t, 1, store.puts)
}

func TestCascadeOrder(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		html   string
		desc   Descriptor
		source Source
		want   locator.Candidate
	}{
		{
			name:   "testid syntax",
			html:   `<div data-testid="panel">x</div>`,
			desc:   FromString("data-testid=panel"),
			source: SourceHeuristic,
			want:   locator.TestID("panel"),
		},
		{
			name:   "aria-label fallback",
			html:   `<button>User</button>`,
			desc:   FromString("button[aria-label='User']"),
			source: SourceHeuristic,
			want:   locator.Role("button", "User"),
		},
		{
			name:   "role wildcard",
			html:   `<table><tr><td>1</td></tr></table>`,
			desc:   FromString("role=table"),
			source: SourceHeuristic,
			want:   locator.Role("table", ""),
		},
		{
			name:   "attribute guess before override",
			html:   `<button data-qa="add-study-button">Create</button><button>Add Study</button>`,
			desc:   FromString("add-study-button"),
			source: SourceAttribute,
			want:   locator.CSS(`[data-qa="add-study-button"]`),
		},
		{
			name:   "humanized",
			html:   `<a href="/reports">Quarterly Reports</a>`,
			desc:   FromString("quarterly-reports"),
			source: SourceHumanized,
			want:   locator.Role("link", "quarterly reports"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := locatortest.NewPage("https://app.example/", tt.html)
			r := newResolver(t, newStore(t))
			res, ok := r.Cascade(ctx, page, tt.desc)
			require.True(t, ok)
			assert.Equal(t, tt.source, res.Source)
			assert.Equal(t, tt.want, res.Candidate)
		})
	}
}

func TestMenuFallbackRetriesAttributeGuesses(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<button aria-label="Account">A</button>`)
	page.OnClick = func(p *locatortest.Page, el *locatortest.Element) {
		if el.AccessibleName() == "Account" {
			p.SetHTML(`<button aria-label="Account">A</button><a id="sign-off" href="/logout">Bye</a>`)
		}
	}
	r := newResolver(t, newStore(t))

	res, ok := r.Cascade(ctx, page, FromString("sign-off"))
	require.True(t, ok)
	assert.Equal(t, SourceMenu, res.Source)
	assert.True(t, page.Clicked("Account"))
}

func TestVerifyRejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<div id="banner"></div>`)
	store := newStore(t)
	d := Text("Welcome")
	require.NoError(t, store.Put(ctx, d.Key(), cache.Entry{Candidate: locator.CSS("#banner")}))
	r := newResolver(t, store)

	_, err := r.Resolve(ctx, page, d, Options{Verify: true})
	assert.ErrorIs(t, err, ErrNotResolved)

	res, err := r.Resolve(ctx, page, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
}

func TestRepairCachesUnderOriginalKey(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<button data-testid="add-study-button">New</button>`)
	store := newStore(t)
	repairer := &scriptedRepairer{suggestions: []string{"#missing", "[data-testid='add-study-button']"}}
	r := newResolver(t, store, WithRepairer(repairer))

	d := Role("button", "Create Study")
	res, err := r.Resolve(ctx, page, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceRepair, res.Source)
	assert.Equal(t, d.Key(), res.Key)
	assert.Equal(t, 1, repairer.calls)

	cached, ok, err := store.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, locator.CSS("[data-testid='add-study-button']"), cached.Candidate)
	assert.True(t, cached.Repaired)

	again, err := r.Resolve(ctx, page, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, again.Source)
	assert.Equal(t, 1, repairer.calls)
}

func TestRepairedEntryIsTrustedOnVerifiedPath(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<button data-testid="add-study-button">New</button>`)
	store := newStore(t)
	repairer := &scriptedRepairer{suggestions: []string{"[data-testid='add-study-button']"}}
	r := newResolver(t, store, WithRepairer(repairer))

	d := Role("button", "Create Study")
	first, err := r.Resolve(ctx, page, d, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, SourceRepair, first.Source)

	second, err := r.Resolve(ctx, page, d, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, 1, repairer.calls)

	// a later run without repair still uses the healed candidate
	offline := newResolver(t, store)
	third, err := offline.Resolve(ctx, page, d, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, third.Source)
	assert.Equal(t, first.Candidate, third.Candidate)
}

func TestStaleCacheFallsThroughToCascade(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<button id="old">Cancel</button><button>Save</button>`)
	store := newStore(t)
	d := Role("button", "Save")
	require.NoError(t, store.Put(ctx, d.Key(), cache.Entry{Candidate: locator.CSS("#old")}))

	repairer := &scriptedRepairer{}
	r := newResolver(t, store, WithRepairer(repairer))

	res, err := r.Resolve(ctx, page, d, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, SourceDirect, res.Source)
	assert.Equal(t, 0, repairer.calls)

	cached, ok, err := store.Get(ctx, d.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Candidate, cached.Candidate)
}

func TestRepairWithNoUsableSuggestions(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<p>empty</p>`)
	repairer := &scriptedRepairer{suggestions: []string{"#a", "#b", "#c", "p"}}
	r := newResolver(t, newStore(t), WithRepairer(repairer))

	_, err := r.Resolve(ctx, page, TestID("missing"), Options{})
	assert.ErrorIs(t, err, ErrNotResolved)
}
