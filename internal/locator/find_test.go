package locator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/storyrun/internal/locator"
	"github.com/v0xg/storyrun/internal/locator/locatortest"
)

func TestFindInAnyFramePrefersVisibleFrame(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<button data-testid="save" hidden>Save</button>`)
	page.AddFrame("https://app.example/frame", `<button data-testid="save">Save</button>`)

	m, ok := locator.FindInAnyFrame(ctx, page, locator.TestID("save"))
	require.True(t, ok)
	assert.True(t, m.Visible)
	assert.Equal(t, "https://app.example/frame", m.Surface.URL(ctx))
}

func TestFindInAnyFrameFallsBackToHiddenMatch(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `<div data-testid="panel" style="display: none">x</div>`)
	page.AddFrame("https://app.example/frame", `<p>nothing</p>`)

	m, ok := locator.FindInAnyFrame(ctx, page, locator.TestID("panel"))
	require.True(t, ok)
	assert.False(t, m.Visible)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, "https://app.example/", m.Surface.URL(ctx))
}

func TestFindInPicksFirstVisibleElement(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `
		<button class="go" hidden>One</button>
		<button class="go">Two</button>`)

	m, ok := locator.FindIn(ctx, page.Main(), locator.CSS("button.go"))
	require.True(t, ok)
	assert.Equal(t, 2, m.Count())
	name, err := m.First().Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Two", name)
}

func TestFindInInvalidSelector(t *testing.T) {
	page := locatortest.NewPage("https://app.example/", `<p>x</p>`)
	_, ok := locator.FindIn(context.Background(), page.Main(), locator.CSS("#Add Study[["))
	assert.False(t, ok)
}

func TestEngines(t *testing.T) {
	ctx := context.Background()
	page := locatortest.NewPage("https://app.example/", `
		<nav><a href="/studies">Manage Studies</a></nav>
		<div><span>Welcome <b>back</b></span></div>
		<label for="email">Email address</label><input id="email" type="email">
		<button aria-label="User menu">U</button>
		<button>Add Study</button>`)

	tests := []struct {
		name string
		c    locator.Candidate
		want string
	}{
		{"role link", locator.Role("link", `manage\s*studies`), "Manage Studies"},
		{"role exact", locator.RoleExact("button", "add study"), "Add Study"},
		{"aria name", locator.Role("button", "user"), "User menu"},
		{"has-text", locator.CSS("button:has-text('Add Study')"), "Add Study"},
		{"label", locator.Label("(email|username)"), "Email address"},
		{"text deepest", locator.Text("welcome"), "Welcome back"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := locator.FindIn(ctx, page.Main(), tt.c)
			require.True(t, ok)
			name, err := m.First().Name(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}
