package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/storyrun/internal/artifacts"
	"github.com/v0xg/storyrun/internal/cache"
	"github.com/v0xg/storyrun/internal/guard"
	"github.com/v0xg/storyrun/internal/locator"
	"github.com/v0xg/storyrun/internal/locator/locatortest"
	"github.com/v0xg/storyrun/internal/resolver"
	"github.com/v0xg/storyrun/internal/storage"
	"go.uber.org/zap/zaptest"
)

const baseURL = "https://app.example"

type scriptedRepairer struct {
	suggestions []string
	calls       int
}

func (r *scriptedRepairer) Suggest(ctx context.Context, page locator.Page, d resolver.Descriptor) ([]string, error) {
	r.calls++
	return r.suggestions, nil
}

type stubVerifier struct {
	verdict Verdict
	err     error
	steps   []Step
}

func (v *stubVerifier) VerifyStep(ctx context.Context, page locator.Page, step Step) (Verdict, error) {
	v.steps = append(v.steps, step)
	return v.verdict, v.err
}

type harness struct {
	exec  *Executor
	page  *locatortest.Page
	store cache.Store
	dir   string
	out   *bytes.Buffer
}

func newHarness(t *testing.T, html string, opts Options, rep resolver.Repairer, options ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	store, err := cache.Open("json", filepath.Join(dir, "selector_cache.json"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var resOpts []resolver.Option
	if rep != nil {
		resOpts = append(resOpts, resolver.WithRepairer(rep))
	}
	res := resolver.New(store, resolver.Overrides{resolver.BuiltinOverrides()}, resOpts...)

	g, err := guard.New(baseURL, nil)
	require.NoError(t, err)

	blobs, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	if opts.BaseURL == "" {
		opts.BaseURL = baseURL
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = Timings{Visible: 20 * time.Millisecond, Reresolve: 10 * time.Millisecond, Poll: 5 * time.Millisecond}
	}

	page := locatortest.NewPage(baseURL+"/", html)
	out := &bytes.Buffer{}
	options = append([]Option{
		WithArtifacts(artifacts.NewWriter(blobs, "screenshots")),
		WithOutput(out),
		WithLogger(logger),
	}, options...)

	return &harness{
		exec:  New(page, res, g, opts, options...),
		page:  page,
		store: store,
		dir:   dir,
		out:   out,
	}
}

func cases(t *testing.T, doc string) []TestCase {
	t.Helper()
	tc, err := ParseTestCases([]byte(doc))
	require.NoError(t, err)
	return tc
}

func TestScenarioTextPresent(t *testing.T) {
	h := newHarness(t, `<main><h1>Welcome</h1></main>`, Options{}, nil)

	report := h.exec.RunSuite(context.Background(), cases(t, `[{"name":"Home","steps":[
		{"action":"navigate","url":"/"},
		{"action":"assert","target":{"kind":"text","value":"Welcome"},"exists":true}
	]}]`))

	require.Len(t, report.Tests, 1)
	assert.Equal(t, StatusPassed, report.Tests[0].Status, report.Tests[0].Error)
	assert.Empty(t, report.Tests[0].Error)
	assert.Equal(t, []string{baseURL + "/"}, h.page.Navigations())
	assert.Contains(t, h.out.String(), "✓ Passed: Home")
}

func TestScenarioMissingTextFails(t *testing.T) {
	h := newHarness(t, `<main><p>Nothing to see</p></main>`, Options{}, nil)

	report := h.exec.RunSuite(context.Background(), cases(t, `[{"name":"Home","steps":[
		{"action":"navigate","url":"/"},
		{"action":"assert","target":{"kind":"text","value":"Welcome"},"exists":true}
	]}]`))

	r := report.Tests[0]
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "Could not resolve")
	assert.NotContains(t, r.Error, "repair was attempted")
	require.NotEmpty(t, r.Screenshot)
	assert.Equal(t, "test_home_step02_failure_could_not_resolve_selector_textwelcome.png", filepath.Base(r.Screenshot))
	_, err := os.Stat(r.Screenshot)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Failed())
	assert.Contains(t, h.out.String(), "✖ Failed: Home")
}

func TestScenarioExternalLinkClickBlocked(t *testing.T) {
	h := newHarness(t, `<nav><a href="https://evil.example/">External</a></nav>`, Options{}, nil)

	err := h.exec.click(context.Background(), Step{
		Action: "click",
		Target: json.RawMessage(`{"kind":"role","role":"link","name":"External"}`),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrPolicyViolation)
	assert.Empty(t, h.page.Clicks())
	assert.Empty(t, h.page.Navigations())
}

func TestScenarioRepairUpdatesCache(t *testing.T) {
	rep := &scriptedRepairer{suggestions: []string{"[data-testid='add-study-button']"}}
	h := newHarness(t, `<main><button data-testid="add-study-button">Add</button></main>`, Options{}, rep)

	report := h.exec.RunSuite(context.Background(), cases(t, `[{"name":"Repair","steps":[
		{"action":"assert","target":{"kind":"testid","value":"create-study"},"exists":true}
	]}]`))

	assert.Equal(t, StatusPassed, report.Tests[0].Status, report.Tests[0].Error)
	assert.Equal(t, 1, rep.calls)

	c, ok, err := h.store.Get(context.Background(), resolver.TestID("create-study").Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, locator.CSS("[data-testid='add-study-button']"), c.Candidate)
}

func TestRepairFailureIsNoted(t *testing.T) {
	rep := &scriptedRepairer{suggestions: []string{"#nope"}}
	h := newHarness(t, `<main></main>`, Options{}, rep)

	r := h.exec.RunCase(context.Background(), cases(t, `[{"name":"x","steps":[
		{"action":"click","selector":{"kind":"testid","value":"missing"}}
	]}]`)[0])

	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "Could not resolve selector: [data-testid='missing']")
	assert.Contains(t, r.Error, "repair was attempted")
}

func TestAssertPresenceVersusVisibility(t *testing.T) {
	html := `<main><div data-testid="panel" hidden>Details</div></main>`

	tests := []struct {
		name   string
		step   string
		status string
	}{
		{"presence tag", `{"action":"assert_element_present","target":{"kind":"testid","value":"panel"}}`, StatusPassed},
		{"exists true", `{"action":"assert","target":{"kind":"testid","value":"panel"},"exists":true}`, StatusPassed},
		{"visibility default", `{"action":"assert_element_visible","target":{"kind":"testid","value":"panel"}}`, StatusFailed},
		{"plain assert", `{"action":"assert","target":{"kind":"testid","value":"panel"}}`, StatusFailed},
		{"hidden satisfies negative", `{"action":"assert","target":{"kind":"testid","value":"panel"},"exists":false}`, StatusPassed},
		{"absent satisfies negative", `{"action":"assert","target":{"kind":"testid","value":"gone"},"existence":false}`, StatusPassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, html, Options{}, nil)
			r := h.exec.RunCase(context.Background(), cases(t, `[{"name":"t","steps":[`+tt.step+`]}]`)[0])
			assert.Equal(t, tt.status, r.Status, r.Error)
		})
	}
}

func TestAssertVisibleFailsWithMessage(t *testing.T) {
	h := newHarness(t, `<div data-testid="panel" hidden>Details</div>`, Options{}, nil)
	err := h.exec.assert(context.Background(), Step{
		Action: "assert",
		Target: json.RawMessage(`{"kind":"testid","value":"panel"}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not visible")
}

func TestNegativeAssertFailsWhenVisible(t *testing.T) {
	h := newHarness(t, `<div data-testid="banner">Sale</div>`, Options{}, nil)
	err := h.exec.assert(context.Background(), Step{
		Action: "assert",
		Target: json.RawMessage(`"banner"`),
		Exists: boolPtr(false),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should not be visible")
}

func TestVerificationRejectsEmptyName(t *testing.T) {
	h := newHarness(t, `<button data-testid="icon-only"></button>`, Options{}, nil)
	d := resolver.Role("button", "Save")
	require.NoError(t, h.store.Put(context.Background(), d.Key(), cache.Entry{Candidate: locator.TestID("icon-only")}))

	err := h.exec.click(context.Background(), Step{
		Action: "click",
		Target: json.RawMessage(`{"kind":"role","role":"button","name":"Save"}`),
	})
	assert.ErrorIs(t, err, resolver.ErrNotResolved)
	assert.Empty(t, h.page.Clicks())
}

func TestAssertText(t *testing.T) {
	h := newHarness(t, `<p>Your study was created</p><p hidden>Secret</p>`, Options{}, nil)
	ctx := context.Background()

	assert.NoError(t, h.exec.assertText(ctx, Step{Action: "assert_text", Text: "study was created"}))
	assert.NoError(t, h.exec.assertText(ctx, Step{Action: "assert_visible", Target: json.RawMessage(`"text=Your study"`)}))
	assert.NoError(t, h.exec.assertText(ctx, Step{Action: "assert_text_present", Selector: json.RawMessage(`{"text":"created"}`)}))

	err := h.exec.assertText(ctx, Step{Action: "assert_text", Text: "Secret"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text not visible")

	_, err = Step{Action: "assert_text"}.textDescriptor()
	assert.Error(t, err)
}

func TestClickWaitsAndRecords(t *testing.T) {
	h := newHarness(t, `<nav><a href="/studies">Manage Studies</a></nav>`, Options{}, nil)
	err := h.exec.click(context.Background(), Step{
		Action: "click",
		Target: json.RawMessage(`{"kind":"role","role":"link","name":"Manage Studies"}`),
	})
	require.NoError(t, err)
	assert.True(t, h.page.Clicked("Manage Studies"))
}

func TestClickOpensUserMenuAndRetries(t *testing.T) {
	closed := `<header><button aria-label="User menu">Me</button></header>`
	open := `<header><button aria-label="User menu">Me</button>
		<ul id="menu"><li><a role="menuitem" href="/logout">Sign out</a></li></ul></header>`
	h := newHarness(t, closed, Options{}, nil)
	h.page.OnClick = func(p *locatortest.Page, el *locatortest.Element) {
		if el.AccessibleName() == "User menu" {
			p.SetHTML(open)
		}
	}

	err := h.exec.click(context.Background(), Step{Action: "click", Target: json.RawMessage(`{"kind":"role","role":"menuitem","name":"Sign out"}`)})
	require.NoError(t, err)
	assert.True(t, h.page.Clicked("User menu"))
	assert.True(t, h.page.Clicked("Sign out"))
}

func TestAssertURL(t *testing.T) {
	h := newHarness(t, `<p>x</p>`, Options{}, nil)
	h.page.SetURL(baseURL + "/studies/42")
	ctx := context.Background()

	assert.NoError(t, h.exec.assertURL(ctx, Step{Action: "assert_url_contains", Value: "/studies"}))
	assert.NoError(t, h.exec.assertURL(ctx, Step{Action: "assert_url", Target: json.RawMessage(`"42"`)}))
	err := h.exec.assertURL(ctx, Step{Action: "assert_url_matches", Value: "/admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not contain")
}

func TestScreenshotNaming(t *testing.T) {
	h := newHarness(t, `<p>x</p>`, Options{}, nil)

	report := h.exec.RunSuite(context.Background(), cases(t, `[{"name":"Smoke Test","steps":[
		{"action":"screenshot","name":"After Login"},
		{"action":"screenshot","target":{"data-testid":"studies-list"}},
		{"action":"screenshot"}
	]}]`))

	r := report.Tests[0]
	require.Equal(t, StatusPassed, r.Status, r.Error)
	assert.Equal(t, filepath.Join(h.dir, "screenshots", "test_smoke_test_step03_screenshot_screenshot.png"), r.Screenshot)
	for _, name := range []string{
		"test_smoke_test_step01_screenshot_after_login.png",
		"test_smoke_test_step02_screenshot_screenshot_studies_list.png",
		"test_smoke_test_step03_screenshot_screenshot.png",
	} {
		_, err := os.Stat(filepath.Join(h.dir, "screenshots", name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, 3, h.page.Screenshots())
}

func TestFailureScreenshotDoesNotMaskError(t *testing.T) {
	h := newHarness(t, `<p>x</p>`, Options{}, nil)
	h.page.ScreenshotErr = errors.New("tab crashed")

	r := h.exec.RunCase(context.Background(), cases(t, `[{"name":"t","steps":[{"action":"hover","selector":"#x"}]}]`)[0])

	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "unknown action type")
	assert.Empty(t, r.Screenshot)
}

func TestUnknownAction(t *testing.T) {
	_, err := Step{Action: "hover"}.Kind()
	assert.ErrorIs(t, err, ErrUnknownAction)

	h := newHarness(t, `<p>x</p>`, Options{}, nil)
	_, err = h.exec.runStep(context.Background(), Step{Action: "drag"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestNavigateGuardAndDeepLinks(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, `<p>x</p>`, Options{}, nil)
	err := h.exec.navigate(ctx, Step{Action: "navigate", URL: "https://evil.example/phish"})
	assert.ErrorIs(t, err, guard.ErrPolicyViolation)
	assert.Empty(t, h.page.Navigations())

	require.NoError(t, h.exec.navigate(ctx, Step{Action: "navigate_to", Target: json.RawMessage(`"studies"`)}))
	assert.Equal(t, []string{baseURL + "/studies"}, h.page.Navigations())

	blocked := newHarness(t, `<p>x</p>`, Options{BlockDeepLinks: true}, nil)
	err = blocked.exec.navigate(ctx, Step{Action: "navigate", URL: "/studies"})
	assert.ErrorIs(t, err, guard.ErrPolicyViolation)
	assert.NoError(t, blocked.exec.navigate(ctx, Step{Action: "navigate", URL: "/"}))
}

func TestFilterDeepLinks(t *testing.T) {
	in := cases(t, `[{"name":"a","steps":[
		{"action":"navigate","url":"/"},
		{"action":"navigate","url":"/studies"},
		{"action":"navigate_to","url":"https://app.example"},
		{"action":"click","target":"add-study-button"}
	]}]`)

	out, removed := FilterDeepLinks(in, baseURL)
	assert.Equal(t, 1, removed)
	require.Len(t, out[0].Steps, 3)
	assert.Equal(t, "click", out[0].Steps[2].Action)
	assert.Len(t, in[0].Steps, 4)

	h := newHarness(t, `<p>x</p>`, Options{BlockDeepLinks: true}, nil)
	report := h.exec.RunSuite(context.Background(), in)
	assert.Contains(t, h.out.String(), "Removed 1 deep-link")
	assert.Len(t, report.Tests[0].Steps, 3)
}

func TestConsentDismissal(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, `<div role="dialog"><p>Cookies</p><button>Accept all</button></div>`, Options{}, nil)
	require.NoError(t, h.exec.navigate(ctx, Step{Action: "navigate", URL: "/"}))
	assert.True(t, h.page.Clicked("Accept all"))

	outside := newHarness(t, `<main><a href="/next">Continue</a></main>`, Options{}, nil)
	require.NoError(t, outside.exec.navigate(ctx, Step{Action: "navigate", URL: "/"}))
	assert.Empty(t, outside.page.Clicks())

	external := newHarness(t, `<div class="cookie-banner"><a href="https://evil.example/ok">OK</a></div>`, Options{}, nil)
	require.NoError(t, external.exec.navigate(ctx, Step{Action: "navigate", URL: "/"}))
	assert.Empty(t, external.page.Clicks())

	inDialog := newHarness(t, `<div class="cookie-banner"><a href="/accept">I agree</a></div>`, Options{}, nil)
	require.NoError(t, inDialog.exec.navigate(ctx, Step{Action: "navigate", URL: "/"}))
	assert.True(t, inDialog.page.Clicked("I agree"))
}

func TestLoginWithoutVisibleControlMarksSession(t *testing.T) {
	h := newHarness(t, `<h1>Dashboard</h1>`, Options{}, nil)

	report := h.exec.RunSuite(context.Background(), cases(t, `[
		{"name":"login","steps":[{"action":"login_via_login_gov"}]},
		{"name":"again","steps":[{"action":"login"}]}
	]`))

	assert.Equal(t, StatusPassed, report.Tests[0].Status, report.Tests[0].Error)
	assert.Equal(t, StatusPassed, report.Tests[1].Status, report.Tests[1].Error)
	assert.True(t, h.exec.Session().Authenticated())
	assert.Equal(t, []string{baseURL, baseURL}, h.page.Navigations())
}

func TestAgentVerification(t *testing.T) {
	html := `<h1>Welcome</h1>`
	steps := `[{"name":"v","steps":[{"action":"assert_text","text":"Welcome"}]}]`

	rejecting := &stubVerifier{verdict: Verdict{OK: false, Reason: "wrong page"}}
	h := newHarness(t, html, Options{}, nil, WithVerifier(rejecting))
	r := h.exec.RunCase(context.Background(), cases(t, steps)[0])
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "agent verification failed: wrong page")
	require.Len(t, rejecting.steps, 1)

	erroring := &stubVerifier{err: errors.New("backend down")}
	h = newHarness(t, html, Options{}, nil, WithVerifier(erroring))
	r = h.exec.RunCase(context.Background(), cases(t, steps)[0])
	assert.Equal(t, StatusPassed, r.Status, r.Error)

	accepting := &stubVerifier{verdict: Verdict{OK: true, Screenshot: "verify.jpg"}}
	h = newHarness(t, html, Options{}, nil, WithVerifier(accepting))
	r = h.exec.RunCase(context.Background(), cases(t, steps)[0])
	assert.Equal(t, StatusPassed, r.Status, r.Error)
	assert.Equal(t, "verify.jpg", r.Screenshot)
}

func TestResultEchoesAuthoredSteps(t *testing.T) {
	in := cases(t, `[{"name":"echo","steps":[{"action":"assert_url","value":"app","custom":{"note":1}}]}]`)
	h := newHarness(t, `<p>x</p>`, Options{}, nil)

	report := h.exec.RunSuite(context.Background(), in)
	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"custom":{"note":1}`)
	assert.Contains(t, string(data), `"status":"passed"`)

	built, err := json.Marshal(Step{Action: "click", Target: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"click","target":"x"}`, string(built))
}

func TestStepKindsAndModes(t *testing.T) {
	tests := []struct {
		action string
		kind   Kind
		mode   AssertMode
	}{
		{"navigate_to", KindNavigate, AssertVisible},
		{"login_via_login_gov", KindLogin, AssertVisible},
		{"assert_element_exists", KindAssert, AssertPresent},
		{"assert_element_visible", KindAssert, AssertVisible},
		{"Assert_Element", KindAssert, AssertPresent},
		{"assert_visible", KindAssertText, AssertVisible},
		{"assert_url_matches", KindAssertURL, AssertVisible},
		{"screenshot", KindScreenshot, AssertVisible},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			s := Step{Action: tt.action}
			k, err := s.Kind()
			require.NoError(t, err)
			assert.Equal(t, tt.kind, k)
			assert.Equal(t, tt.mode, s.AssertMode())
		})
	}

	assert.Equal(t, AssertAbsent, Step{Action: "assert_element_present", Exists: boolPtr(false)}.AssertMode())
	assert.Equal(t, AssertPresent, Step{Action: "assert_element_visible", Existence: boolPtr(true)}.AssertMode())
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := excerpt(long, 300)
	assert.Equal(t, 300, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", excerpt("short", 300))
}

func boolPtr(b bool) *bool { return &b }
