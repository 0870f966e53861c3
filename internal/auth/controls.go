package auth

import (
	"context"
	"fmt"
	"regexp"

	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

const loginPattern = `^\s*(login|log\s*in|sign\s*in)\s*$`

var (
	loginTestID = locator.TestID("login-button")
	loginRe     = regexp.MustCompile(`(?i)` + loginPattern)
	loginTexts  = []locator.Candidate{
		locator.Text("log in"),
		locator.Text("login"),
		locator.Text("sign in"),
	}

	socialProviderRe = regexp.MustCompile(`(?i)facebook|google|github|twitter|apple|orcid|microsoft|azure|linkedin`)

	usernameCandidates = []locator.Candidate{
		locator.Label("(email|username)"),
		locator.CSS("input[type='email']"),
		locator.CSS("#email"),
		locator.CSS("#username"),
		locator.CSS("input[name='email']"),
		locator.CSS("input[name='username']"),
	}
	passwordCandidates = []locator.Candidate{
		locator.Label("password"),
		locator.CSS("input[type='password']"),
		locator.CSS("#password"),
		locator.CSS("input[name='password']"),
	}
	credentialSubmit = []locator.Candidate{
		locator.Role("button", `^\s*(sign\s*in|continue|submit)\s*$`),
		locator.CSS("button[type='submit']"),
		locator.CSS("#submit"),
	}

	otpCandidates = []locator.Candidate{
		locator.Label("(one[- ]?time|verification|auth|otp).*code"),
		locator.CSS("#otp"),
		locator.CSS("input[name*='otp']"),
		locator.CSS("input[id*='otp']"),
		locator.CSS("input[name*='code']"),
		locator.CSS("input[id*='code']"),
	}
	otpSubmit = []locator.Candidate{
		locator.Role("button", `^\s*(submit|continue|verify|sign\s*in)\s*$`),
		locator.CSS("button[type='submit']"),
		locator.CSS("#submit"),
	}

	grantPattern = `\b(grant|authorize|allow|approve|consent|agree)\b`

	grantCandidates = []locator.Candidate{
		locator.Role("button", grantPattern),
		locator.Role("link", grantPattern),
		locator.CSS("button:has-text('Grant')"),
		locator.CSS("button:has-text('Authorize')"),
		locator.CSS("button:has-text('Allow')"),
		locator.CSS("button:has-text('Approve')"),
		locator.CSS("button:has-text('Consent')"),
		locator.CSS("a:has-text('Grant')"),
		locator.CSS("a:has-text('Authorize')"),
		locator.CSS("a:has-text('Allow')"),
		locator.CSS("a:has-text('Approve')"),
		locator.CSS("a:has-text('Consent')"),
	}
)

// loginVisible reports whether a sign-in control is showing in the main frame.
func (f *Flow) loginVisible(ctx context.Context) bool {
	main := f.page.Main()
	for _, c := range []locator.Candidate{
		loginTestID,
		locator.Role("button", loginPattern),
		locator.Role("link", loginPattern),
	} {
		if m, ok := locator.FindIn(ctx, main, c); ok && m.Visible {
			return true
		}
	}
	return len(loginTextControls(ctx, main)) > 0
}

// loginTextControls returns visible elements in s whose whole text is a
// sign-in label.
func loginTextControls(ctx context.Context, s locator.Surface) []locator.Element {
	var out []locator.Element
	for _, c := range loginTexts {
		m, ok := locator.FindIn(ctx, s, c)
		if !ok {
			continue
		}
		for _, el := range m.Elements {
			if visible, err := el.Visible(ctx); err != nil || !visible {
				continue
			}
			if text, err := el.Text(ctx); err == nil && loginRe.MatchString(locator.NormalizeSpace(text)) {
				out = append(out, el)
			}
		}
	}
	return out
}

// socialControl reports whether el's name or visible text names a social
// identity provider.
func socialControl(ctx context.Context, el locator.Element) (string, bool) {
	name, _ := el.Name(ctx)
	text, _ := el.Text(ctx)
	for _, s := range []string{text, name} {
		if socialProviderRe.MatchString(s) {
			return s, true
		}
	}
	return "", false
}

func (f *Flow) clickLogin(ctx context.Context) error {
	main := f.page.Main()

	if m, ok := locator.FindIn(ctx, main, loginTestID); ok {
		el := m.First()
		if err := el.WaitVisible(ctx, f.timings.Action); err == nil {
			if err := el.Click(ctx); err == nil {
				f.logger.Debug("clicked login test id")
				return f.page.WaitIdle(ctx)
			}
		}
	}

	for _, role := range []string{"button", "link"} {
		m, ok := locator.FindIn(ctx, main, locator.Role(role, loginPattern))
		if !ok || !m.Visible {
			continue
		}
		el := m.First()
		if label, social := socialControl(ctx, el); social {
			f.logger.Debug("skipping social provider control", zap.String("label", label))
			continue
		}
		if role == "link" && f.externalLink(ctx, el) {
			continue
		}
		if err := el.Click(ctx); err != nil {
			continue
		}
		f.logger.Debug("clicked login control", zap.String("role", role))
		return f.page.WaitIdle(ctx)
	}

	// links were handled above with their guard check
	for _, el := range loginTextControls(ctx, main) {
		if inLink, _ := el.Closest(ctx, "a[href]"); inLink {
			continue
		}
		if _, social := socialControl(ctx, el); social {
			continue
		}
		if err := el.Click(ctx); err != nil {
			continue
		}
		f.logger.Debug("clicked login text")
		return f.page.WaitIdle(ctx)
	}
	return ErrLoginNotFound
}

// externalLink reports whether el points somewhere the guard forbids.
func (f *Flow) externalLink(ctx context.Context, el locator.Element) bool {
	href, ok, _ := el.Attribute(ctx, "href")
	if !ok || href == "" || f.guard.Allowed(href) {
		return false
	}
	f.logger.Debug("skipping external login link", zap.String("href", href))
	return true
}

func (f *Flow) clickProvider(ctx context.Context) error {
	main := f.page.Main()
	pattern := regexp.QuoteMeta(f.cfg.Provider)

	for _, c := range []locator.Candidate{
		locator.Role("button", pattern),
		locator.Role("link", pattern),
		locator.Text(f.cfg.Provider),
	} {
		m, ok := locator.FindIn(ctx, main, c)
		if !ok || !m.Visible {
			continue
		}
		if err := m.First().Click(ctx); err != nil {
			continue
		}
		f.logger.Debug("clicked identity provider", zap.String("candidate", c.String()))
		return f.page.WaitIdle(ctx)
	}
	return fmt.Errorf("%w: %s", ErrProviderNotFound, f.cfg.Provider)
}

func (f *Flow) fillCredentials(ctx context.Context) error {
	if !f.fillFirst(ctx, usernameCandidates, f.secrets.Username) {
		return fmt.Errorf("%w: unable to fill username/email", ErrCredentialFill)
	}
	if !f.fillFirst(ctx, passwordCandidates, f.secrets.Password) {
		return fmt.Errorf("%w: unable to fill password", ErrCredentialFill)
	}
	if !f.clickFirst(ctx, credentialSubmit) {
		return fmt.Errorf("%w: unable to submit credentials", ErrCredentialFill)
	}
	return f.page.WaitIdle(ctx)
}

// fillFirst types value into the first candidate field that accepts it.
func (f *Flow) fillFirst(ctx context.Context, cands []locator.Candidate, value string) bool {
	main := f.page.Main()
	for _, c := range cands {
		m, ok := locator.FindIn(ctx, main, c)
		if !ok {
			continue
		}
		if err := m.First().Fill(ctx, value); err != nil {
			f.logger.Debug("field rejected input", zap.String("candidate", c.String()), zap.Error(err))
			continue
		}
		return true
	}
	return false
}

// clickFirst clicks the first visible candidate in the main frame.
func (f *Flow) clickFirst(ctx context.Context, cands []locator.Candidate) bool {
	main := f.page.Main()
	for _, c := range cands {
		m, ok := locator.FindIn(ctx, main, c)
		if !ok || !m.Visible {
			continue
		}
		if err := m.First().Click(ctx); err == nil {
			return true
		}
	}
	return false
}

// clickGrant looks for a consent control in every frame.
func (f *Flow) clickGrant(ctx context.Context) bool {
	surfaces, err := f.page.Surfaces(ctx)
	if err != nil {
		surfaces = []locator.Surface{f.page.Main()}
	}
	for _, s := range surfaces {
		for _, c := range grantCandidates {
			m, ok := locator.FindIn(ctx, s, c)
			if !ok || !m.Visible {
				continue
			}
			if err := m.First().Click(ctx); err != nil {
				continue
			}
			f.logger.Debug("clicked consent grant", zap.String("frame", s.URL(ctx)), zap.String("candidate", c.String()))
			_ = s.WaitIdle(ctx)
			return true
		}
	}
	return false
}
