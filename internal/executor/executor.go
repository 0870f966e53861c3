// Package executor runs generated test cases step by step against a live
// page and records a result per case.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/v0xg/storyrun/internal/artifacts"
	"github.com/v0xg/storyrun/internal/auth"
	"github.com/v0xg/storyrun/internal/guard"
	"github.com/v0xg/storyrun/internal/locator"
	"github.com/v0xg/storyrun/internal/resolver"
	"go.uber.org/zap"
)

// ErrAgentRejected is returned when the verification agent judges a step
// as not having succeeded.
var ErrAgentRejected = errors.New("agent verification failed")

// Verifier double-checks an assert step after it passed.
type Verifier interface {
	VerifyStep(ctx context.Context, page locator.Page, step Step) (Verdict, error)
}

// Verdict is a verifier's judgement.
type Verdict struct {
	OK     bool
	Reason string
	// Screenshot is where the evidence was stored, if anywhere.
	Screenshot string
}

// Timings bounds the waits of assert steps.
type Timings struct {
	Visible   time.Duration
	Reresolve time.Duration
	Poll      time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Visible:   8 * time.Second,
		Reresolve: 5 * time.Second,
		Poll:      250 * time.Millisecond,
	}
}

// Options configures execution behavior
type Options struct {
	BaseURL string
	// BlockDeepLinks removes and rejects navigate steps below the site root.
	BlockDeepLinks bool
	// ScreenshotDelay is the settle time before every screenshot.
	ScreenshotDelay time.Duration
	Timings         Timings
	Verbose         bool
	// IdentityProvider is the brand on the federated login button.
	IdentityProvider string
}

// Executor drives one page through test cases. Cases run sequentially and
// share the page and the login session.
type Executor struct {
	page      locator.Page
	resolver  *resolver.Resolver
	guard     *guard.Guard
	session   *auth.Session
	artifacts *artifacts.Writer
	verifier  Verifier
	authOpts  []auth.Option
	opts      Options
	out       io.Writer
	logger    *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithVerifier enables agent verification of assert steps.
func WithVerifier(v Verifier) Option { return func(e *Executor) { e.verifier = v } }

func WithArtifacts(w *artifacts.Writer) Option { return func(e *Executor) { e.artifacts = w } }

// WithAuthOptions passes options to every login flow.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(e *Executor) { e.authOpts = append(e.authOpts, opts...) }
}

// WithOutput redirects progress lines, os.Stdout by default.
func WithOutput(w io.Writer) Option { return func(e *Executor) { e.out = w } }

func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.logger = l } }

// New creates an Executor with a fresh session.
func New(page locator.Page, res *resolver.Resolver, g *guard.Guard, opts Options, options ...Option) *Executor {
	def := DefaultTimings()
	if opts.Timings.Visible <= 0 {
		opts.Timings.Visible = def.Visible
	}
	if opts.Timings.Reresolve <= 0 {
		opts.Timings.Reresolve = def.Reresolve
	}
	if opts.Timings.Poll <= 0 {
		opts.Timings.Poll = def.Poll
	}

	e := &Executor{
		page:     page,
		resolver: res,
		guard:    g,
		session:  &auth.Session{},
		opts:     opts,
		out:      os.Stdout,
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Session returns the login session shared by all cases.
func (e *Executor) Session() *auth.Session {
	return e.session
}

// RunSuite runs every case in order. A failing case does not stop the suite.
func (e *Executor) RunSuite(ctx context.Context, cases []TestCase) Report {
	if e.opts.BlockDeepLinks {
		var removed int
		cases, removed = FilterDeepLinks(cases, e.opts.BaseURL)
		if removed > 0 {
			fmt.Fprintf(e.out, "↷ Removed %d deep-link navigate step(s) (policy)\n", removed)
		}
	}

	report := Report{Tests: make([]Result, 0, len(cases))}
	for _, tc := range cases {
		if ctx.Err() != nil {
			break
		}
		report.Tests = append(report.Tests, e.RunCase(ctx, tc))
	}
	return report
}

// RunCase runs steps in order and stops at the first failure.
func (e *Executor) RunCase(ctx context.Context, tc TestCase) Result {
	name := tc.DisplayName()
	res := Result{
		Name:   name,
		Status: StatusPassed,
		Steps:  append([]Step(nil), tc.Steps...),
	}
	fmt.Fprintf(e.out, "\n→ Running test: %s\n", name)

	for i, step := range tc.Steps {
		sctx := artifacts.WithStep(ctx, name, i+1)
		if e.opts.Verbose {
			fmt.Fprintf(e.out, "  [%d/%d] %s", i+1, len(tc.Steps), step.Action)
		}

		shot, err := e.runStep(sctx, step)
		if shot != "" {
			res.Screenshot = shot
		}
		if err != nil {
			if e.opts.Verbose {
				fmt.Fprintf(e.out, " ✗ (%v)\n", err)
			}
			res.Status = StatusFailed
			res.Error = err.Error()
			e.logger.Warn("step failed",
				zap.String("test", name),
				zap.Int("step", i+1),
				zap.String("action", step.Action),
				zap.String("url", e.page.URL(ctx)),
				zap.Error(err))
			if shot := e.failureScreenshot(sctx, err); shot != "" {
				res.Screenshot = shot
			}
			break
		}
		if e.opts.Verbose {
			fmt.Fprintln(e.out, " ✓")
		}
	}

	if res.Status == StatusPassed {
		fmt.Fprintf(e.out, "✓ Passed: %s\n", name)
	} else {
		fmt.Fprintf(e.out, "✖ Failed: %s: %s\n", name, excerpt(res.Error, 300))
	}
	return res
}

// runStep dispatches one step. It returns the location of any screenshot
// the step produced.
func (e *Executor) runStep(ctx context.Context, s Step) (string, error) {
	kind, err := s.Kind()
	if err != nil {
		return "", err
	}

	switch kind {
	case KindNavigate:
		return "", e.navigate(ctx, s)
	case KindLogin:
		return "", e.login(ctx, s)
	case KindAssert:
		if err := e.assert(ctx, s); err != nil {
			return "", err
		}
		return e.agentVerify(ctx, s)
	case KindAssertText:
		if err := e.assertText(ctx, s); err != nil {
			return "", err
		}
		return e.agentVerify(ctx, s)
	case KindClick:
		return "", e.click(ctx, s)
	case KindAssertURL:
		return "", e.assertURL(ctx, s)
	case KindScreenshot:
		return e.screenshot(ctx, s)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownAction, s.Action)
}

func (e *Executor) navigate(ctx context.Context, s Step) error {
	target := joinURL(e.opts.BaseURL, s.navTarget())
	if e.opts.BlockDeepLinks && IsDeepLink(target) {
		return fmt.Errorf("%w: direct navigation to %s is blocked; reach it through clicks", guard.ErrPolicyViolation, target)
	}
	if err := e.guard.Check(target); err != nil {
		return err
	}
	if err := e.page.Navigate(ctx, target); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	_ = e.page.WaitIdle(ctx)
	e.dismissConsent(ctx)
	return nil
}

func (s Step) navTarget() string {
	if u := strings.TrimSpace(s.URL); u != "" {
		return u
	}
	if t := strings.TrimSpace(s.targetString()); t != "" {
		return t
	}
	return "/"
}

// joinURL appends a relative path to base. Absolute URLs pass through.
func joinURL(base, u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(u, "/")
}

func (e *Executor) login(ctx context.Context, s Step) error {
	if err := e.page.Navigate(ctx, e.opts.BaseURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", e.opts.BaseURL, err)
	}
	_ = e.page.WaitIdle(ctx)
	e.dismissConsent(ctx)

	opts := []auth.Option{
		auth.WithArtifacts(e.artifacts),
		auth.WithLogger(e.logger.Named("auth")),
	}
	opts = append(opts, e.authOpts...)
	flow := auth.NewFlow(e.page, e.guard, e.session, auth.Config{
		Provider:    e.opts.IdentityProvider,
		UsernameEnv: s.UsernameEnv,
		PasswordEnv: s.PasswordEnv,
		TOTPEnv:     s.TOTPEnv,
	}, opts...)
	return flow.Run(ctx)
}

// ResolveError reports a target the resolver could not locate.
type ResolveError struct {
	Descriptor resolver.Descriptor
	// Repaired is set when self-healing was tried.
	Repaired bool
	Err      error
}

func (e *ResolveError) Error() string {
	msg := "Could not resolve selector: " + e.Descriptor.String()
	if e.Repaired {
		msg += " (repair was attempted but found no working alternatives)"
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Err }

// resolve locates d with verification, opening the user menu and trying
// once more on failure.
func (e *Executor) resolve(ctx context.Context, d resolver.Descriptor) (*resolver.Resolution, error) {
	res, err := e.resolver.Resolve(ctx, e.page, d, resolver.Options{Verify: true})
	if err == nil {
		return res, nil
	}
	if errors.Is(err, resolver.ErrNotResolved) && resolver.OpenUserMenu(ctx, e.page, e.logger) {
		res, err = e.resolver.Resolve(ctx, e.page, d, resolver.Options{Verify: true})
		if err == nil {
			return res, nil
		}
	}
	if !errors.Is(err, resolver.ErrNotResolved) {
		return nil, err
	}
	return nil, &ResolveError{Descriptor: d, Repaired: e.resolver.RepairEnabled(), Err: err}
}

func (e *Executor) assert(ctx context.Context, s Step) error {
	d, err := s.Descriptor()
	if err != nil {
		return err
	}

	mode := s.AssertMode()
	if mode == AssertAbsent {
		// Absence is judged without repair; a missing element passes.
		if res, ok := e.resolver.Cascade(ctx, e.page, d); ok && e.visibleNow(ctx, res.Match) {
			return fmt.Errorf("element should not be visible: %s", d)
		}
		return nil
	}

	res, err := e.resolve(ctx, d)
	if err != nil {
		return err
	}

	if mode == AssertPresent {
		if liveCount(ctx, res) > 0 {
			return nil
		}
		if e.resolver.RepairEnabled() {
			resolver.OpenUserMenu(ctx, e.page, e.logger)
			if again, err := e.resolver.Resolve(ctx, e.page, d, resolver.Options{}); err == nil && liveCount(ctx, again) > 0 {
				return nil
			}
			return fmt.Errorf("element not found: %s (repair was attempted but found no working alternatives)", d)
		}
		return fmt.Errorf("element not found: %s", d)
	}

	if err := res.Match.First().WaitVisible(ctx, e.opts.Timings.Visible); err == nil {
		return nil
	}
	e.logger.Debug("element not visible in time; resolving again", zap.String("descriptor", d.String()))
	res, err = e.resolver.Resolve(ctx, e.page, d, resolver.Options{Verify: true})
	if err != nil {
		return fmt.Errorf("element not visible after repair attempt: %s: %w", d, err)
	}
	if err := res.Match.First().WaitVisible(ctx, e.opts.Timings.Reresolve); err != nil {
		return fmt.Errorf("element not visible: %s: %w", d, err)
	}
	return nil
}

// liveCount re-runs the winning candidate on its surface.
func liveCount(ctx context.Context, res *resolver.Resolution) int {
	if res.Match.Surface == nil {
		return res.Match.Count()
	}
	m, ok := locator.FindIn(ctx, res.Match.Surface, res.Candidate)
	if !ok {
		return 0
	}
	return m.Count()
}

func (e *Executor) visibleNow(ctx context.Context, m locator.Match) bool {
	el := m.First()
	if el == nil {
		return false
	}
	ok, err := el.Visible(ctx)
	return err == nil && ok
}

// textDescriptor picks the text to look for: a text-shaped selector or
// target, otherwise the step's text, otherwise the raw target.
func (s Step) textDescriptor() (resolver.Descriptor, error) {
	if raw := s.targetRaw(); raw != nil {
		if d, err := resolver.ParseDescriptor(raw); err == nil && d.Kind == resolver.KindText {
			return d, nil
		}
	}
	if t := strings.TrimSpace(s.Text); t != "" {
		return resolver.Text(t), nil
	}
	if raw := s.targetRaw(); raw != nil {
		if t := s.targetString(); t != "" {
			return resolver.Text(t), nil
		}
		return resolver.Text(string(raw)), nil
	}
	return resolver.Descriptor{}, fmt.Errorf("%s step has no text, selector or target", s.Action)
}

func (e *Executor) assertText(ctx context.Context, s Step) error {
	d, err := s.textDescriptor()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(e.opts.Timings.Visible)
	for {
		if res, ok := e.resolver.Direct(ctx, e.page, d); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				remaining = e.opts.Timings.Poll
			}
			if err := res.Match.First().WaitVisible(ctx, remaining); err == nil {
				return nil
			}
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("text not visible: %q", d.Value)
		}
		if err := sleep(ctx, e.opts.Timings.Poll); err != nil {
			return err
		}
	}
}

func (e *Executor) click(ctx context.Context, s Step) error {
	d, err := s.Descriptor()
	if err != nil {
		return err
	}
	res, err := e.resolve(ctx, d)
	if err != nil {
		return err
	}

	el := res.Match.First()
	if href, ok, err := el.Attribute(ctx, "href"); err == nil && ok && href != "" {
		if err := e.guard.Check(href); err != nil {
			return fmt.Errorf("blocked click to external link: %w", err)
		}
	}
	if err := el.Click(ctx); err != nil {
		return fmt.Errorf("failed to click %s: %w", d, err)
	}
	_ = e.page.WaitIdle(ctx)
	return nil
}

func (e *Executor) assertURL(ctx context.Context, s Step) error {
	expected := strings.TrimSpace(s.Value)
	if expected == "" {
		expected = strings.TrimSpace(s.targetString())
	}
	if expected == "" {
		expected = strings.TrimSpace(s.URL)
	}
	cur := e.page.URL(ctx)
	if expected != "" && !strings.Contains(cur, expected) {
		return fmt.Errorf("URL %q does not contain %q", cur, expected)
	}
	return nil
}

func (e *Executor) screenshot(ctx context.Context, s Step) (string, error) {
	label := artifacts.Sanitize(s.Name)
	if label == "" {
		label = s.inferLabel()
	}
	data, err := e.capture(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}
	loc := e.store(ctx, artifacts.KindScreenshot, label, data)
	if loc != "" && e.opts.Verbose {
		fmt.Fprintf(e.out, " 📸 %s", loc)
	}
	return loc, nil
}

// inferLabel builds a screenshot label from the action and target.
func (s Step) inferLabel() string {
	parts := []string{artifacts.Sanitize(s.Action)}
	if d, err := s.Descriptor(); err == nil {
		var hint string
		switch d.Kind {
		case resolver.KindTestID, resolver.KindText:
			hint = d.Value
		case resolver.KindRole:
			hint = d.Role
		}
		if h := artifacts.Sanitize(hint); h != "" {
			parts = append(parts, h)
		}
	}
	label := strings.Trim(strings.Join(parts, "_"), "_")
	if label == "" {
		return "screenshot"
	}
	return label
}

// capture waits for the settle delay and takes a full-page PNG.
func (e *Executor) capture(ctx context.Context) ([]byte, error) {
	if err := sleep(ctx, e.opts.ScreenshotDelay); err != nil {
		return nil, err
	}
	return e.page.Screenshot(ctx, locator.ScreenshotOptions{FullPage: true, Format: locator.FormatPNG})
}

// store saves a PNG artifact. Failures are logged; the location is empty.
func (e *Executor) store(ctx context.Context, kind artifacts.Kind, label string, data []byte) string {
	if e.artifacts == nil {
		return ""
	}
	loc, err := e.artifacts.Screenshot(ctx, kind, label, "png", data)
	if err != nil {
		e.logger.Warn("screenshot not saved", zap.String("kind", string(kind)), zap.Error(err))
		return ""
	}
	return loc
}

// failureScreenshot is best effort and never replaces the step error.
func (e *Executor) failureScreenshot(ctx context.Context, cause error) string {
	label := "error"
	if msg := strings.TrimSpace(strings.SplitN(cause.Error(), "(", 2)[0]); msg != "" {
		if l := artifacts.Sanitize(truncateRunes(msg, 50)); l != "" {
			label = l
		}
	}
	// The case context may already be cancelled; the capture still runs.
	data, err := e.capture(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Warn("failure screenshot not captured", zap.Error(err))
		return ""
	}
	return e.store(context.WithoutCancel(ctx), artifacts.KindFailure, label, data)
}

func (e *Executor) agentVerify(ctx context.Context, s Step) (string, error) {
	if e.verifier == nil {
		return "", nil
	}
	v, err := e.verifier.VerifyStep(ctx, e.page, s)
	if err != nil {
		e.logger.Warn("agent verification skipped", zap.Error(err))
		return "", nil
	}
	if !v.OK {
		reason := v.Reason
		if reason == "" {
			reason = "no reason"
		}
		return v.Screenshot, fmt.Errorf("%w: %s", ErrAgentRejected, reason)
	}
	return v.Screenshot, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func excerpt(s string, max int) string {
	if utf8.RuneCountInString(s) < max {
		return s
	}
	return truncateRunes(s, max-3) + "..."
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
