// Package auth drives the federated sign-in sub-flow: login button,
// identity provider, credentials, one-time code and consent.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/v0xg/storyrun/internal/artifacts"
	"github.com/v0xg/storyrun/internal/crawler"
	"github.com/v0xg/storyrun/internal/guard"
	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

var (
	ErrMissingSecrets   = errors.New("missing required environment variables")
	ErrLoginNotFound    = errors.New("login button not found")
	ErrProviderNotFound = errors.New("identity provider button not found")
	ErrCredentialFill   = errors.New("credential entry failed")
	ErrOTPExhausted     = errors.New("OTP failed after two attempts")
)

const maxOTPAttempts = 2

// InventoryFile is the run-relative name of the post-login inventory.
const InventoryFile = "element_inventory.json"

// Config names the identity provider and where credentials come from.
type Config struct {
	// Provider is the visible brand of the identity provider button.
	Provider    string
	UsernameEnv string
	PasswordEnv string
	TOTPEnv     string
}

// DefaultConfig returns the Login.gov configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    "Login.gov",
		UsernameEnv: "LOGIN_USERNAME",
		PasswordEnv: "LOGIN_PASSWORD",
		TOTPEnv:     "TOTP_SECRET",
	}
}

// Timings bounds every wait in the flow.
type Timings struct {
	Action         time.Duration
	GrantWindow    time.Duration
	RedirectWindow time.Duration
	PollInterval   time.Duration
	Cooldown       time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Action:         6 * time.Second,
		GrantWindow:    8 * time.Second,
		RedirectWindow: 10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		Cooldown:       30 * time.Second,
	}
}

// CodeFunc produces a one-time code for secret at the given time.
type CodeFunc func(secret string, at time.Time) (string, error)

// TOTPCode generates an RFC 6238 code with 30 second steps and 6 digits.
func TOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(strings.ToUpper(strings.ReplaceAll(secret, " ", "")), at)
}

// Clock lets tests run the timed waits instantly.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type secrets struct {
	Username, Password, TOTPSecret string
}

// Flow is one run of the sign-in state machine. Create one per login step.
type Flow struct {
	page      locator.Page
	guard     *guard.Guard
	session   *Session
	cfg       Config
	timings   Timings
	code      CodeFunc
	clock     Clock
	getenv    func(string) string
	artifacts *artifacts.Writer
	logger    *zap.Logger

	secrets secrets
	attempt int
	err     error
	trace   []State
}

// Option configures a Flow.
type Option func(*Flow)

func WithTimings(t Timings) Option { return func(f *Flow) { f.timings = t } }

func WithCodeFunc(fn CodeFunc) Option { return func(f *Flow) { f.code = fn } }

func WithClock(c Clock) Option { return func(f *Flow) { f.clock = c } }

// WithEnv replaces os.Getenv for credential lookup.
func WithEnv(getenv func(string) string) Option { return func(f *Flow) { f.getenv = getenv } }

// WithArtifacts stores the post-login element inventory.
func WithArtifacts(w *artifacts.Writer) Option { return func(f *Flow) { f.artifacts = w } }

func WithLogger(l *zap.Logger) Option { return func(f *Flow) { f.logger = l } }

// NewFlow creates a flow. Empty Config fields take their defaults.
func NewFlow(page locator.Page, g *guard.Guard, session *Session, cfg Config, opts ...Option) *Flow {
	def := DefaultConfig()
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.UsernameEnv == "" {
		cfg.UsernameEnv = def.UsernameEnv
	}
	if cfg.PasswordEnv == "" {
		cfg.PasswordEnv = def.PasswordEnv
	}
	if cfg.TOTPEnv == "" {
		cfg.TOTPEnv = def.TOTPEnv
	}

	f := &Flow{
		page:    page,
		guard:   g,
		session: session,
		cfg:     cfg,
		timings: DefaultTimings(),
		code:    TOTPCode,
		clock:   realClock{},
		getenv:  os.Getenv,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run steps the machine from NotStarted to a terminal state.
func (f *Flow) Run(ctx context.Context) error {
	s := NotStarted
	for !s.Terminal() {
		next := f.Step(ctx, s)
		f.trace = append(f.trace, next)
		f.logger.Debug("login state", zap.Stringer("from", s), zap.Stringer("to", next))
		s = next
	}
	if s == Failed {
		return f.err
	}
	return nil
}

// Trace returns the states entered so far.
func (f *Flow) Trace() []State {
	return append([]State(nil), f.trace...)
}

// Err returns the failure recorded when the flow entered Failed.
func (f *Flow) Err() error {
	return f.err
}

// Step performs the work of state s and returns the next state.
func (f *Flow) Step(ctx context.Context, s State) State {
	if err := ctx.Err(); err != nil && !s.Terminal() {
		return f.fail(err)
	}

	switch s {
	case NotStarted:
		if f.session.Authenticated() {
			f.logger.Info("session already authenticated; skipping login")
			return Done
		}
		return CheckLoginVisible

	case CheckLoginVisible:
		if !f.loginVisible(ctx) {
			// A page without a login control is taken as signed in.
			f.logger.Warn("no login control visible; treating session as authenticated")
			f.session.MarkAuthenticated()
			return Done
		}
		if err := f.loadSecrets(); err != nil {
			return f.fail(err)
		}
		return ClickLogin

	case ClickLogin:
		if err := f.clickLogin(ctx); err != nil {
			return f.fail(err)
		}
		return ClickFederatedProvider

	case ClickFederatedProvider:
		if err := f.clickProvider(ctx); err != nil {
			return f.fail(err)
		}
		return FillCredentials

	case FillCredentials:
		if err := f.fillCredentials(ctx); err != nil {
			return f.fail(err)
		}
		f.attempt = 1
		return OTPAttempt

	case OTPAttempt:
		return f.otpAttempt(ctx)

	case ConsentGrant:
		return f.consentGrant(ctx)

	case Done, Failed:
		return s
	}
	return f.fail(fmt.Errorf("unknown login state %d", int(s)))
}

func (f *Flow) loadSecrets() error {
	f.secrets = secrets{
		Username:   f.getenv(f.cfg.UsernameEnv),
		Password:   f.getenv(f.cfg.PasswordEnv),
		TOTPSecret: f.getenv(f.cfg.TOTPEnv),
	}

	var missing []string
	if f.secrets.Username == "" {
		missing = append(missing, f.cfg.UsernameEnv)
	}
	if f.secrets.Password == "" {
		missing = append(missing, f.cfg.PasswordEnv)
	}
	if f.secrets.TOTPSecret == "" {
		missing = append(missing, f.cfg.TOTPEnv)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecrets, strings.Join(missing, ", "))
	}
	return nil
}

func (f *Flow) otpAttempt(ctx context.Context) State {
	code, err := f.code(f.secrets.TOTPSecret, f.clock.Now())
	if err != nil {
		return f.fail(fmt.Errorf("failed to generate one-time code: %w", err))
	}
	f.logger.Info("submitting one-time code", zap.Int("attempt", f.attempt))

	if !f.fillFirst(ctx, otpCandidates, code) {
		if f.attempt >= maxOTPAttempts {
			return f.fail(fmt.Errorf("%w: unable to fill one-time code", ErrOTPExhausted))
		}
		f.logger.Warn("one-time code field not found; retrying after cooldown", zap.Duration("cooldown", f.timings.Cooldown))
		return f.retryOTP(ctx)
	}

	if f.clickFirst(ctx, otpSubmit) {
		_ = f.page.WaitIdle(ctx)
	}
	return ConsentGrant
}

func (f *Flow) consentGrant(ctx context.Context) State {
	if f.poll(ctx, f.timings.GrantWindow, func() bool { return f.clickGrant(ctx) }) {
		return f.complete(ctx)
	}
	if f.poll(ctx, f.timings.RedirectWindow, func() bool { return f.guard.UnderBase(f.page.URL(ctx)) }) {
		return f.complete(ctx)
	}
	if f.attempt >= maxOTPAttempts {
		return f.fail(ErrOTPExhausted)
	}
	f.logger.Warn("no consent or redirect after one-time code; retrying after cooldown", zap.Duration("cooldown", f.timings.Cooldown))
	return f.retryOTP(ctx)
}

func (f *Flow) retryOTP(ctx context.Context) State {
	if err := f.clock.Sleep(ctx, f.timings.Cooldown); err != nil {
		return f.fail(err)
	}
	f.attempt++
	return OTPAttempt
}

// poll evaluates cond until it holds or window elapses.
func (f *Flow) poll(ctx context.Context, window time.Duration, cond func() bool) bool {
	deadline := f.clock.Now().Add(window)
	for {
		if cond() {
			return true
		}
		if !f.clock.Now().Before(deadline) {
			return false
		}
		if err := f.clock.Sleep(ctx, f.timings.PollInterval); err != nil {
			return false
		}
	}
}

func (f *Flow) complete(ctx context.Context) State {
	f.session.MarkAuthenticated()
	f.logger.Info("login complete", zap.String("url", f.page.URL(ctx)))
	f.saveInventory(ctx)
	return Done
}

func (f *Flow) saveInventory(ctx context.Context) {
	if f.artifacts == nil {
		return
	}
	html, err := f.page.HTML(ctx)
	if err != nil {
		f.logger.Warn("element inventory skipped", zap.Error(err))
		return
	}
	inv, err := crawler.BuildInventory(html, crawler.InventoryLimit)
	if err != nil {
		f.logger.Warn("element inventory skipped", zap.Error(err))
		return
	}
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return
	}
	loc, err := f.artifacts.File(ctx, InventoryFile, data)
	if err != nil {
		f.logger.Warn("element inventory not saved", zap.Error(err))
		return
	}
	f.logger.Debug("element inventory saved", zap.String("path", loc))
}

func (f *Flow) fail(err error) State {
	f.err = err
	return Failed
}
