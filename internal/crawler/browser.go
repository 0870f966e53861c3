package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/v0xg/storyrun/internal/guard"
	"go.uber.org/zap"
)

// Options configures the browser session
type Options struct {
	Width      int
	Height     int
	Headless   bool
	Timeout    time.Duration // bound for navigations and element actions
	ProfileDir string        // Chrome/Chromium profile directory for authenticated sessions
	Guard      *guard.Guard  // blocks document requests and popups outside the allowed hosts
	Logger     *zap.Logger
}

// Browser wraps the Rod browser and the single page a run drives
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	router  *rod.HijackRouter
	guard   *guard.Guard
	logger  *zap.Logger
	adapter *Page
}

// Launch starts a browser and opens a blank page
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Width == 0 {
		opts.Width = 1280
	}
	if opts.Height == 0 {
		opts.Height = 800
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	path, _ := launcher.LookPath()
	l := launcher.New().Bin(path).Headless(opts.Headless)

	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b := &Browser{browser: browser, guard: opts.Guard, logger: opts.Logger}

	if b.guard != nil {
		if err := b.installGuard(); err != nil {
			b.Close()
			return nil, err
		}
		b.watchPopups()
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	b.page = page
	b.adapter = &Page{page: page, timeout: opts.Timeout, logger: opts.Logger}
	return b, nil
}

// Page returns the page adapter
func (b *Browser) Page() *Page {
	return b.adapter
}

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.router != nil {
		_ = b.router.Stop()
	}
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
}

// installGuard fails top-level and frame document requests to hosts the
// guard rejects
func (b *Browser) installGuard() error {
	router := b.browser.HijackRequests()
	err := router.Add("*", proto.NetworkResourceTypeDocument, func(h *rod.Hijack) {
		target := h.Request.URL().String()
		if !b.guard.Allowed(target) {
			b.logger.Warn("blocked navigation", zap.String("url", target))
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return fmt.Errorf("failed to install navigation guard: %w", err)
	}
	go router.Run()
	b.router = router
	return nil
}

// watchPopups closes any window opened by a page when its URL is not allowed
func (b *Browser) watchPopups() {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b.browser); err != nil {
		b.logger.Warn("target discovery unavailable; popups are not guarded", zap.Error(err))
		return
	}
	go b.browser.EachEvent(
		func(e *proto.TargetTargetCreated) { b.checkPopup(e.TargetInfo) },
		func(e *proto.TargetTargetInfoChanged) { b.checkPopup(e.TargetInfo) },
	)()
}

func (b *Browser) checkPopup(info *proto.TargetTargetInfo) {
	if info == nil || string(info.Type) != "page" || info.OpenerID == "" {
		return
	}
	if info.URL == "" || strings.HasPrefix(info.URL, "about:") || b.guard.Allowed(info.URL) {
		return
	}

	b.logger.Warn("closing popup outside allowed hosts", zap.String("url", info.URL))
	popup, err := b.browser.PageFromTarget(info.TargetID)
	if err != nil {
		b.logger.Debug("popup already gone", zap.Error(err))
		return
	}
	_ = popup.Close()
}
