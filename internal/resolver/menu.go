package resolver

import (
	"context"

	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

var userMenuTriggers = []locator.Candidate{
	locator.Role("button", "user"),
	locator.Role("button", "account"),
	locator.Role("button", "profile"),
	locator.Role("button", "menu"),
	locator.Role("button", `my\s*account`),
	locator.Role("button", "settings"),
	locator.CSS("[data-testid*='user']"),
	locator.CSS("[data-testid*='account']"),
	locator.CSS("#userMenu"),
	locator.CSS(".user-menu"),
}

// OpenUserMenu clicks the first visible user or account menu trigger in the
// main frame. It reports whether anything was clicked.
func OpenUserMenu(ctx context.Context, page locator.Page, logger *zap.Logger) bool {
	main := page.Main()
	for _, c := range userMenuTriggers {
		m, ok := locator.FindIn(ctx, main, c)
		if !ok || !m.Visible {
			continue
		}
		if err := m.First().Click(ctx); err != nil {
			logger.Debug("user menu trigger not clickable", zap.String("candidate", c.String()), zap.Error(err))
			continue
		}
		_ = page.WaitIdle(ctx)
		logger.Debug("opened user menu", zap.String("candidate", c.String()))
		return true
	}
	return false
}
