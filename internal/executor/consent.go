package executor

import (
	"context"

	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

var consentPatterns = []string{
	`\bcontinue\b`,
	`\bok\b`,
	`\baccept\b`,
	`\bi\s*agree\b`,
	`\bproceed\b`,
}

// consentContainers marks the dialogs and banners whose links may be used to
// dismiss a notice.
const consentContainers = "[role=dialog],[aria-modal=true],.modal,.cookie,.consent,.cookie-banner,.cc-window"

// dismissConsent clicks the first generic consent control in the main frame.
// Buttons are taken anywhere; links only inside a dialog and only when their
// destination passes the guard.
func (e *Executor) dismissConsent(ctx context.Context) {
	main := e.page.Main()
	for _, pat := range consentPatterns {
		if m, ok := locator.FindIn(ctx, main, locator.Role("button", pat)); ok && m.Visible {
			if err := m.First().Click(ctx); err == nil {
				e.logger.Debug("dismissed consent button", zap.String("pattern", pat))
				_ = e.page.WaitIdle(ctx)
				return
			}
		}

		m, ok := locator.FindIn(ctx, main, locator.Role("link", pat))
		if !ok || !m.Visible {
			continue
		}
		el := m.First()
		if inDialog, err := el.Closest(ctx, consentContainers); err != nil || !inDialog {
			continue
		}
		if href, ok, _ := el.Attribute(ctx, "href"); ok && href != "" && !e.guard.Allowed(href) {
			continue
		}
		if err := el.Click(ctx); err == nil {
			e.logger.Debug("dismissed consent link", zap.String("pattern", pat))
			_ = e.page.WaitIdle(ctx)
			return
		}
	}
}
