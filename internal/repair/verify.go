package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/storyrun/internal/ai"
	"github.com/v0xg/storyrun/internal/artifacts"
	"github.com/v0xg/storyrun/internal/executor"
	"github.com/v0xg/storyrun/internal/locator"
)

const verifyPrompt = `You are verifying a UI test step result. Output only JSON: {"ok": boolean, "reason": string}.
Given the current URL, the expected step, a page screenshot, and a summary of present elements, decide if the step truly succeeded.
Current URL: %s
Step: %s
Elements: %s
`

// Verifier implements executor.Verifier by asking the backend whether a
// passed step really left the page in the expected state
type Verifier struct {
	provider  ai.Provider
	artifacts *artifacts.Writer
	logger    *zap.Logger
	maxWidth  uint
	quality   int
}

// NewVerifier creates a Verifier
func NewVerifier(p ai.Provider, opts ...Option) *Verifier {
	s := newSettings(opts)
	return &Verifier{
		provider:  p,
		artifacts: s.artifacts,
		logger:    s.logger,
		maxWidth:  s.maxWidth,
		quality:   s.quality,
	}
}

// VerifyStep returns the backend's verdict. Replies that are not a JSON
// object with a boolean "ok" are treated as a pass.
func (v *Verifier) VerifyStep(ctx context.Context, page locator.Page, step executor.Step) (executor.Verdict, error) {
	snap := capture(ctx, page, v.maxWidth, v.quality, v.logger)

	stepJSON, err := json.Marshal(step)
	if err != nil {
		return executor.Verdict{}, fmt.Errorf("failed to marshal step: %w", err)
	}

	req := ai.Request{
		Prompt:    fmt.Sprintf(verifyPrompt, snap.URL, stepJSON, mustJSON(snap.Inventory)),
		MaxTokens: 500,
	}
	if snap.JPEG != nil {
		req.Images = []ai.Image{{MediaType: "image/jpeg", Data: snap.JPEG}}
	}

	reply, err := v.provider.Complete(ctx, req)
	if err != nil {
		return executor.Verdict{}, fmt.Errorf("verify request: %w", err)
	}

	verdict := ParseVerdict(reply)
	if snap.JPEG != nil && v.artifacts != nil {
		loc, err := v.artifacts.Screenshot(ctx, artifacts.KindVerify, "agent_check", "jpg", snap.JPEG)
		if err != nil {
			v.logger.Warn("could not save verification screenshot", zap.Error(err))
		}
		verdict.Screenshot = loc
	}
	v.logger.Debug("agent verdict", zap.Bool("ok", verdict.OK), zap.String("reason", verdict.Reason))
	return verdict, nil
}

// ParseVerdict reads {"ok","reason"} from a reply, tolerating fences and
// prose around the object
func ParseVerdict(reply string) executor.Verdict {
	body := strings.TrimSpace(reply)
	body = strings.ReplaceAll(body, "```json", "")
	body = strings.ReplaceAll(body, "```", "")
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start != -1 && end > start {
		body = body[start : end+1]
	}

	var v struct {
		OK     *bool  `json:"ok"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &v); err != nil || v.OK == nil {
		return executor.Verdict{OK: true, Reason: "agent returned non-JSON; skipping enforcement"}
	}
	return executor.Verdict{OK: *v.OK, Reason: v.Reason}
}
