// Package repair asks a reasoning backend for replacement selectors when
// the deterministic cascade fails, and for a second opinion on passed
// assertions.
package repair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/v0xg/storyrun/internal/crawler"
	"github.com/v0xg/storyrun/internal/locator"
)

// Snapshot limits
const (
	DefaultMaxWidth = 1280
	DefaultQuality  = 70
	domChars        = 2000
	excerptChars    = 1500
)

// Snapshot is the page context sent along with a repair or verify request
type Snapshot struct {
	URL       string
	Inventory *crawler.Inventory
	DOM       string // JSON summary, truncated
	Excerpt   string // visible text as markdown, truncated
	JPEG      []byte // downscaled full-page screenshot, nil when unavailable
}

// capture collects a Snapshot. Every part is best effort.
func capture(ctx context.Context, page locator.Page, maxWidth uint, quality int, logger *zap.Logger) *Snapshot {
	snap := &Snapshot{URL: page.URL(ctx)}

	html, err := page.HTML(ctx)
	if err != nil {
		logger.Debug("could not read page html", zap.Error(err))
	} else {
		if inv, err := crawler.BuildInventory(html, crawler.RepairInventoryLimit); err == nil {
			snap.Inventory = inv
		}
		if tree, err := crawler.SummarizeDOM(html, crawler.SummaryDepth, crawler.SummaryChildren); err == nil {
			if b, err := json.MarshalIndent(tree, "", "  "); err == nil {
				snap.DOM = clip(string(b), domChars)
			}
		} else {
			snap.DOM = "DOM extraction failed"
		}
		if text, err := md.NewConverter("", true, nil).ConvertString(html); err == nil {
			snap.Excerpt = clip(text, excerptChars)
		}
	}
	if snap.Inventory == nil {
		snap.Inventory = &crawler.Inventory{}
	}

	shot, err := page.Screenshot(ctx, locator.ScreenshotOptions{FullPage: true, Format: locator.FormatJPEG, Quality: quality})
	if err != nil {
		logger.Debug("could not capture screenshot", zap.Error(err))
		return snap
	}
	small, err := Downscale(shot, maxWidth, quality)
	if err != nil {
		logger.Debug("could not downscale screenshot", zap.Error(err))
		return snap
	}
	snap.JPEG = small
	return snap
}

// Downscale decodes a PNG or JPEG, shrinks it to at most maxWidth pixels
// wide keeping the aspect ratio, and re-encodes it as JPEG
func Downscale(data []byte, maxWidth uint, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	if maxWidth > 0 && uint(img.Bounds().Dx()) > maxWidth {
		img = resize.Resize(maxWidth, 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
