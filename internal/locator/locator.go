// Package locator defines the page abstraction the runner drives and the
// candidate locators used to find elements on it.
package locator

import (
	"context"
	"time"
)

// Element is a single element handle on a Surface.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Name returns the accessible name.
	Name(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	// Closest reports whether the element or an ancestor matches selector.
	Closest(ctx context.Context, selector string) (bool, error)
}

// Surface is a document that can be queried: the main frame or an embedded
// frame.
type Surface interface {
	URL(ctx context.Context) string
	Query(ctx context.Context, c Candidate) ([]Element, error)
	WaitIdle(ctx context.Context) error
}

// Format is a screenshot encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ScreenshotOptions controls Page.Screenshot.
type ScreenshotOptions struct {
	FullPage bool
	Format   Format
	// Quality applies to JPEG only.
	Quality int
}

// Page is a browser tab.
type Page interface {
	// Main returns the top-level frame.
	Main() Surface
	// Surfaces returns the main frame followed by every nested frame.
	Surfaces(ctx context.Context) ([]Surface, error)
	URL(ctx context.Context) string
	Navigate(ctx context.Context, url string) error
	WaitIdle(ctx context.Context) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}
