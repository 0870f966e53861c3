// Package artifacts names and stores the files a run produces.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/v0xg/storyrun/internal/storage"
)

// Kind is the reason an artifact was captured.
type Kind string

const (
	KindScreenshot Kind = "screenshot"
	KindFailure    Kind = "failure"
	KindRepair     Kind = "repair"
	KindVerify     Kind = "verify"
	KindSuccess    Kind = "success"
)

var (
	unsafeRe    = regexp.MustCompile(`[^\w\s-]`)
	separatorRe = regexp.MustCompile(`[-\s]+`)
)

const maxSlug = 100

// Sanitize turns free text into a lowercase filename fragment.
func Sanitize(text string) string {
	s := unsafeRe.ReplaceAllString(text, "")
	s = separatorRe.ReplaceAllString(s, "_")
	s = strings.ToLower(strings.Trim(s, "_"))
	if len(s) > maxSlug {
		s = s[:maxSlug]
	}
	return s
}

// Name builds test_<test>_stepNN_<kind>[_<label>].<ext>.
func Name(test string, step int, kind Kind, label, ext string) string {
	var suffix string
	if l := Sanitize(label); l != "" {
		suffix = "_" + l
	}
	return fmt.Sprintf("test_%s_step%02d_%s%s.%s", Sanitize(test), step, Sanitize(string(kind)), suffix, ext)
}

// Writer stores artifacts under a directory of a BlobStorage.
type Writer struct {
	store storage.BlobStorage
	dir   string
}

// NewWriter creates a Writer placing screenshots under dir.
func NewWriter(store storage.BlobStorage, dir string) *Writer {
	return &Writer{store: store, dir: dir}
}

// Screenshot stores data for the step in ctx and returns its location.
func (w *Writer) Screenshot(ctx context.Context, kind Kind, label, ext string, data []byte) (string, error) {
	s := StepFrom(ctx)
	return w.put(ctx, path.Join(w.dir, Name(s.Test, s.Index, kind, label, ext)), data)
}

// File stores data at a name relative to the run root.
func (w *Writer) File(ctx context.Context, name string, data []byte) (string, error) {
	return w.put(ctx, name, data)
}

func (w *Writer) put(ctx context.Context, p string, data []byte) (string, error) {
	if err := w.store.Upload(ctx, p, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return w.store.GetURL(ctx, p)
}

// Step identifies the test step an artifact belongs to.
type Step struct {
	Test  string
	Index int
}

type stepKey struct{}

// WithStep records the current test step for artifacts written under ctx.
func WithStep(ctx context.Context, test string, index int) context.Context {
	return context.WithValue(ctx, stepKey{}, Step{Test: test, Index: index})
}

// StepFrom returns the step recorded by WithStep, or an "unknown" step.
func StepFrom(ctx context.Context) Step {
	if s, ok := ctx.Value(stepKey{}).(Step); ok {
		return s
	}
	return Step{Test: "unknown"}
}
