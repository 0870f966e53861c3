package resolver

import (
	"context"
	"strings"

	"github.com/v0xg/storyrun/internal/locator"
)

// NameMatches compares an expected name with the element's actual one,
// ignoring case and surrounding space. Either may contain the other. An
// empty actual name never matches a non-empty expectation.
func NameMatches(expected, actual string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return true
	}
	actual = strings.ToLower(strings.TrimSpace(actual))
	if actual == "" {
		return false
	}
	return strings.Contains(actual, expected) || strings.Contains(expected, actual)
}

// Verify checks a match against the descriptor's expectation. Descriptors
// without one accept any match that has at least one element.
func Verify(ctx context.Context, d Descriptor, m locator.Match) bool {
	if m.Count() == 0 {
		return false
	}
	expected := d.Expected()
	if expected == "" {
		return true
	}

	el := m.First()
	var actual string
	var err error
	if d.Kind == KindText {
		actual, err = el.Text(ctx)
	} else {
		actual, err = el.Name(ctx)
	}
	if err != nil {
		// Unreadable names are accepted rather than forcing a repair.
		return true
	}
	return NameMatches(expected, actual)
}
