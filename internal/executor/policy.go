package executor

import (
	"net/url"
	"strings"
)

// IsDeepLink reports whether target points below the site root.
func IsDeepLink(target string) bool {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	return u.Path != "" && u.Path != "/"
}

// FilterDeepLinks drops navigate steps that jump straight past the root of
// baseURL. It returns the filtered cases and how many steps were removed.
func FilterDeepLinks(cases []TestCase, baseURL string) ([]TestCase, int) {
	out := make([]TestCase, 0, len(cases))
	removed := 0
	for _, tc := range cases {
		steps := make([]Step, 0, len(tc.Steps))
		for _, s := range tc.Steps {
			if k, err := s.Kind(); err == nil && k == KindNavigate && IsDeepLink(joinURL(baseURL, s.navTarget())) {
				removed++
				continue
			}
			steps = append(steps, s)
		}
		out = append(out, TestCase{Name: tc.Name, Steps: steps})
	}
	return out, removed
}
