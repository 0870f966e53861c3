package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/v0xg/storyrun/internal/executor"
)

// ErrNoTestCases is returned when the generator reply holds no usable test cases
var ErrNoTestCases = errors.New("no test cases generated")

const storyPrompt = `You are a senior QA engineer. Convert the following user story into a concise suite of executable UI tests.
Output a JSON array of test cases ONLY, no prose.

Base URL: %s

User Story:
%s

Test case schema (strict):
[
  {
    "name": "Short, action-oriented name",
    "steps": [
      { "action": "login_via_login_gov", "username_env": "LOGIN_USERNAME", "password_env": "LOGIN_PASSWORD", "totp_env": "TOTP_SECRET" },
      { "action": "navigate", "url": "/studies" },
      { "action": "click", "selector": { "kind": "role", "role": "button", "name": "Create study" } },
      { "action": "assert_element_visible", "selector": { "kind": "testid", "value": "study-form" } },
      { "action": "assert_text", "text": "New study" },
      { "action": "assert_url_contains", "value": "/studies/new" },
      { "action": "screenshot", "name": "after-login" }
    ]
  }
]

Actions: navigate, login_via_login_gov, click, assert_element_visible, assert_element_present, assert_text, assert_url_contains, screenshot.
Selectors: {"kind":"testid","value":...}, {"kind":"role","role":...,"name":...}, {"kind":"text","value":...}, {"kind":"css","value":...}.
Set "exists": false on an assert step to check that an element is NOT shown.

Rules:
- Prefer stable selectors: data-testid, role, label, id; fallback to text.
- Keep tests independent; each starts with navigate unless using the consolidated login_via_login_gov action.
- Use relative URLs when under base URL.
- Avoid placeholders; use the *_env fields for credentials and login_via_login_gov for reliability.
- Limit to 3-8 tests.
`

// BuildStoryPrompt renders the test generation prompt
func BuildStoryPrompt(story, baseURL string) string {
	return fmt.Sprintf(storyPrompt, baseURL, strings.TrimSpace(story))
}

// GenerateTestCases asks the provider to turn a user story into test cases
func GenerateTestCases(ctx context.Context, p Provider, story, baseURL string) ([]executor.TestCase, error) {
	reply, err := p.Complete(ctx, Request{Prompt: BuildStoryPrompt(story, baseURL)})
	if err != nil {
		return nil, err
	}

	raw, ok := ExtractJSONArray(reply)
	if !ok {
		return nil, fmt.Errorf("%w: reply has no JSON array", ErrNoTestCases)
	}
	cases, err := executor.ParseTestCases([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTestCases, err)
	}
	if len(cases) == 0 {
		return nil, ErrNoTestCases
	}
	return cases, nil
}

// ExtractJSONArray pulls a JSON array out of a reply that may wrap it in a
// code fence or prose. It spans the first '[' to the last ']' and reports
// whether the result is valid JSON.
func ExtractJSONArray(response string) (string, bool) {
	body := strings.TrimSpace(response)
	if i := strings.Index(body, "```"); i != -1 {
		// drop the language tag, keeping anything after it on the fence line
		rest := strings.TrimLeftFunc(body[i+3:], unicode.IsLetter)
		if j := strings.Index(rest, "```"); j != -1 {
			rest = rest[:j]
		}
		body = strings.TrimSpace(rest)
	}

	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start == -1 || end < start {
		return "", false
	}
	body = body[start : end+1]
	if !json.Valid([]byte(body)) {
		return "", false
	}
	return body, true
}

// ParseStringArray extracts a JSON array of non-empty strings from a reply.
// Non-string entries are skipped; malformed replies yield nil.
func ParseStringArray(response string) []string {
	raw, ok := ExtractJSONArray(response)
	if !ok {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
