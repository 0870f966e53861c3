package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/v0xg/storyrun/internal/resolver"
)

// ErrUnknownAction is returned for steps whose action tag is not recognized.
var ErrUnknownAction = errors.New("unknown action type")

// Kind is the canonical action of a step.
type Kind string

const (
	KindNavigate   Kind = "navigate"
	KindLogin      Kind = "login"
	KindAssert     Kind = "assert"
	KindAssertText Kind = "assert_text"
	KindClick      Kind = "click"
	KindAssertURL  Kind = "assert_url"
	KindScreenshot Kind = "screenshot"
)

var actionKinds = map[string]Kind{
	"navigate":                KindNavigate,
	"navigate_to":             KindNavigate,
	"login":                   KindLogin,
	"login_via_login_gov":     KindLogin,
	"assert":                  KindAssert,
	"assert_element":          KindAssert,
	"assert_element_present":  KindAssert,
	"assert_element_presence": KindAssert,
	"assert_element_exists":   KindAssert,
	"assert_element_visible":  KindAssert,
	"assert_text":             KindAssertText,
	"assert_text_present":     KindAssertText,
	"assert_visible":          KindAssertText,
	"click":                   KindClick,
	"assert_url":              KindAssertURL,
	"assert_url_contains":     KindAssertURL,
	"assert_url_matches":      KindAssertURL,
	"screenshot":              KindScreenshot,
}

// presenceActions only require the element to exist.
var presenceActions = map[string]bool{
	"assert_element":          true,
	"assert_element_present":  true,
	"assert_element_presence": true,
	"assert_element_exists":   true,
}

// Step is one generated test step. Selector and Target hold any descriptor
// shape and are parsed when the step runs.
type Step struct {
	Action      string          `json:"action"`
	URL         string          `json:"url,omitempty"`
	Selector    json.RawMessage `json:"selector,omitempty"`
	Target      json.RawMessage `json:"target,omitempty"`
	Text        string          `json:"text,omitempty"`
	Value       string          `json:"value,omitempty"`
	Name        string          `json:"name,omitempty"`
	Exists      *bool           `json:"exists,omitempty"`
	Existence   *bool           `json:"existence,omitempty"`
	UsernameEnv string          `json:"username_env,omitempty"`
	PasswordEnv string          `json:"password_env,omitempty"`
	TOTPEnv     string          `json:"totp_env,omitempty"`

	// raw is the step as authored, echoed back in results.
	raw json.RawMessage
}

type stepFields Step

func (s *Step) UnmarshalJSON(data []byte) error {
	var f stepFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Step(f)
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (s Step) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	f := stepFields(s)
	return json.Marshal(f)
}

// Kind maps the authored action tag to its canonical kind.
func (s Step) Kind() (Kind, error) {
	k, ok := actionKinds[strings.ToLower(strings.TrimSpace(s.Action))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, s.Action)
	}
	return k, nil
}

// AssertMode is how an assert step judges the resolved element.
type AssertMode int

const (
	// AssertVisible waits for the element to become visible.
	AssertVisible AssertMode = iota
	// AssertPresent only requires the element to exist.
	AssertPresent
	// AssertAbsent fails when the element is visible.
	AssertAbsent
)

// AssertMode reads exists/existence and the action tag.
func (s Step) AssertMode() AssertMode {
	exp := s.Exists
	if exp == nil {
		exp = s.Existence
	}
	switch {
	case exp != nil && !*exp:
		return AssertAbsent
	case exp != nil && *exp:
		return AssertPresent
	case presenceActions[strings.ToLower(strings.TrimSpace(s.Action))]:
		return AssertPresent
	}
	return AssertVisible
}

// targetRaw returns selector, falling back to target.
func (s Step) targetRaw() json.RawMessage {
	if len(s.Selector) > 0 && string(s.Selector) != "null" {
		return s.Selector
	}
	if len(s.Target) > 0 && string(s.Target) != "null" {
		return s.Target
	}
	return nil
}

// Descriptor parses the step's selector or target.
func (s Step) Descriptor() (resolver.Descriptor, error) {
	raw := s.targetRaw()
	if raw == nil {
		return resolver.Descriptor{}, fmt.Errorf("%s step has no selector or target", s.Action)
	}
	return resolver.ParseDescriptor(raw)
}

// targetString returns the target when it was authored as a plain string.
func (s Step) targetString() string {
	var v string
	if raw := s.targetRaw(); raw != nil && json.Unmarshal(raw, &v) == nil {
		return v
	}
	return ""
}

// TestCase is a named, ordered list of steps.
type TestCase struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// DisplayName returns the case name or "Unnamed".
func (tc TestCase) DisplayName() string {
	if strings.TrimSpace(tc.Name) == "" {
		return "Unnamed"
	}
	return tc.Name
}

// ParseTestCases decodes a JSON array of test cases.
func ParseTestCases(data []byte) ([]TestCase, error) {
	var cases []TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse test cases: %w", err)
	}
	return cases, nil
}

const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Result is the outcome of one test case.
type Result struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	Screenshot string `json:"screenshot"`
	Steps      []Step `json:"steps"`
}

// Report is the outcome of a suite, in run order.
type Report struct {
	Tests []Result `json:"tests"`
}

// Failed counts failed results.
func (r Report) Failed() int {
	n := 0
	for _, t := range r.Tests {
		if t.Status == StatusFailed {
			n++
		}
	}
	return n
}
