package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Engine names a query strategy.
type Engine string

const (
	EngineTestID Engine = "testid"
	EngineCSS    Engine = "css"
	EngineText   Engine = "text"
	EngineRole   Engine = "role"
	EngineLabel  Engine = "label"
)

// Candidate is one concrete way to query a Surface. The zero value is
// invalid.
type Candidate struct {
	Engine Engine `json:"engine"`
	// Value is the test id for EngineTestID and the selector for EngineCSS.
	Value string `json:"value,omitempty"`
	// Text is the substring searched by EngineText.
	Text string `json:"text,omitempty"`
	Role string `json:"role,omitempty"`
	// NameRegex filters EngineRole by accessible name and EngineLabel by
	// label text. Matching is case-insensitive.
	NameRegex string `json:"name_regex,omitempty"`
}

func TestID(id string) Candidate { return Candidate{Engine: EngineTestID, Value: id} }

func CSS(selector string) Candidate { return Candidate{Engine: EngineCSS, Value: selector} }

func Text(text string) Candidate { return Candidate{Engine: EngineText, Text: text} }

// Role matches elements by ARIA role whose accessible name matches
// nameRegex. An empty nameRegex matches any name.
func Role(role, nameRegex string) Candidate {
	return Candidate{Engine: EngineRole, Role: role, NameRegex: nameRegex}
}

// Label matches form controls whose label text matches labelRegex.
func Label(labelRegex string) Candidate {
	return Candidate{Engine: EngineLabel, NameRegex: labelRegex}
}

// RoleExact matches role elements whose name equals name, ignoring case and
// surrounding whitespace.
func RoleExact(role, name string) Candidate {
	return Role(role, "^\\s*"+regexp.QuoteMeta(strings.TrimSpace(name))+"\\s*$")
}

// Valid reports whether the candidate carries the fields its engine needs.
func (c Candidate) Valid() bool {
	switch c.Engine {
	case EngineTestID, EngineCSS:
		return c.Value != ""
	case EngineText:
		return c.Text != ""
	case EngineRole:
		return c.Role != ""
	case EngineLabel:
		return c.NameRegex != ""
	}
	return false
}

// NameMatcher compiles NameRegex case-insensitively. It returns nil when no
// name filter is set.
func (c Candidate) NameMatcher() (*regexp.Regexp, error) {
	if c.NameRegex == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + c.NameRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern %q: %w", c.NameRegex, err)
	}
	return re, nil
}

func (c Candidate) String() string {
	switch c.Engine {
	case EngineTestID:
		return fmt.Sprintf("testid=%s", c.Value)
	case EngineCSS:
		return fmt.Sprintf("css=%s", c.Value)
	case EngineText:
		return fmt.Sprintf("text=%s", c.Text)
	case EngineRole:
		if c.NameRegex == "" {
			return fmt.Sprintf("role=%s", c.Role)
		}
		return fmt.Sprintf("role=%s[name=/%s/i]", c.Role, c.NameRegex)
	case EngineLabel:
		return fmt.Sprintf("label=/%s/i", c.NameRegex)
	}
	return string(c.Engine)
}

var hasTextRe = regexp.MustCompile(`^(.*):has-text\((['"])(.*)['"]\)\s*$`)

// SplitHasText splits a selector of the form `base:has-text('x')` into its
// CSS base and the required text. ok is false for plain CSS.
func SplitHasText(selector string) (base, text string, ok bool) {
	m := hasTextRe.FindStringSubmatch(selector)
	if m == nil {
		return "", "", false
	}
	base = strings.TrimSpace(m[1])
	if base == "" {
		base = "*"
	}
	return base, m[3], true
}

// AttrSelector builds an attribute-equals selector with the value quoted.
func AttrSelector(name, value string) string {
	v := strings.ReplaceAll(value, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return fmt.Sprintf(`[%s="%s"]`, name, v)
}

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeSpace collapses runs of whitespace and trims the result.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// ImplicitRole returns the ARIA role an element has without an explicit
// role attribute. The browser adapter mirrors this table in script.
func ImplicitRole(tag, inputType string, hasHref bool) string {
	tag = strings.ToLower(tag)
	inputType = strings.ToLower(inputType)
	switch tag {
	case "button":
		return "button"
	case "input":
		switch inputType {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "", "text", "email", "search", "tel", "url":
			return "textbox"
		}
		return ""
	case "textarea":
		return "textbox"
	case "a":
		if hasHref {
			return "link"
		}
		return ""
	case "select":
		return "combobox"
	case "table":
		return "table"
	case "ul", "ol":
		return "list"
	case "li":
		return "listitem"
	case "nav":
		return "navigation"
	case "dialog":
		return "dialog"
	case "img":
		return "img"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	}
	return ""
}
