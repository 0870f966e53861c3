package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the shape of a target descriptor.
type Kind string

const (
	KindTestID Kind = "testid"
	KindCSS    Kind = "css"
	KindText   Kind = "text"
	KindRole   Kind = "role"
	// KindString is a bare string whose meaning is inferred when resolving.
	KindString Kind = "string"
)

// ErrBadDescriptor is returned for targets that fit no known shape.
var ErrBadDescriptor = errors.New("unrecognized target descriptor")

// Descriptor is the authored description of an element. Field order is
// fixed so that Key is canonical.
type Descriptor struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value,omitempty"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
}

func TestID(id string) Descriptor { return Descriptor{Kind: KindTestID, Value: id} }

func CSS(selector string) Descriptor { return Descriptor{Kind: KindCSS, Value: selector} }

func Text(text string) Descriptor { return Descriptor{Kind: KindText, Value: text} }

func Role(role, name string) Descriptor { return Descriptor{Kind: KindRole, Role: role, Name: name} }

// FromString wraps a bare string. `text=X` and `[text='X']` become text
// descriptors.
func FromString(s string) Descriptor {
	s = strings.TrimSpace(s)
	if m := bracketTextRe.FindStringSubmatch(s); m != nil {
		return Text(m[1])
	}
	if rest, ok := cutPrefixFold(s, "text="); ok {
		return Text(unquote(rest))
	}
	return Descriptor{Kind: KindString, Value: s}
}

var bracketTextRe = regexp.MustCompile(`^\[text=['"](.+)['"]\]$`)

// ParseDescriptor accepts every authored shape: a bare string, or an object
// using kind/type with value, or role/name, text, css, data-testid, testid.
func ParseDescriptor(raw json.RawMessage) (Descriptor, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Descriptor{}, fmt.Errorf("%w: empty target", ErrBadDescriptor)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return Descriptor{}, fmt.Errorf("%w: empty target", ErrBadDescriptor)
		}
		return FromString(s), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrBadDescriptor, trimmed)
	}
	return fromObject(obj, trimmed)
}

func fromObject(obj map[string]any, raw string) (Descriptor, error) {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := obj[k]; ok {
				if str := scalarString(v); str != "" {
					return strings.TrimSpace(str)
				}
			}
		}
		return ""
	}

	if id := get("data-testid", "testid", "testId"); id != "" {
		return TestID(id), nil
	}

	kind := strings.ToLower(get("kind", "type"))
	value := get("value")
	switch kind {
	case "testid", "data-testid":
		if value != "" {
			return TestID(value), nil
		}
	case "css", "selector":
		if value != "" {
			return CSS(value), nil
		}
	case "text":
		if t := firstNonEmpty(value, get("text")); t != "" {
			return Text(t), nil
		}
	case "role":
		if role := get("role"); role != "" {
			return Role(role, firstNonEmpty(get("name"), value, get("text"))), nil
		}
	case "string":
		if value != "" {
			return FromString(value), nil
		}
	}

	if role := get("role"); role != "" {
		return Role(role, firstNonEmpty(get("name"), value, get("text"))), nil
	}
	if t := get("text"); t != "" {
		return Text(t), nil
	}
	if css := get("css", "selector"); css != "" {
		return CSS(css), nil
	}
	if value != "" {
		return Text(value), nil
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrBadDescriptor, raw)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON lets descriptors be decoded straight from step records.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDescriptor(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON emits the canonical object form.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type plain Descriptor
	return json.Marshal(plain(d))
}

// Key is the canonical cache key. Two descriptors with the same fields have
// the same key regardless of how they were authored.
func (d Descriptor) Key() string {
	b, _ := d.MarshalJSON()
	return string(b)
}

// Expected is the text the resolved element's name must contain, if any.
func (d Descriptor) Expected() string {
	switch d.Kind {
	case KindRole:
		return strings.TrimSpace(d.Name)
	case KindText:
		return strings.TrimSpace(d.Value)
	}
	return ""
}

// String renders the descriptor the way a selector would be written.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindTestID:
		return fmt.Sprintf("[data-testid='%s']", d.Value)
	case KindText:
		return fmt.Sprintf("text=%s", d.Value)
	case KindRole:
		if d.Name == "" {
			return fmt.Sprintf("role=%s", d.Role)
		}
		return fmt.Sprintf("role=%s[name='%s']", d.Role, d.Name)
	}
	return d.Value
}

var identRe = regexp.MustCompile(`^[A-Za-z0-9_\-: ]+$`)

// Slug is the bare identifier used for override lookup and attribute
// guesses. Structured and prefixed forms have none.
func (d Descriptor) Slug() string {
	switch d.Kind {
	case KindTestID:
		return d.Value
	case KindString:
		s := unquote(d.Value)
		for _, p := range []string{"data-testid=", "role=", "text="} {
			if _, ok := cutPrefixFold(s, p); ok {
				return ""
			}
		}
		if !identRe.MatchString(s) {
			return ""
		}
		return s
	}
	return ""
}

var (
	separatorRe = regexp.MustCompile(`[-_]+`)
	camelRe     = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// Humanize turns a slug like "add-study_button" or "addStudy" into words.
func Humanize(slug string) string {
	s := camelRe.ReplaceAllString(slug, "$1 $2")
	s = separatorRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
