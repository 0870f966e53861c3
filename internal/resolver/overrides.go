package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/v0xg/storyrun/internal/locator"
)

// OverrideProvider supplies hand-authored candidates for a slug.
type OverrideProvider interface {
	Name() string
	Candidates(slug string) []locator.Candidate
}

// Table is an OverrideProvider backed by a map.
type Table struct {
	name    string
	entries map[string][]locator.Candidate
}

// NewTable creates a named provider from entries.
func NewTable(name string, entries map[string][]locator.Candidate) *Table {
	if entries == nil {
		entries = map[string][]locator.Candidate{}
	}
	return &Table{name: name, entries: entries}
}

func (t *Table) Name() string { return t.name }

func (t *Table) Candidates(slug string) []locator.Candidate {
	return t.entries[slug]
}

// Len returns the number of slugs in the table.
func (t *Table) Len() int { return len(t.entries) }

// BuiltinOverrides returns the candidates shipped with the runner for the
// application's menu and study pages.
func BuiltinOverrides() *Table {
	userMenu := []locator.Candidate{
		locator.Role("button", "user|account|profile"),
		locator.Text("User"),
		locator.CSS("[aria-label*='User']"),
	}
	return NewTable("builtin", map[string][]locator.Candidate{
		"user-menu-toggle":  userMenu,
		"user-account-menu": {locator.Role("button", "user|account|profile")},
		"manage-studies-link": {
			locator.Role("menuitem", `manage\s*studies`),
			locator.Text("Manage Studies"),
			locator.CSS("a:has-text('Manage Studies')"),
		},
		"studies-list": {
			locator.Role("table", "stud(y|ies)"),
			locator.Role("list", "stud(y|ies)"),
			locator.Text("Studies"),
		},
		"add-study-button": {
			locator.Role("button", `add\s*study`),
			locator.Text("Add Study"),
			locator.CSS("button:has-text('Add Study')"),
			locator.CSS("[aria-label*='Add Study']"),
		},
	})
}

// LoadOverrides reads a user override file: a JSON object mapping slugs to
// candidate lists. A missing file yields an empty table.
func LoadOverrides(path string) (*Table, error) {
	t := NewTable("file:"+path, nil)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("failed to read overrides %s: %w", path, err)
	}

	var entries map[string][]locator.Candidate
	if err := json.Unmarshal(data, &entries); err != nil {
		return t, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}
	for slug, cands := range entries {
		valid := cands[:0]
		for _, c := range cands {
			if c.Valid() {
				valid = append(valid, c)
			}
		}
		entries[slug] = valid
	}
	t.entries = entries
	return t, nil
}

// Overrides is an ordered list of providers. Earlier providers' candidates
// are tried first.
type Overrides []OverrideProvider

func (o Overrides) Candidates(slug string) []locator.Candidate {
	if slug == "" {
		return nil
	}
	var out []locator.Candidate
	for _, p := range o {
		out = append(out, p.Candidates(slug)...)
	}
	return out
}
