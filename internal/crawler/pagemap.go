package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/v0xg/storyrun/internal/locator"
)

// Default bounds for page snapshots
const (
	InventoryLimit       = 200
	RepairInventoryLimit = 100
	SummaryDepth         = 5
	SummaryChildren      = 10
	summaryText          = 50
)

// Inventory lists the stable identifiers and control texts present on a page
type Inventory struct {
	TestIDs    []string `json:"testids"`
	AriaLabels []string `json:"aria_labels"`
	Buttons    []string `json:"buttons"`
	Links      []string `json:"links"`
	MenuItems  []string `json:"menuitems"`
	Roles      []string `json:"roles"`
}

// DOMNode is one element of a bounded DOM summary
type DOMNode struct {
	Tag       string     `json:"tag"`
	ID        string     `json:"id,omitempty"`
	TestID    string     `json:"testid,omitempty"`
	Class     string     `json:"class,omitempty"`
	Role      string     `json:"role,omitempty"`
	AriaLabel string     `json:"aria-label,omitempty"`
	Text      string     `json:"text,omitempty"`
	Children  []*DOMNode `json:"children,omitempty"`
}

// BuildInventory extracts up to limit distinct values per category from html
func BuildInventory(html string, limit int) (*Inventory, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	inv := &Inventory{
		TestIDs:    collectAttr(doc, "[data-testid]", "data-testid", limit),
		AriaLabels: collectAttr(doc, "[aria-label]", "aria-label", limit),
		Buttons:    collectText(doc, `button, [role="button"], input[type="submit"], input[type="button"]`, limit),
		Links:      collectText(doc, `a[href], [role="link"]`, limit),
		MenuItems:  collectText(doc, `[role="menuitem"]`, limit),
		Roles:      []string{"button", "link", "menuitem"},
	}
	return inv, nil
}

func collectAttr(doc *goquery.Document, selector, attr string, limit int) []string {
	out := []string{}
	seen := make(map[string]bool)
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		v, _ := s.Attr(attr)
		v = strings.TrimSpace(v)
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
		return true
	})
	return out
}

func collectText(doc *goquery.Document, selector string, limit int) []string {
	out := []string{}
	seen := make(map[string]bool)
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		txt := locator.NormalizeSpace(s.Text())
		if txt == "" {
			txt, _ = s.Attr("value")
			txt = strings.TrimSpace(txt)
		}
		if txt != "" && !seen[txt] {
			seen[txt] = true
			out = append(out, txt)
		}
		return true
	})
	return out
}

// SummarizeDOM returns the body as a tree limited to maxDepth levels and
// maxChildren children per node
func SummarizeDOM(html string, maxDepth, maxChildren int) (*DOMNode, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return nil, fmt.Errorf("page has no body")
	}
	return summarize(body, 0, maxDepth, maxChildren), nil
}

func summarize(s *goquery.Selection, depth, maxDepth, maxChildren int) *DOMNode {
	node := &DOMNode{Tag: goquery.NodeName(s)}
	node.ID, _ = s.Attr("id")
	node.TestID, _ = s.Attr("data-testid")
	node.Class, _ = s.Attr("class")
	node.Role, _ = s.Attr("role")
	node.AriaLabel, _ = s.Attr("aria-label")
	node.Text = truncate(locator.NormalizeSpace(s.Text()), summaryText)

	if depth >= maxDepth {
		return node
	}
	s.Children().EachWithBreak(func(i int, c *goquery.Selection) bool {
		if i >= maxChildren {
			return false
		}
		switch goquery.NodeName(c) {
		case "script", "style", "noscript":
			return true
		}
		node.Children = append(node.Children, summarize(c, depth+1, maxDepth, maxChildren))
		return true
	})
	return node
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
