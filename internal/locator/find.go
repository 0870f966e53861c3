package locator

import "context"

// Match is the result of running a Candidate against one Surface.
type Match struct {
	Surface   Surface
	Candidate Candidate
	Elements  []Element
	// Visible reports whether at least one element was visible when found.
	Visible bool
	primary int
}

// First returns the preferred element: the first visible one, or the first
// in document order when none are visible.
func (m Match) First() Element {
	if len(m.Elements) == 0 {
		return nil
	}
	return m.Elements[m.primary]
}

// Count is the number of elements the candidate matched.
func (m Match) Count() int {
	return len(m.Elements)
}

// FindIn runs c against a single surface. Query errors, such as an invalid
// selector, count as no match.
func FindIn(ctx context.Context, s Surface, c Candidate) (Match, bool) {
	if !c.Valid() {
		return Match{}, false
	}
	els, err := s.Query(ctx, c)
	if err != nil || len(els) == 0 {
		return Match{}, false
	}

	m := Match{Surface: s, Candidate: c, Elements: els}
	for i, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			m.Visible = true
			m.primary = i
			break
		}
	}
	return m, true
}

// FindInAnyFrame searches the main frame and every nested frame. The first
// surface with a visible match wins; failing that, the first surface where
// the candidate matched at all.
func FindInAnyFrame(ctx context.Context, p Page, c Candidate) (Match, bool) {
	surfaces, err := p.Surfaces(ctx)
	if err != nil || len(surfaces) == 0 {
		surfaces = []Surface{p.Main()}
	}

	var fallback Match
	found := false
	for _, s := range surfaces {
		m, ok := FindIn(ctx, s, c)
		if !ok {
			continue
		}
		if m.Visible {
			return m, true
		}
		if !found {
			fallback = m
			found = true
		}
	}
	return fallback, found
}
