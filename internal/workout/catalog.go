package workout

import (
	"cmp"
	"slices"
)

// Catalog is a set of templates.
type Catalog []Template

// Find returns the template with id.
func (c Catalog) Find(id string) (Template, bool) {
	for _, t := range c {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Sorted returns a copy of c ordered by id.
func (c Catalog) Sorted() Catalog {
	out := slices.Clone(c)
	slices.SortFunc(out, func(a, b Template) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
