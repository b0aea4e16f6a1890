// Package preset holds the reserved admin login identifiers and their fixed credentials.
package preset

import (
	"strings"

	"lab-access/backend/internal/provisioning/domain"
)

// Table is an immutable lookup from login identifier to admin preset.
// The zero value is an empty table.
type Table struct {
	m map[string]domain.AdminPreset
}

// NewTable builds a Table from presets. Later entries with the same identifier replace earlier ones.
func NewTable(presets ...domain.AdminPreset) *Table {
	m := make(map[string]domain.AdminPreset, len(presets))
	for _, p := range presets {
		m[p.Identifier] = p
	}
	return &Table{m: m}
}

// Default returns the built-in admin presets.
func Default() *Table {
	return NewTable(
		domain.AdminPreset{Identifier: "A0001", Email: "venkatesh@eee.sastra.edu", Secret: "admin1", DisplayName: "T. Venkatesh"},
		domain.AdminPreset{Identifier: "A0002", Email: "126179012@sastra.ac.in", Secret: "admin2", DisplayName: "Karthikeya"},
		domain.AdminPreset{Identifier: "A0003", Email: "126179030@sastra.ac.in", Secret: "admin3", DisplayName: "Vaishnavi"},
	)
}

// Resolve returns a copy of the preset for identifier, if any. Matching is exact
// after trimming surrounding whitespace.
func (t *Table) Resolve(identifier string) (*domain.AdminPreset, bool) {
	if t == nil {
		return nil, false
	}
	p, ok := t.m[strings.TrimSpace(identifier)]
	if !ok {
		return nil, false
	}
	return &p, true
}

// Identifiers returns the reserved identifiers in no particular order.
func (t *Table) Identifiers() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.m))
	for id := range t.m {
		out = append(out, id)
	}
	return out
}
