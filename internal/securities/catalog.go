// Package securities is the read-only reference catalog that maps a broker
// security number to its canonical symbol and name.
package securities

import (
	"strings"

	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// Resolver maps a raw security-number cell to exactly one Security.
type Resolver interface {
	Resolve(number string) (domain.Security, bool)
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	entries map[string][]domain.Security
}

// NewCatalog indexes the given entries by normalized security number.
// Identical repeated entries collapse into one; conflicting entries for the
// same number make that number unresolvable.
func NewCatalog(entries []domain.Security) *Catalog {
	c := &Catalog{entries: make(map[string][]domain.Security, len(entries))}
	for _, e := range entries {
		key := NormalizeNumber(e.SecurityNumber)
		if key == "" {
			continue
		}
		e.SecurityNumber = key
		e.Symbol = strings.TrimSpace(e.Symbol)
		e.CompanyName = strings.TrimSpace(e.CompanyName)
		e.IndexName = strings.TrimSpace(e.IndexName)

		dup := false
		for _, existing := range c.entries[key] {
			if existing == e {
				dup = true
				break
			}
		}
		if !dup {
			c.entries[key] = append(c.entries[key], e)
		}
	}
	return c
}

// Resolve returns the Security for number only when exactly one catalog entry
// matches. There is no fuzzy matching.
func (c *Catalog) Resolve(number string) (domain.Security, bool) {
	if c == nil {
		return domain.Security{}, false
	}
	matches := c.entries[NormalizeNumber(number)]
	if len(matches) != 1 {
		return domain.Security{}, false
	}
	return matches[0], true
}

// Ambiguous reports whether number has more than one conflicting entry.
func (c *Catalog) Ambiguous(number string) bool {
	return c != nil && len(c.entries[NormalizeNumber(number)]) > 1
}

// Len is the number of distinct security numbers.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// NormalizeNumber cleans a security-number cell. Purely numeric identifiers
// lose their leading zeros; anything with letters (ISINs) is upper-cased.
// Returns "" when nothing usable is left.
func NormalizeNumber(raw string) string {
	s := cells.Clean(raw)
	s = strings.ReplaceAll(s, " ", "")
	if cells.IsPlaceholder(s) {
		return ""
	}
	digits := true
	for _, r := range s {
		if r < '0' || r > '9' {
			digits = false
			break
		}
	}
	if digits {
		s = strings.TrimLeft(s, "0")
		return s
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return ""
		}
	}
	return strings.ToUpper(s)
}

var _ Resolver = (*Catalog)(nil)
