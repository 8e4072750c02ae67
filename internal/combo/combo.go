// Package combo defines the expansion rules: combos, groups and the combo
// list document. A combo maps a typed keyword to a snippet template; groups
// organize combos and gate them with a shared enabled flag.
package combo

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// MatchingMode selects how a keyword is recognized in the typed stream.
type MatchingMode string

const (
	// MatchStrict requires the keyword as a whole token bounded by
	// non-word characters, fired by a boundary character.
	MatchStrict MatchingMode = "strict"

	// MatchLoose fires as soon as the keyword is the trailing text,
	// no boundary required.
	MatchLoose MatchingMode = "loose"
)

// Valid reports whether the mode is a known value.
func (m MatchingMode) Valid() bool {
	return m == MatchStrict || m == MatchLoose
}

// CaseSensitivity selects how keyword characters are compared.
type CaseSensitivity string

const (
	// CaseDefault defers to the global default_case_sensitive setting.
	CaseDefault CaseSensitivity = "default"

	// CaseSensitive compares keyword characters exactly.
	CaseSensitive CaseSensitivity = "sensitive"

	// CaseInsensitive compares keyword characters case-folded.
	CaseInsensitive CaseSensitivity = "insensitive"
)

// Valid reports whether the sensitivity is a known value.
func (c CaseSensitivity) Valid() bool {
	return c == CaseDefault || c == CaseSensitive || c == CaseInsensitive
}

// Combo is one expansion rule. Fields other than LastUsedAt are immutable
// while the combo is indexed; edits go through the store, which replaces
// the definition. LastUsedAt is written only by the engine loop.
type Combo struct {
	ID              string          `json:"uuid"`
	Name            string          `json:"name"`
	Keyword         string          `json:"keyword"`
	Snippet         string          `json:"snippet"`
	MatchingMode    MatchingMode    `json:"matchingMode"`
	CaseSensitivity CaseSensitivity `json:"caseSensitivity"`
	Enabled         bool            `json:"enabled"`
	GroupID         string          `json:"group,omitempty"`
	CreatedAt       time.Time       `json:"created"`
	ModifiedAt      time.Time       `json:"modified"`
	LastUsedAt      time.Time       `json:"lastUsed,omitzero"`
}

// New creates an enabled Strict combo with default case sensitivity.
func New(name, keyword, snippet string) *Combo {
	now := time.Now()
	return &Combo{
		ID:              uuid.NewString(),
		Name:            name,
		Keyword:         keyword,
		Snippet:         snippet,
		MatchingMode:    MatchStrict,
		CaseSensitivity: CaseDefault,
		Enabled:         true,
		CreatedAt:       now,
		ModifiedAt:      now,
	}
}

// Validate checks the combo definition. Invalid combos are rejected at
// creation and never reach the index.
func (c *Combo) Validate() error {
	if c.ID == "" {
		return &ConfigurationError{ComboID: c.ID, Field: "uuid", Message: "missing id"}
	}
	if c.Keyword == "" {
		return &ConfigurationError{ComboID: c.ID, Field: "keyword", Message: "keyword is empty"}
	}
	for _, r := range c.Keyword {
		if unicode.IsSpace(r) {
			return &ConfigurationError{ComboID: c.ID, Field: "keyword", Message: "keyword contains whitespace"}
		}
		if !unicode.IsPrint(r) {
			return &ConfigurationError{ComboID: c.ID, Field: "keyword", Message: "keyword contains a non-printable character"}
		}
	}
	if c.MatchingMode != "" && !c.MatchingMode.Valid() {
		return &ConfigurationError{ComboID: c.ID, Field: "matchingMode", Message: "unknown matching mode " + string(c.MatchingMode)}
	}
	if c.CaseSensitivity != "" && !c.CaseSensitivity.Valid() {
		return &ConfigurationError{ComboID: c.ID, Field: "caseSensitivity", Message: "unknown case sensitivity " + string(c.CaseSensitivity)}
	}
	return nil
}

// Normalize fills unset enum fields with their defaults. Documents written
// by hand often omit them.
func (c *Combo) Normalize() {
	if c.MatchingMode == "" {
		c.MatchingMode = MatchStrict
	}
	if c.CaseSensitivity == "" {
		c.CaseSensitivity = CaseDefault
	}
	if c.Name == "" {
		c.Name = c.Keyword
	}
}

// EffectiveCaseSensitive resolves the combo's case mode against the global
// default.
func (c *Combo) EffectiveCaseSensitive(defaultSensitive bool) bool {
	switch c.CaseSensitivity {
	case CaseSensitive:
		return true
	case CaseInsensitive:
		return false
	default:
		return defaultSensitive
	}
}

// MatchKeyword returns the keyword in the form the index stores it:
// case-folded unless the combo compares sensitively.
func (c *Combo) MatchKeyword(defaultSensitive bool) string {
	return NormalizeKeyword(c.Keyword, c.EffectiveCaseSensitive(defaultSensitive))
}

// MarkUsed stamps a successful fire.
func (c *Combo) MarkUsed(at time.Time) {
	c.LastUsedAt = at
}

// Touch stamps an edit.
func (c *Combo) Touch() {
	c.ModifiedAt = time.Now()
}

// Clone returns a copy of the combo.
func (c *Combo) Clone() *Combo {
	dup := *c
	return &dup
}

// NormalizeKeyword canonicalizes a keyword for lookup. Case-insensitive
// keywords fold to lower case.
func NormalizeKeyword(keyword string, caseSensitive bool) string {
	if caseSensitive {
		return keyword
	}
	return strings.ToLower(keyword)
}
