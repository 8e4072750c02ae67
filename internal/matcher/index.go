package matcher

import (
	"errors"
	"strings"
	"unicode/utf8"

	"expandd/internal/combo"
)

// ErrIndexInconsistency marks an index entry that disagrees with the combo
// it points at. It cannot happen through the public build path; seeing it
// means memory corruption or a bug, so the lookup panics with it.
var ErrIndexInconsistency = errors.New("combo index inconsistency")

// Index is the read-mostly keyword lookup structure built from the active
// combo set. A matcher holds it behind an atomic pointer; rebuilds swap
// the whole index, so a lookup always sees one coherent generation.
type Index struct {
	// sensitive maps raw keywords of case-sensitive combos.
	sensitive map[string][]*combo.Combo

	// insensitive maps case-folded keywords of case-insensitive combos.
	insensitive map[string][]*combo.Combo

	// extendable holds the case-folded proper prefixes of every keyword.
	// A completed match whose text is in this set may still grow into a
	// longer keyword, so firing is deferred.
	extendable map[string]struct{}

	maxLen int
	count  int
}

// BuildIndex indexes the given combos. The caller passes the active set
// (enabled combos in enabled groups); disabled definitions never reach
// the index. Insertion order is preserved per keyword so tie-breaks are
// stable between rebuilds.
func BuildIndex(combos []*combo.Combo, defaultCaseSensitive bool) *Index {
	idx := &Index{
		sensitive:   make(map[string][]*combo.Combo),
		insensitive: make(map[string][]*combo.Combo),
		extendable:  make(map[string]struct{}),
	}

	for _, c := range combos {
		if c.Validate() != nil {
			continue
		}
		key := c.MatchKeyword(defaultCaseSensitive)
		if c.EffectiveCaseSensitive(defaultCaseSensitive) {
			idx.sensitive[key] = append(idx.sensitive[key], c)
		} else {
			idx.insensitive[key] = append(idx.insensitive[key], c)
		}

		if n := utf8.RuneCountInString(c.Keyword); n > idx.maxLen {
			idx.maxLen = n
		}
		idx.count++

		folded := []rune(strings.ToLower(c.Keyword))
		for i := 1; i < len(folded); i++ {
			idx.extendable[string(folded[:i])] = struct{}{}
		}
	}

	return idx
}

// Size returns the number of indexed combos.
func (idx *Index) Size() int {
	if idx == nil {
		return 0
	}
	return idx.count
}

// Empty reports whether the index has no combos.
func (idx *Index) Empty() bool {
	return idx.Size() == 0
}

// MaxKeywordLen returns the longest indexed keyword in runes. The matcher
// sizes its rolling buffer from it.
func (idx *Index) MaxKeywordLen() int {
	if idx == nil {
		return 0
	}
	return idx.maxLen
}

// lookup returns all combos whose keyword equals the typed text under
// their case rules, in insertion order (sensitive entries first).
func (idx *Index) lookup(text string) []*combo.Combo {
	var out []*combo.Combo
	for _, c := range idx.sensitive[text] {
		if c.Keyword != text {
			panic(ErrIndexInconsistency)
		}
		out = append(out, c)
	}
	folded := strings.ToLower(text)
	for _, c := range idx.insensitive[folded] {
		if strings.ToLower(c.Keyword) != folded {
			panic(ErrIndexInconsistency)
		}
		out = append(out, c)
	}
	return out
}

// lookupLoose returns the Loose-mode subset of lookup(text).
func (idx *Index) lookupLoose(text string) []*combo.Combo {
	var out []*combo.Combo
	for _, c := range idx.lookup(text) {
		if c.MatchingMode == combo.MatchLoose {
			out = append(out, c)
		}
	}
	return out
}

// isExtendable reports whether the matched text is a proper prefix of a
// longer indexed keyword. Comparison is case-folded.
func (idx *Index) isExtendable(text string) bool {
	_, ok := idx.extendable[strings.ToLower(text)]
	return ok
}
