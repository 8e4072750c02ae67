package combo

import (
	"fmt"
	"strings"
)

// FormatVersion is the combo list document version this build writes.
const FormatVersion = 1

// List is the combo list document: all groups and combos, enabled or not.
type List struct {
	FormatVersion int      `json:"fileFormatVersion"`
	Groups        []*Group `json:"groups"`
	Combos        []*Combo `json:"combos"`
}

// NewList creates an empty list holding only the Default group.
func NewList() *List {
	l := &List{FormatVersion: FormatVersion}
	l.EnsureDefaultGroup()
	return l
}

// EnsureDefaultGroup guarantees exactly one Default group and returns it.
// Called at load and after every mutation that removes groups.
func (l *List) EnsureDefaultGroup() *Group {
	var def *Group
	for _, g := range l.Groups {
		if g.Default {
			if def == nil {
				def = g
			} else {
				g.Default = false
			}
		}
	}
	if def == nil {
		def = newDefaultGroup()
		l.Groups = append([]*Group{def}, l.Groups...)
	}
	return def
}

// DefaultGroup returns the Default group, creating it if absent.
func (l *List) DefaultGroup() *Group {
	return l.EnsureDefaultGroup()
}

// FindGroup returns the group with the given id, or nil.
func (l *List) FindGroup(id string) *Group {
	for _, g := range l.Groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// FindCombo returns the combo with the given id, or nil.
func (l *List) FindCombo(id string) *Combo {
	for _, c := range l.Combos {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// FindByKeyword returns all combos with the given raw keyword.
func (l *List) FindByKeyword(keyword string) []*Combo {
	var out []*Combo
	for _, c := range l.Combos {
		if c.Keyword == keyword {
			out = append(out, c)
		}
	}
	return out
}

// AddGroup appends a group after validation.
func (l *List) AddGroup(g *Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if l.FindGroup(g.ID) != nil {
		return &ConfigurationError{Field: "group.uuid", Message: "duplicate group id " + g.ID}
	}
	l.Groups = append(l.Groups, g)
	return nil
}

// RemoveGroup deletes a group and cascades deletion to its combos.
// The Default group cannot be removed.
func (l *List) RemoveGroup(id string) error {
	g := l.FindGroup(id)
	if g == nil {
		return fmt.Errorf("group %s not found", id)
	}
	if g.Default {
		return fmt.Errorf("the %s group cannot be deleted", DefaultGroupName)
	}

	kept := l.Groups[:0]
	for _, grp := range l.Groups {
		if grp.ID != id {
			kept = append(kept, grp)
		}
	}
	l.Groups = kept

	keptCombos := l.Combos[:0]
	for _, c := range l.Combos {
		if c.GroupID != id {
			keptCombos = append(keptCombos, c)
		}
	}
	l.Combos = keptCombos
	return nil
}

// AddCombo validates and appends a combo. Combos without a group land in
// the Default group.
func (l *List) AddCombo(c *Combo) error {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	if l.FindCombo(c.ID) != nil {
		return &ConfigurationError{ComboID: c.ID, Field: "uuid", Message: "duplicate combo id"}
	}
	if c.GroupID == "" {
		c.GroupID = l.DefaultGroup().ID
	} else if l.FindGroup(c.GroupID) == nil {
		return &ConfigurationError{ComboID: c.ID, Field: "group", Message: "unknown group " + c.GroupID}
	}
	l.Combos = append(l.Combos, c)
	return nil
}

// RemoveCombo deletes a combo by id.
func (l *List) RemoveCombo(id string) bool {
	for i, c := range l.Combos {
		if c.ID == id {
			l.Combos = append(l.Combos[:i], l.Combos[i+1:]...)
			return true
		}
	}
	return false
}

// Active returns the combos that participate in matching: enabled combos
// whose group is enabled, in list order.
func (l *List) Active() []*Combo {
	groupEnabled := make(map[string]bool, len(l.Groups))
	for _, g := range l.Groups {
		groupEnabled[g.ID] = g.Enabled
	}

	var active []*Combo
	for _, c := range l.Combos {
		if !c.Enabled {
			continue
		}
		if c.GroupID != "" && !groupEnabled[c.GroupID] {
			continue
		}
		active = append(active, c)
	}
	return active
}

// Clone deep-copies the list.
func (l *List) Clone() *List {
	dup := &List{FormatVersion: l.FormatVersion}
	dup.Groups = make([]*Group, len(l.Groups))
	for i, g := range l.Groups {
		dup.Groups[i] = g.Clone()
	}
	dup.Combos = make([]*Combo, len(l.Combos))
	for i, c := range l.Combos {
		dup.Combos[i] = c.Clone()
	}
	return dup
}

// ConflictKind classifies an authoring-time keyword conflict.
type ConflictKind string

const (
	// ConflictDuplicate marks several active combos sharing one keyword.
	// At fire time one of them is chosen at random.
	ConflictDuplicate ConflictKind = "duplicate"

	// ConflictShadowed marks a keyword that can never be typed to
	// completion because an active Loose keyword is a proper suffix of
	// it and fires first.
	ConflictShadowed ConflictKind = "shadowed"
)

// Conflict describes one detected keyword conflict.
type Conflict struct {
	Kind       ConflictKind `json:"kind"`
	Keyword    string       `json:"keyword"`
	ComboIDs   []string     `json:"comboIds"`
	ShadowedBy string       `json:"shadowedBy,omitempty"`
}

// Conflicts reports duplicate and shadowed keywords among active combos.
// Comparison is case-folded, matching the most permissive lookup.
func (l *List) Conflicts() []Conflict {
	active := l.Active()

	byKeyword := make(map[string][]*Combo)
	for _, c := range active {
		folded := strings.ToLower(c.Keyword)
		byKeyword[folded] = append(byKeyword[folded], c)
	}

	var conflicts []Conflict
	for folded, combos := range byKeyword {
		if len(combos) < 2 {
			continue
		}
		ids := make([]string, len(combos))
		for i, c := range combos {
			ids[i] = c.ID
		}
		conflicts = append(conflicts, Conflict{
			Kind:     ConflictDuplicate,
			Keyword:  folded,
			ComboIDs: ids,
		})
	}

	for _, c := range active {
		folded := strings.ToLower(c.Keyword)
		for _, other := range active {
			if other.ID == c.ID || other.MatchingMode != MatchLoose {
				continue
			}
			otherFolded := strings.ToLower(other.Keyword)
			if len(otherFolded) < len(folded) && strings.HasSuffix(folded, otherFolded) {
				conflicts = append(conflicts, Conflict{
					Kind:       ConflictShadowed,
					Keyword:    c.Keyword,
					ComboIDs:   []string{c.ID},
					ShadowedBy: other.ID,
				})
				break
			}
		}
	}

	return conflicts
}
