package store

import (
	"encoding/json"
	"fmt"
	"os"

	"expandd/internal/combo"
)

// ExportCombos writes the selected combos and the groups they belong to
// as a regular combo list document. An empty ids slice exports the whole
// list.
func (s *Store) ExportCombos(path string, ids []string) error {
	s.mu.RLock()
	list := s.list.Clone()
	s.mu.RUnlock()

	doc := list
	if len(ids) > 0 {
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}

		doc = &combo.List{FormatVersion: combo.FormatVersion}
		usedGroups := make(map[string]bool)
		for _, c := range list.Combos {
			if !wanted[c.ID] {
				continue
			}
			doc.Combos = append(doc.Combos, c)
			usedGroups[c.GroupID] = true
		}
		if len(doc.Combos) == 0 {
			return fmt.Errorf("no combos matched the requested ids")
		}
		for _, g := range list.Groups {
			if usedGroups[g.ID] {
				doc.Groups = append(doc.Groups, g)
			}
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	data = append(data, '\n')

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

// ImportCombos merges the combo list document at path into the store and
// saves. Combos whose id already exists are replaced when merge is true
// and skipped when merge is false. Groups are matched by id; a document's
// Default group maps onto the store's Default group instead of being
// added twice. Returns how many combos were imported.
func (s *Store) ImportCombos(path string, merge bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import: %w", err)
	}
	doc, err := s.decodeDocument(data)
	if err != nil {
		return 0, err
	}

	imported := 0
	err = s.mutate(func(l *combo.List) error {
		groupMap := make(map[string]string, len(doc.Groups))
		for _, g := range doc.Groups {
			switch {
			case g.Default:
				groupMap[g.ID] = l.DefaultGroup().ID
			case l.FindGroup(g.ID) != nil:
				groupMap[g.ID] = g.ID
			default:
				if err := l.AddGroup(g.Clone()); err != nil {
					return err
				}
				groupMap[g.ID] = g.ID
			}
		}

		for _, c := range doc.Combos {
			dup := c.Clone()
			if mapped, ok := groupMap[dup.GroupID]; ok {
				dup.GroupID = mapped
			} else {
				dup.GroupID = l.DefaultGroup().ID
			}

			if existing := l.FindCombo(dup.ID); existing != nil {
				if !merge {
					continue
				}
				*existing = *dup
				imported++
				continue
			}
			if err := l.AddCombo(dup); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}
