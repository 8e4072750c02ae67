// Package store persists the combo list as a JSON document on disk.
// All mutations go through the store and are written back atomically;
// a mutation that cannot be saved leaves the in-memory list untouched.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"expandd/internal/combo"
)

// Options configure a Store.
type Options struct {
	// BackupOnSave keeps the previous document as path.bak on every save.
	BackupOnSave bool

	// Logger receives load warnings. Nil uses the default logger.
	Logger *slog.Logger
}

// Store owns the combo list file.
type Store struct {
	mu     sync.RWMutex
	path   string
	opts   Options
	logger *slog.Logger
	list   *combo.List
}

// Open loads the combo list at path, creating an empty document with the
// Default group when the file does not exist.
func Open(path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		opts:   opts,
		logger: logger,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.list = combo.NewList()
		if err := s.saveLocked(s.list); err != nil {
			return nil, err
		}
		return s, nil
	}

	list, err := s.loadFile()
	if err != nil {
		return nil, err
	}
	s.list = list
	return s, nil
}

// Path returns the combo list file.
func (s *Store) Path() string {
	return s.path
}

// List returns a deep copy of the combo list document.
func (s *Store) List() *combo.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Clone()
}

// Active returns copies of the combos that participate in matching.
func (s *Store) Active() []*combo.Combo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.list.Active()
	out := make([]*combo.Combo, len(active))
	for i, c := range active {
		out[i] = c.Clone()
	}
	return out
}

// Stats reports document totals.
func (s *Store) Stats() (groups, combos, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list.Groups), len(s.list.Combos), len(s.list.Active())
}

// Find returns a copy of the combo with the given id, or nil.
func (s *Store) Find(id string) *combo.Combo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.list.FindCombo(id); c != nil {
		return c.Clone()
	}
	return nil
}

// Add validates and appends a combo, then saves.
func (s *Store) Add(c *combo.Combo) error {
	return s.mutate(func(l *combo.List) error {
		return l.AddCombo(c.Clone())
	})
}

// Update replaces the stored definition of a combo, then saves. The
// creation timestamp is preserved; the modification timestamp is stamped.
func (s *Store) Update(c *combo.Combo) error {
	return s.mutate(func(l *combo.List) error {
		existing := l.FindCombo(c.ID)
		if existing == nil {
			return fmt.Errorf("combo %s not found", c.ID)
		}
		dup := c.Clone()
		dup.Normalize()
		if err := dup.Validate(); err != nil {
			return err
		}
		if dup.GroupID == "" {
			dup.GroupID = l.DefaultGroup().ID
		} else if l.FindGroup(dup.GroupID) == nil {
			return &combo.ConfigurationError{ComboID: dup.ID, Field: "group", Message: "unknown group " + dup.GroupID}
		}
		dup.CreatedAt = existing.CreatedAt
		dup.Touch()
		*existing = *dup
		return nil
	})
}

// Remove deletes a combo by id, then saves.
func (s *Store) Remove(id string) error {
	return s.mutate(func(l *combo.List) error {
		if !l.RemoveCombo(id) {
			return fmt.Errorf("combo %s not found", id)
		}
		return nil
	})
}

// SetComboEnabled flips a combo's enabled flag, then saves.
func (s *Store) SetComboEnabled(id string, enabled bool) error {
	return s.mutate(func(l *combo.List) error {
		c := l.FindCombo(id)
		if c == nil {
			return fmt.Errorf("combo %s not found", id)
		}
		c.Enabled = enabled
		c.Touch()
		return nil
	})
}

// AddGroup validates and appends a group, then saves.
func (s *Store) AddGroup(g *combo.Group) error {
	return s.mutate(func(l *combo.List) error {
		return l.AddGroup(g.Clone())
	})
}

// RemoveGroup deletes a group and its combos, then saves. The Default
// group cannot be removed.
func (s *Store) RemoveGroup(id string) error {
	return s.mutate(func(l *combo.List) error {
		return l.RemoveGroup(id)
	})
}

// SetGroupEnabled flips a group's enabled flag, then saves.
func (s *Store) SetGroupEnabled(id string, enabled bool) error {
	return s.mutate(func(l *combo.List) error {
		g := l.FindGroup(id)
		if g == nil {
			return fmt.Errorf("group %s not found", id)
		}
		g.Enabled = enabled
		return nil
	})
}

// MarkUsed stamps a combo's last use in memory. The stamp reaches disk
// with the next save; a fire is not worth a write per keystroke.
func (s *Store) MarkUsed(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.list.FindCombo(id); c != nil {
		c.MarkUsed(at)
	}
}

// Save writes the current in-memory list to disk.
func (s *Store) Save() error {
	return s.mutate(func(*combo.List) error { return nil })
}

// Reload replaces the in-memory list with the document on disk. On
// failure the previous list stays in effect.
func (s *Store) Reload() error {
	list, err := s.loadFile()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.list = list
	s.mu.Unlock()
	return nil
}

// mutate applies fn to a copy of the list, saves the copy, and swaps it
// in on success.
func (s *Store) mutate(fn func(*combo.List) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.list.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.list = next
	return nil
}

// saveLocked writes a list to the combo file via temp file + rename.
func (s *Store) saveLocked(list *combo.List) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode combo list: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create combo directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write combo list: %w", err)
	}

	if s.opts.BackupOnSave {
		if err := os.Rename(s.path, s.path+".bak"); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("back up combo list: %w", err)
		}
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("replace combo list: %w", err)
	}
	return nil
}

// loadFile reads, schema-checks, decodes and sanitizes the combo file.
func (s *Store) loadFile() (*combo.List, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read combo list: %w", err)
	}
	return s.decodeDocument(data)
}

func (s *Store) decodeDocument(data []byte) (*combo.List, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var list combo.List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode combo list: %w", err)
	}
	if list.FormatVersion > combo.FormatVersion {
		return nil, fmt.Errorf("combo list version %d is newer than supported version %d",
			list.FormatVersion, combo.FormatVersion)
	}

	list.EnsureDefaultGroup()
	s.sanitize(&list)
	return &list, nil
}

// sanitize drops definitions that cannot be indexed and repairs dangling
// group references. The document on disk is left as written; repairs
// persist on the next save.
func (s *Store) sanitize(list *combo.List) {
	groups := list.Groups[:0]
	for _, g := range list.Groups {
		if err := g.Validate(); err != nil {
			s.logger.Warn("dropping invalid group", "group", g.ID, "error", err)
			continue
		}
		groups = append(groups, g)
	}
	list.Groups = groups

	seen := make(map[string]bool, len(list.Combos))
	combos := list.Combos[:0]
	for _, c := range list.Combos {
		c.Normalize()
		if err := c.Validate(); err != nil {
			s.logger.Warn("dropping invalid combo", "combo", c.ID, "keyword", c.Keyword, "error", err)
			continue
		}
		if seen[c.ID] {
			s.logger.Warn("dropping combo with duplicate id", "combo", c.ID, "keyword", c.Keyword)
			continue
		}
		seen[c.ID] = true
		if c.GroupID == "" || list.FindGroup(c.GroupID) == nil {
			if c.GroupID != "" {
				s.logger.Warn("combo references unknown group, moving to default",
					"combo", c.ID, "group", c.GroupID)
			}
			c.GroupID = list.DefaultGroup().ID
		}
		combos = append(combos, c)
	}
	list.Combos = combos
}
