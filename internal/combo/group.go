package combo

import (
	"time"

	"github.com/google/uuid"
)

// DefaultGroupName is the display name of the group created at
// initialization.
const DefaultGroupName = "Default"

// Group organizes combos. A disabled group disables all its combos.
type Group struct {
	ID        string    `json:"uuid"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Default   bool      `json:"default,omitempty"`
	CreatedAt time.Time `json:"created"`
}

// NewGroup creates an enabled group.
func NewGroup(name string) *Group {
	return &Group{
		ID:        uuid.NewString(),
		Name:      name,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
}

// newDefaultGroup creates the Default group. Exactly one exists per list;
// it cannot be deleted and receives combos with no explicit group.
func newDefaultGroup() *Group {
	g := NewGroup(DefaultGroupName)
	g.Default = true
	return g
}

// Validate checks the group definition.
func (g *Group) Validate() error {
	if g.ID == "" {
		return &ConfigurationError{Field: "group.uuid", Message: "missing id"}
	}
	if g.Name == "" {
		return &ConfigurationError{Field: "group.name", Message: "group name is empty"}
	}
	return nil
}

// Clone returns a copy of the group.
func (g *Group) Clone() *Group {
	dup := *g
	return &dup
}
