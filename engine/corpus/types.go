// Package corpus holds the department profiles the engine routes against.
// Profiles are immutable after load; reloads swap in a fresh snapshot so an
// in-flight classification always observes one consistent corpus version.
package corpus

import (
	"strings"
)

// SlotDefinition describes one piece of context a department requires before
// a routing request can be composed.
type SlotDefinition struct {
	Key      string `json:"key"`
	Prompt   string `json:"prompt"`
	Required bool   `json:"required"`
	// Validator names a builtin validator kind (nonempty, email, choice,
	// severity) or "cel" for an expression validator.
	Validator string   `json:"validator"`
	Choices   []string `json:"choices,omitempty"` // for the choice validator
	Expr      string   `json:"expr,omitempty"`    // for the cel validator
}

// DepartmentProfile is a static routing target.
type DepartmentProfile struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	RoutingEmail  string           `json:"routing_email"`
	Keywords      []string         `json:"keywords,omitempty"`
	RequiredSlots []SlotDefinition `json:"required_slots,omitempty"`
}

// EmbeddingText returns the text embedded to represent this department:
// the description joined with its keywords.
func (p *DepartmentProfile) EmbeddingText() string {
	if len(p.Keywords) == 0 {
		return p.Description
	}
	return p.Description + " " + strings.Join(p.Keywords, " ")
}

// Slot returns the required slot at index i, or false when i is past the end.
func (p *DepartmentProfile) Slot(i int) (SlotDefinition, bool) {
	if i < 0 || i >= len(p.RequiredSlots) {
		return SlotDefinition{}, false
	}
	return p.RequiredSlots[i], true
}

// SlotKeys returns the keys of all required slots in declaration order.
func (p *DepartmentProfile) SlotKeys() []string {
	keys := make([]string, 0, len(p.RequiredSlots))
	for _, s := range p.RequiredSlots {
		keys = append(keys, s.Key)
	}
	return keys
}

// Snapshot is one immutable corpus version.
type Snapshot struct {
	version  int64
	profiles []*DepartmentProfile
	byID     map[string]*DepartmentProfile
}

// NewSnapshot builds a snapshot from validated profiles.
func NewSnapshot(version int64, profiles []*DepartmentProfile) *Snapshot {
	byID := make(map[string]*DepartmentProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	return &Snapshot{version: version, profiles: profiles, byID: byID}
}

// Version returns the monotonically increasing corpus version.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Profiles returns all department profiles in load order.
func (s *Snapshot) Profiles() []*DepartmentProfile {
	return s.profiles
}

// Get returns the profile with the given id.
func (s *Snapshot) Get(id string) (*DepartmentProfile, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// FindByName returns the profile whose name matches, case-insensitively.
func (s *Snapshot) FindByName(name string) (*DepartmentProfile, bool) {
	name = strings.TrimSpace(name)
	for _, p := range s.profiles {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of departments.
func (s *Snapshot) Len() int {
	return len(s.profiles)
}
