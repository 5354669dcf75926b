package corpus

import (
	"context"
	"encoding/json"
	"net/mail"
	"os"

	"github.com/pkg/errors"
)

// Loader supplies department profiles from some source.
type Loader interface {
	// LoadProfiles returns the full profile set. Invoked at startup and on
	// explicit reload.
	LoadProfiles(ctx context.Context) ([]*DepartmentProfile, error)
}

// FileLoader reads department profiles from a JSON file.
// The file holds either a bare array of profiles or an object with a
// "departments" array.
type FileLoader struct {
	Path string
}

// NewFileLoader creates a loader for the given corpus file.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

type corpusFile struct {
	Departments []*DepartmentProfile `json:"departments"`
}

// LoadProfiles reads and validates the corpus file.
func (l *FileLoader) LoadProfiles(_ context.Context) ([]*DepartmentProfile, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read corpus file %s", l.Path)
	}

	var profiles []*DepartmentProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		var wrapped corpusFile
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, errors.Wrapf(err, "parse corpus file %s", l.Path)
		}
		profiles = wrapped.Departments
	}

	if err := ValidateProfiles(profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// ValidateProfiles checks the invariants a loaded corpus must satisfy:
// unique non-empty ids, non-empty descriptions, parseable routing emails and
// unique slot keys per profile.
func ValidateProfiles(profiles []*DepartmentProfile) error {
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return errors.Errorf("department %q has no id", p.Name)
		}
		if seen[p.ID] {
			return errors.Errorf("duplicate department id %q", p.ID)
		}
		seen[p.ID] = true

		if p.Name == "" {
			return errors.Errorf("department %q has no name", p.ID)
		}
		if p.Description == "" {
			return errors.Errorf("department %q has no description", p.ID)
		}
		if _, err := mail.ParseAddress(p.RoutingEmail); err != nil {
			return errors.Wrapf(err, "department %q routing email %q", p.ID, p.RoutingEmail)
		}

		slotKeys := make(map[string]bool, len(p.RequiredSlots))
		for _, s := range p.RequiredSlots {
			if s.Key == "" {
				return errors.Errorf("department %q has a slot with no key", p.ID)
			}
			if slotKeys[s.Key] {
				return errors.Errorf("department %q has duplicate slot key %q", p.ID, s.Key)
			}
			slotKeys[s.Key] = true
			if s.Prompt == "" {
				return errors.Errorf("department %q slot %q has no prompt", p.ID, s.Key)
			}
			if s.Validator == "cel" && s.Expr == "" {
				return errors.Errorf("department %q slot %q uses cel validator without expr", p.ID, s.Key)
			}
			if s.Validator == "choice" && len(s.Choices) == 0 {
				return errors.Errorf("department %q slot %q uses choice validator without choices", p.ID, s.Key)
			}
		}
	}
	return nil
}
