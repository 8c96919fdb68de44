package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ExperienceLevel is a coarse measure of how technical a persona is.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceExpert       ExperienceLevel = "expert"
)

// Normalize maps free-form experience descriptions onto the three known levels.
// Unknown values are treated as intermediate.
func (l ExperienceLevel) Normalize() ExperienceLevel {
	s := strings.ToLower(strings.TrimSpace(string(l)))
	switch {
	case s == "":
		return ExperienceIntermediate
	case strings.Contains(s, "begin"), strings.Contains(s, "novice"), strings.Contains(s, "junior"), strings.Contains(s, "non-technical"):
		return ExperienceBeginner
	case strings.Contains(s, "expert"), strings.Contains(s, "senior"), strings.Contains(s, "advanced"), strings.Contains(s, "principal"):
		return ExperienceExpert
	default:
		return ExperienceIntermediate
	}
}

// Persona is a synthetic visitor profile. It is treated as immutable once a
// session has started with it.
type Persona struct {
	Name            string            `json:"name" yaml:"name"`
	Role            string            `json:"role" yaml:"role"`
	ExperienceLevel ExperienceLevel   `json:"experience_level" yaml:"experience_level"`
	Interests       []string          `json:"interests" yaml:"interests"`
	Needs           []string          `json:"needs" yaml:"needs"`
	Goals           []string          `json:"goals" yaml:"goals"`
	Details         map[string]string `json:"details,omitempty" yaml:"details,omitempty"`
}

// Validate enforces the fields every session depends on.
func (p Persona) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("persona name is required"))
	}
	if len(p.Goals) == 0 {
		errs = append(errs, fmt.Errorf("persona %q must declare at least one goal", p.Name))
	}
	for i, g := range p.Goals {
		if strings.TrimSpace(g) == "" {
			errs = append(errs, fmt.Errorf("persona %q goal %d is empty", p.Name, i))
		}
	}
	return errors.Join(errs...)
}

// PersonaTemplate seeds the generation of persona variations.
type PersonaTemplate struct {
	Role              string `json:"role" yaml:"role"`
	ExperienceLevel   string `json:"experience_level" yaml:"experience_level"`
	PrimaryGoal       string `json:"primary_goal" yaml:"primary_goal"`
	Context           string `json:"context" yaml:"context"`
	AdditionalDetails string `json:"additional_details,omitempty" yaml:"additional_details,omitempty"`
}

// Validate checks that a template carries enough to generate from.
func (t PersonaTemplate) Validate() error {
	if strings.TrimSpace(t.Role) == "" || strings.TrimSpace(t.PrimaryGoal) == "" {
		return errors.New("persona template requires a role and a primary goal")
	}
	return nil
}
