// internal/persona/generator.go
package persona

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/llmutil"
)

const maxListItems = 5

// MaxVariations bounds how many personas one template may produce.
const MaxVariations = 20

const generatorSystemPrompt = "You design realistic, distinct website visitor personas for usability research. " +
	"Reply with YAML only."

// generatedPersona is the YAML shape requested from the model.
type generatedPersona struct {
	Name      string   `yaml:"name"`
	Interests []string `yaml:"interests"`
	Needs     []string `yaml:"needs"`
	Goals     []string `yaml:"goals"`
}

// Generator derives persona variations from a template, one reasoning call
// per variation.
type Generator struct {
	llm    schemas.ReasoningService
	logger *zap.Logger
}

// NewGenerator creates a Generator. llm is expected to be governed.
func NewGenerator(llm schemas.ReasoningService, logger *zap.Logger) (*Generator, error) {
	if llm == nil {
		return nil, errors.New("persona generator requires a reasoning service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: llm, logger: logger.Named("persona_generator")}, nil
}

// Generate produces up to n distinct personas from t. Variations whose call
// or reply fails are skipped; an error is returned only when none succeed or
// the call budget is exhausted.
func (g *Generator) Generate(ctx context.Context, t schemas.PersonaTemplate, n int) ([]schemas.Persona, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 || n > MaxVariations {
		return nil, fmt.Errorf("persona count must be between 1 and %d, got %d", MaxVariations, n)
	}

	personas := make([]schemas.Persona, 0, n)
	var failures []error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return personas, err
		}
		p, err := g.variation(ctx, t, i+1, n, personas)
		if errors.Is(err, schemas.ErrRateLimitExceeded) {
			return personas, err
		}
		if err != nil {
			g.logger.Warn("Persona variation failed", zap.Int("variation", i+1), zap.Error(err))
			failures = append(failures, err)
			continue
		}
		personas = append(personas, p)
		g.logger.Debug("Persona generated", zap.String("name", p.Name), zap.Int("variation", i+1))
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("no valid personas could be generated: %w", errors.Join(failures...))
	}
	g.logger.Info("Persona variations generated",
		zap.String("role", t.Role), zap.Int("requested", n), zap.Int("generated", len(personas)))
	return personas, nil
}

func (g *Generator) variation(ctx context.Context, t schemas.PersonaTemplate, index, total int, existing []schemas.Persona) (schemas.Persona, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: generatorSystemPrompt,
		UserPrompt:   variationPrompt(t, index, total, existing),
		Tier:         schemas.TierFast,
		Purpose:      schemas.PurposePersonaGeneration,
		Options:      schemas.GenerationOptions{Temperature: 0.9},
	}
	response, err := g.llm.Generate(ctx, req)
	if err != nil {
		return schemas.Persona{}, err
	}
	gp, err := parseVariation(response)
	if err != nil {
		return schemas.Persona{}, err
	}

	p := schemas.Persona{
		Name:            strings.TrimSpace(gp.Name),
		Role:            t.Role,
		ExperienceLevel: schemas.ExperienceLevel(t.ExperienceLevel).Normalize(),
		Interests:       cleanList(gp.Interests),
		Needs:           cleanList(gp.Needs),
		Goals:           cleanList(gp.Goals),
		Details:         map[string]string{"context": t.Context, "primary_goal": t.PrimaryGoal},
	}
	if t.AdditionalDetails != "" {
		p.Details["additional_details"] = t.AdditionalDetails
	}
	if err := p.Validate(); err != nil {
		return schemas.Persona{}, err
	}
	for _, other := range existing {
		if strings.EqualFold(other.Name, p.Name) {
			return schemas.Persona{}, fmt.Errorf("duplicate persona name %q", p.Name)
		}
	}
	return p, nil
}

func variationPrompt(t schemas.PersonaTemplate, index, total int, existing []schemas.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create persona variation %d of %d for:\n\n", index, total)
	fmt.Fprintf(&b, "Role: %s\n", t.Role)
	fmt.Fprintf(&b, "Experience Level: %s\n", t.ExperienceLevel)
	fmt.Fprintf(&b, "Primary Goal: %s\n", t.PrimaryGoal)
	fmt.Fprintf(&b, "Context: %s\n", t.Context)
	details := t.AdditionalDetails
	if details == "" {
		details = "None"
	}
	fmt.Fprintf(&b, "\nAdditional Details:\n%s\n", details)
	if len(existing) > 0 {
		b.WriteString("\nAlready created (make this one clearly different):\n")
		for _, p := range existing {
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, strings.Join(p.Goals, "; "))
		}
	}
	b.WriteString(`
Provide a name, 5 specific interests related to the role and context, 5 concrete needs and 5 goals
they want to achieve on a website. Format the persona as YAML, like this example (do not copy it):
name: "John Smith"
interests:
  - "Cloud architecture"
needs:
  - "Remote collaboration tools"
goals:
  - "Find remote contract work"`)
	return b.String()
}

var fencePattern = regexp.MustCompile("(?s)```(?:ya?ml)?\\s*\\n(.*?)```")

// parseVariation reads the first YAML persona in a reply, tolerating code
// fences and document separators.
func parseVariation(response string) (*generatedPersona, error) {
	body := response
	if m := fencePattern.FindStringSubmatch(response); m != nil {
		body = m[1]
	}
	for _, doc := range strings.Split(body, "\n---") {
		doc = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(doc), "---"))
		if doc == "" {
			continue
		}
		var gp generatedPersona
		if err := yaml.Unmarshal([]byte(doc), &gp); err != nil {
			continue
		}
		if strings.TrimSpace(gp.Name) == "" || len(gp.Goals) == 0 {
			continue
		}
		return &gp, nil
	}
	return nil, fmt.Errorf("%w: no persona in reply %q", schemas.ErrMalformedReasoningResponse, llmutil.Truncate(response, 120))
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
		if len(out) == maxListItems {
			break
		}
	}
	return out
}
