package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/mocks"
)

// -- Loader --

const groupFile = `
personas:
  - name: Dana
    role: small business owner
    experience_level: beginner
    interests: [invoicing]
    needs: [affordable plans]
    goals: [find pricing information]
  - name: Lee
    role: developer
    experience_level: expert
    goals: [read the API docs]
    details:
      company_size: "50"
`

func TestParse_PersonaList(t *testing.T) {
	f, err := Parse([]byte(groupFile))
	require.NoError(t, err)
	require.Len(t, f.Personas, 2)
	assert.Equal(t, "Dana", f.Personas[0].Name)
	assert.Equal(t, schemas.ExperienceExpert, f.Personas[1].ExperienceLevel)
	assert.Equal(t, "50", f.Personas[1].Details["company_size"])
	assert.Nil(t, f.Template)
}

func TestParse_BareList(t *testing.T) {
	f, err := Parse([]byte("- name: Sam\n  goals: [compare plans]\n"))
	require.NoError(t, err)
	require.Len(t, f.Personas, 1)
	assert.Equal(t, "Sam", f.Personas[0].Name)
}

func TestParse_Template(t *testing.T) {
	f, err := Parse([]byte(`
template:
  role: procurement lead
  experience_level: intermediate
  primary_goal: compare vendors
  context: mid-size manufacturer
count: 3
`))
	require.NoError(t, err)
	require.NotNil(t, f.Template)
	assert.Equal(t, "procurement lead", f.Template.Role)
	assert.Equal(t, 3, f.Count)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "persona file is empty"},
		{"personas: [", "invalid persona yaml"},
		{"{}", "no personas and no template"},
		{"template:\n  role: dev\n", "requires a role and a primary goal"},
		{"personas:\n  - name: A\n", "must declare at least one goal"},
		{"personas:\n  - {name: A, goals: [x]}\n  - {name: A, goals: [y]}\n", `duplicate name "A"`},
		{"persona:\n  - {name: A, goals: [x]}\n", "invalid persona file"},
		{"template: {role: r, primary_goal: g}\ncount: -1\n", "must not be negative"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.input))
		assert.ErrorContains(t, err, tt.want, "input %q", tt.input)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "personas.yaml")
	in := []schemas.Persona{{Name: "Dana", Role: "owner", Goals: []string{"find pricing"}}}
	require.NoError(t, WriteFile(path, in))

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, f.Personas, 1)
	assert.Equal(t, in[0].Name, f.Personas[0].Name)
	assert.Equal(t, in[0].Goals, f.Personas[0].Goals)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read persona file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "bad.yaml: persona file lists no personas")
}

// -- Generator --

func testTemplate() schemas.PersonaTemplate {
	return schemas.PersonaTemplate{
		Role:            "small business owner",
		ExperienceLevel: "non-technical",
		PrimaryGoal:     "find affordable invoicing software",
		Context:         "runs a bakery",
	}
}

func personaYAML(name string) string {
	return "```yaml\nname: \"" + name + "\"\ninterests:\n  - \"invoicing\"\nneeds:\n  - \"low price\"\ngoals:\n  - \"find pricing\"\n  - \" \"\n```"
}

func promptFor(index int) interface{} {
	marker := "variation " + string(rune('0'+index)) + " of"
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Purpose == schemas.PurposePersonaGeneration && strings.Contains(req.UserPrompt, marker)
	})
}

func setupGenerator(t *testing.T) (*Generator, *mocks.MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	llm := new(mocks.MockLLMClient)
	g, err := NewGenerator(llm, zap.New(core))
	require.NoError(t, err)
	return g, llm, logs
}

func TestGenerate_OneCallPerVariation(t *testing.T) {
	g, llm, _ := setupGenerator(t)
	llm.On("Generate", mock.Anything, promptFor(1)).Return(personaYAML("Ana"), nil).Once()
	llm.On("Generate", mock.Anything, promptFor(2)).Return(personaYAML("Ben"), nil).Once()
	llm.On("Generate", mock.Anything, promptFor(3)).Return("---\nname: Cleo\ngoals: [compare plans]\n---\n", nil).Once()

	personas, err := g.Generate(context.Background(), testTemplate(), 3)
	require.NoError(t, err)
	require.Len(t, personas, 3)
	llm.AssertNumberOfCalls(t, "Generate", 3)

	ana := personas[0]
	assert.Equal(t, "Ana", ana.Name)
	assert.Equal(t, "small business owner", ana.Role)
	assert.Equal(t, schemas.ExperienceBeginner, ana.ExperienceLevel)
	assert.Equal(t, []string{"find pricing"}, ana.Goals, "blank goals are dropped")
	assert.Equal(t, "runs a bakery", ana.Details["context"])
	assert.Equal(t, "Cleo", personas[2].Name)

	// Later prompts list earlier personas so variations stay distinct.
	last := llm.Calls[2].Arguments.Get(1).(schemas.GenerationRequest)
	assert.Contains(t, last.UserPrompt, "- Ana: find pricing")
	assert.Contains(t, last.UserPrompt, "- Ben: find pricing")
}

func TestGenerate_SkipsBadVariations(t *testing.T) {
	g, llm, logs := setupGenerator(t)
	llm.On("Generate", mock.Anything, promptFor(1)).Return(personaYAML("Ana"), nil).Once()
	llm.On("Generate", mock.Anything, promptFor(2)).Return(personaYAML("ana"), nil).Once()
	llm.On("Generate", mock.Anything, promptFor(3)).Return("I cannot help with that.", nil).Once()
	llm.On("Generate", mock.Anything, promptFor(4)).Return("", errors.New("provider down")).Once()

	personas, err := g.Generate(context.Background(), testTemplate(), 4)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, 3, logs.FilterMessage("Persona variation failed").Len())
}

func TestGenerate_Errors(t *testing.T) {
	g, llm, _ := setupGenerator(t)
	ctx := context.Background()

	_, err := g.Generate(ctx, schemas.PersonaTemplate{}, 2)
	assert.ErrorContains(t, err, "requires a role")
	_, err = g.Generate(ctx, testTemplate(), 0)
	assert.ErrorContains(t, err, "between 1 and 20")

	llm.On("Generate", mock.Anything, mock.Anything).Return("not yaml: [", nil)
	_, err = g.Generate(ctx, testTemplate(), 2)
	assert.ErrorContains(t, err, "no valid personas could be generated")
	assert.ErrorIs(t, err, schemas.ErrMalformedReasoningResponse)

	_, err = NewGenerator(nil, nil)
	assert.Error(t, err)
}

func TestGenerate_StopsOnExhaustedBudget(t *testing.T) {
	g, llm, _ := setupGenerator(t)
	llm.On("Generate", mock.Anything, promptFor(1)).Return(personaYAML("Ana"), nil).Once()
	llm.On("Generate", mock.Anything, promptFor(2)).
		Return("", &schemas.RateLimitExceededError{Caller: "persona_generator", Attempts: 3}).Once()

	personas, err := g.Generate(context.Background(), testTemplate(), 3)
	assert.ErrorIs(t, err, schemas.ErrRateLimitExceeded)
	assert.Len(t, personas, 1, "personas generated before the budget ran out are kept")
	llm.AssertNumberOfCalls(t, "Generate", 2)
}

func TestParseVariation(t *testing.T) {
	gp, err := parseVariation("Here you go:\n```yml\nname: Zed\ngoals:\n  - sign up\n```\nThanks")
	require.NoError(t, err)
	assert.Equal(t, "Zed", gp.Name)

	_, err = parseVariation("name: NoGoals\n")
	assert.ErrorIs(t, err, schemas.ErrMalformedReasoningResponse)
}
