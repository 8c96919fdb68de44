package schemas_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// -- Test Cases --

func TestPersonaValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid persona", func(t *testing.T) {
		p := schemas.Persona{Name: "Dana", Goals: []string{"find pricing information"}}
		assert.NoError(t, p.Validate())
	})

	t.Run("missing name and goals", func(t *testing.T) {
		err := schemas.Persona{}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name is required")
		assert.Contains(t, err.Error(), "at least one goal")
	})

	t.Run("blank goal", func(t *testing.T) {
		p := schemas.Persona{Name: "Dana", Goals: []string{"  "}}
		assert.ErrorContains(t, p.Validate(), "goal 0 is empty")
	})
}

func TestExperienceLevelNormalize(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		in       schemas.ExperienceLevel
		expected schemas.ExperienceLevel
	}{
		{"Beginner", schemas.ExperienceBeginner},
		{"non-technical founder", schemas.ExperienceBeginner},
		{"Senior engineer", schemas.ExperienceExpert},
		{"", schemas.ExperienceIntermediate},
		{"some experience", schemas.ExperienceIntermediate},
	}
	for _, tc := range testCases {
		t.Run(string(tc.in), func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.in.Normalize())
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	t.Run("bot challenge matches sentinel", func(t *testing.T) {
		err := fmt.Errorf("navigating: %w", &schemas.BotChallengeError{URL: "https://x.test", Indicator: "title"})
		assert.ErrorIs(t, err, schemas.ErrBotChallengeDetected)
	})

	t.Run("rate limited provider error", func(t *testing.T) {
		err := fmt.Errorf("call: %w", &schemas.ProviderError{Provider: "gemini", StatusCode: 429, RateLimited: true, Err: errors.New("quota")})
		assert.True(t, schemas.IsRateLimited(err))
		assert.False(t, schemas.IsRateLimited(errors.New("plain")))
	})

	t.Run("rate limit exceeded unwraps last error", func(t *testing.T) {
		last := &schemas.ProviderError{Provider: "gemini", RateLimited: true, Err: errors.New("quota")}
		err := &schemas.RateLimitExceededError{Caller: "Dana", Attempts: 3, Last: last}
		assert.ErrorIs(t, err, schemas.ErrRateLimitExceeded)
		assert.True(t, schemas.IsRateLimited(err))
	})

	t.Run("fetch error unwraps", func(t *testing.T) {
		cause := errors.New("timeout")
		err := &schemas.FetchError{URL: "https://x.test", Strategy: schemas.WaitNetworkIdle, Err: cause}
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "networkidle")
	})
}

func TestPersonaReportValidate(t *testing.T) {
	t.Parallel()

	report := &schemas.PersonaReport{
		Persona: schemas.Persona{Name: "Dana"},
		Status:  schemas.StatusCompleted,
		Path: []schemas.PathEntry{
			{Step: 1, URL: "https://x.test/"},
			{Step: 2, URL: "https://x.test/pricing"},
		},
	}
	require.NoError(t, report.Validate())

	report.Path = append(report.Path, schemas.PathEntry{Step: 3, URL: "https://x.test/"})
	assert.ErrorContains(t, report.Validate(), "revisits")

	report.Path = report.Path[:2]
	report.Status = "weird"
	assert.ErrorContains(t, report.Validate(), "unknown status")

	var nilReport *schemas.PersonaReport
	assert.Error(t, nilReport.Validate())
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()
	assert.True(t, schemas.StatusStoppedBotDetected.Failed())
	assert.True(t, schemas.StatusStoppedError.Failed())
	assert.False(t, schemas.StatusStoppedIrrelevant.Failed())
	assert.True(t, schemas.TaskFailed.Terminal())
	assert.False(t, schemas.TaskBuildingReport.Terminal())
	assert.True(t, schemas.PersonaComplete.Terminal())
	assert.Equal(t, 3, schemas.LevelHigh.Weight())
	assert.Equal(t, 0, schemas.Level("").Weight())
}
