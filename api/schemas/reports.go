package schemas

import (
	"errors"
	"fmt"
	"time"
)

// SessionStatus is the terminal status of a persona session.
type SessionStatus string

const (
	StatusCompleted          SessionStatus = "completed"
	StatusStoppedGoalMet     SessionStatus = "stopped_goal_met"
	StatusStoppedIrrelevant  SessionStatus = "stopped_irrelevant"
	StatusStoppedBotDetected SessionStatus = "stopped_bot_detected"
	StatusStoppedError       SessionStatus = "stopped_error"
)

// Failed reports whether the status counts as a failed exploration.
func (s SessionStatus) Failed() bool {
	return s == StatusStoppedBotDetected || s == StatusStoppedError
}

// PersonaReport is one persona's complete journey.
type PersonaReport struct {
	ID                  string                  `json:"id"`
	Persona             Persona                 `json:"persona"`
	StartURL            string                  `json:"start_url"`
	Status              SessionStatus           `json:"status"`
	ExitReason          string                  `json:"exit_reason"`
	FailureReason       string                  `json:"failure_reason,omitempty"`
	Pages               []PageAnalysis          `json:"pages"`
	Path                []PathEntry             `json:"path"`
	Goals               map[string]GoalProgress `json:"goals"`
	CTAs                []CTA                   `json:"ctas"`
	InformationCoverage float64                 `json:"information_coverage"`
	FinalConclusion     string                  `json:"final_conclusion"`
	StartedAt           time.Time               `json:"started_at"`
	FinishedAt          time.Time               `json:"finished_at"`
}

// Failed reports whether the session ended in a contained failure.
func (r *PersonaReport) Failed() bool {
	return r.Status.Failed()
}

// Validate checks the structural invariants of a finished report.
func (r *PersonaReport) Validate() error {
	if r == nil {
		return errors.New("persona report is nil")
	}
	if r.Persona.Name == "" {
		return errors.New("persona report has no persona name")
	}
	switch r.Status {
	case StatusCompleted, StatusStoppedGoalMet, StatusStoppedIrrelevant, StatusStoppedBotDetected, StatusStoppedError:
	default:
		return fmt.Errorf("persona report %q has unknown status %q", r.Persona.Name, r.Status)
	}
	seen := make(map[string]struct{}, len(r.Path))
	for _, p := range r.Path {
		if _, dup := seen[p.URL]; dup {
			return fmt.Errorf("persona report %q revisits %s", r.Persona.Name, p.URL)
		}
		seen[p.URL] = struct{}{}
	}
	return nil
}

// InsightCount is an insight string with the number of personas that raised it.
type InsightCount struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// ExecutiveSummary is the top section of a focus-group report.
type ExecutiveSummary struct {
	Participants int            `json:"participants"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	TopInsights  []InsightCount `json:"top_insights"`
	Overview     string         `json:"overview"`
}

// JourneyNarrative is the business narrative of one persona's journey.
type JourneyNarrative struct {
	Persona          string        `json:"persona"`
	Status           SessionStatus `json:"status"`
	FirstImpression  string        `json:"first_impression"`
	EngagementFlow   string        `json:"engagement_flow"`
	CTAEffectiveness string        `json:"cta_effectiveness"`
	ValueProposition string        `json:"value_proposition"`
	ConversionPath   string        `json:"conversion_path"`
}

// CommonPatterns holds the most frequent insights across personas.
type CommonPatterns struct {
	Likes        []InsightCount `json:"likes"`
	Dislikes     []InsightCount `json:"dislikes"`
	Expectations []InsightCount `json:"expectations"`
}

// Level is a coarse three-step scale used for impact and effort.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Weight maps a level onto a numeric weight.
func (l Level) Weight() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

// Recommendation is a prioritized improvement suggestion.
type Recommendation struct {
	Text      string `json:"text"`
	Impact    Level  `json:"impact"`
	Effort    Level  `json:"effort"`
	Priority  int    `json:"priority"`
	Frequency int    `json:"frequency"`
	Score     int    `json:"score"`
}

// PersonaFailure is a per-persona failure attached to a focus-group result.
type PersonaFailure struct {
	Persona string        `json:"persona"`
	Status  SessionStatus `json:"status"`
	Reason  string        `json:"reason"`
}

// FocusGroupReport aggregates every persona report of one focus group.
type FocusGroupReport struct {
	ID               string             `json:"id"`
	URL              string             `json:"url"`
	GeneratedAt      time.Time          `json:"generated_at"`
	ExecutiveSummary ExecutiveSummary   `json:"executive_summary"`
	Journeys         []JourneyNarrative `json:"journeys"`
	CommonPatterns   CommonPatterns     `json:"common_patterns"`
	Recommendations  []Recommendation   `json:"recommendations"`
	PersonaReports   []PersonaReport    `json:"persona_reports"`
	Failures         []PersonaFailure   `json:"failures,omitempty"`
}

// PersistedRecommendation is the stored form of a recommendation.
type PersistedRecommendation struct {
	Text     string `json:"text"`
	Impact   Level  `json:"impact"`
	Effort   Level  `json:"effort"`
	Priority int    `json:"priority"`
}

// PersistedReport is the storage shape of a focus-group report.
type PersistedReport struct {
	URL              string                    `json:"url"`
	Timestamp        time.Time                 `json:"timestamp"`
	Personas         int                       `json:"personas"`
	ExecutiveSummary ExecutiveSummary          `json:"executiveSummary"`
	UserJourneys     []JourneyNarrative        `json:"userJourneys"`
	CommonPatterns   CommonPatterns            `json:"commonPatterns"`
	Recommendations  []PersistedRecommendation `json:"recommendations"`
}
