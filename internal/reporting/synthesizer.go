// internal/reporting/synthesizer.go
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// Synthesizer aggregates persona reports into a focus-group report. The
// aggregation is deterministic; only the executive overview may come from
// the reasoning service.
type Synthesizer struct {
	narrator schemas.ReasoningService
	logger   *zap.Logger
	now      func() time.Time
}

// NewSynthesizer creates a Synthesizer. narrator may be nil, in which case
// the overview is always the deterministic one.
func NewSynthesizer(narrator schemas.ReasoningService, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{narrator: narrator, logger: logger.Named("synthesizer"), now: time.Now}
}

// Synthesize builds the focus-group report for url. The input reports are
// never modified. Any failure, a panic included, is returned as a
// *schemas.SynthesisError.
func (s *Synthesizer) Synthesize(ctx context.Context, url string, reports []schemas.PersonaReport) (out *schemas.FocusGroupReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Report synthesis panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = nil
			err = &schemas.SynthesisError{Reasons: []string{fmt.Sprintf("panic: %v", r)}}
		}
	}()

	if len(reports) == 0 {
		return nil, &schemas.SynthesisError{Reasons: []string{"no persona reports to aggregate"}}
	}
	var reasons []string
	for i := range reports {
		if vErr := reports[i].Validate(); vErr != nil {
			reasons = append(reasons, vErr.Error())
		}
	}
	if len(reasons) > 0 {
		return nil, &schemas.SynthesisError{Reasons: reasons}
	}

	report := &schemas.FocusGroupReport{
		ID:             uuid.NewString(),
		URL:            url,
		GeneratedAt:    s.now(),
		CommonPatterns: commonPatterns(reports),
		PersonaReports: append([]schemas.PersonaReport(nil), reports...),
	}

	summary := schemas.ExecutiveSummary{Participants: len(reports), TopInsights: topInsights(reports)}
	for _, r := range reports {
		report.Journeys = append(report.Journeys, journey(r))
		if r.Failed() {
			summary.Failed++
			report.Failures = append(report.Failures, schemas.PersonaFailure{
				Persona: r.Persona.Name,
				Status:  r.Status,
				Reason:  firstNonEmpty(r.FailureReason, r.ExitReason),
			})
			continue
		}
		summary.Succeeded++
	}
	report.Recommendations = recommendations(reports)
	summary.Overview = s.overview(ctx, url, report, summary)
	report.ExecutiveSummary = summary

	s.logger.Info("Focus group report synthesized",
		zap.String("url", url),
		zap.Int("participants", summary.Participants),
		zap.Int("failed", summary.Failed),
		zap.Int("recommendations", len(report.Recommendations)))
	return report, nil
}

func (s *Synthesizer) overview(ctx context.Context, url string, report *schemas.FocusGroupReport, summary schemas.ExecutiveSummary) string {
	fallback := deterministicOverview(url, report, summary)
	if s.narrator == nil {
		return fallback
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these focus group results for %s:\n\n", url)
	fmt.Fprintf(&b, "Number of Participants: %d (%d could not finish)\n", summary.Participants, summary.Failed)
	writeCounts(&b, "Common Likes", report.CommonPatterns.Likes)
	writeCounts(&b, "Common Dislikes", report.CommonPatterns.Dislikes)
	writeCounts(&b, "Common Expectations", report.CommonPatterns.Expectations)
	b.WriteString("\nTop Recommendations:\n")
	for _, r := range firstRecs(report.Recommendations, 3) {
		fmt.Fprintf(&b, "%d. %s (impact %s, effort %s)\n", r.Priority, r.Text, r.Impact, r.Effort)
	}
	b.WriteString(`
Provide a concise summary of:
1. Key patterns across personas
2. Notable differences between personas
3. Main recommendations`)

	response, err := s.narrator.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You are a UX research lead summarizing a website focus group for a business audience.",
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Purpose:      schemas.PurposeFocusGroupSummary,
		Options:      schemas.GenerationOptions{Temperature: 0.3},
	})
	if err != nil || strings.TrimSpace(response) == "" {
		if err == nil {
			err = errors.New("empty summary")
		}
		s.logger.Warn("Focus group overview unavailable, using summary", zap.Error(err))
		return fallback
	}
	return strings.TrimSpace(response)
}

func deterministicOverview(url string, report *schemas.FocusGroupReport, summary schemas.ExecutiveSummary) string {
	allMet := 0
	for _, r := range report.PersonaReports {
		if r.Status == schemas.StatusStoppedGoalMet {
			allMet++
		}
	}
	msg := fmt.Sprintf("%d personas explored %s; %d finished, %d reached every goal.",
		summary.Participants, url, summary.Succeeded, allMet)
	if len(summary.TopInsights) > 0 {
		msg += fmt.Sprintf(" Most shared observation: %q.", summary.TopInsights[0].Text)
	}
	if len(report.Recommendations) > 0 {
		msg += fmt.Sprintf(" Top recommendation: %s.", strings.TrimRight(report.Recommendations[0].Text, "."))
	}
	return msg
}

func writeCounts(b *strings.Builder, title string, items []schemas.InsightCount) {
	fmt.Fprintf(b, "\n%s:\n", title)
	if len(items) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s (%d)\n", it.Text, it.Count)
	}
}

func firstRecs(recs []schemas.Recommendation, n int) []schemas.Recommendation {
	if len(recs) > n {
		return recs[:n]
	}
	return recs
}

// ToPersisted projects a focus-group report onto its storage shape.
func ToPersisted(r *schemas.FocusGroupReport) schemas.PersistedReport {
	recs := make([]schemas.PersistedRecommendation, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		recs[i] = schemas.PersistedRecommendation{Text: rec.Text, Impact: rec.Impact, Effort: rec.Effort, Priority: rec.Priority}
	}
	return schemas.PersistedReport{
		URL:              r.URL,
		Timestamp:        r.GeneratedAt,
		Personas:         r.ExecutiveSummary.Participants,
		ExecutiveSummary: r.ExecutiveSummary,
		UserJourneys:     append([]schemas.JourneyNarrative(nil), r.Journeys...),
		CommonPatterns:   r.CommonPatterns,
		Recommendations:  recs,
	}
}
