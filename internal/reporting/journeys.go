// internal/reporting/journeys.go
package reporting

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// journey narrates one persona's PageAnalysis sequence.
func journey(r schemas.PersonaReport) schemas.JourneyNarrative {
	n := schemas.JourneyNarrative{Persona: r.Persona.Name, Status: r.Status}
	if len(r.Pages) == 0 {
		n.FirstImpression = "No page could be analyzed."
		n.EngagementFlow = fmt.Sprintf("The session ended before the first page: %s.", reasonOf(r))
		n.CTAEffectiveness = "No calls to action were seen."
		n.ValueProposition = "Not assessed."
		n.ConversionPath = conversion(r)
		return n
	}

	first := r.Pages[0]
	n.FirstImpression = firstNonEmpty(first.OverallImpression, first.Summary)

	steps := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		steps[i] = firstNonEmpty(p.Title, p.URL)
	}
	n.EngagementFlow = fmt.Sprintf("Visited %d pages (%s) and left because: %s.",
		len(r.Pages), strings.Join(steps, " > "), reasonOf(r))

	n.CTAEffectiveness = ctaEffectiveness(r.CTAs)

	var liked, disliked []string
	for _, p := range r.Pages {
		liked = append(liked, p.Likes...)
		disliked = append(disliked, p.Dislikes...)
	}
	switch {
	case len(liked) == 0 && len(disliked) == 0:
		n.ValueProposition = "No clear reaction to the offer."
	case len(disliked) == 0:
		n.ValueProposition = "Resonated: " + strings.Join(firstN(liked, 2), "; ") + "."
	case len(liked) == 0:
		n.ValueProposition = "Concerns: " + strings.Join(firstN(disliked, 2), "; ") + "."
	default:
		n.ValueProposition = fmt.Sprintf("Resonated: %s. Concerns: %s.",
			strings.Join(firstN(liked, 2), "; "), strings.Join(firstN(disliked, 2), "; "))
	}
	n.ConversionPath = conversion(r)
	return n
}

func ctaEffectiveness(ctas []schemas.CTA) string {
	if len(ctas) == 0 {
		return "No calls to action were seen."
	}
	var clicked, ignored []string
	for _, c := range ctas {
		if c.State == schemas.CTAClicked {
			clicked = append(clicked, c.Label)
		} else {
			ignored = append(ignored, c.Label)
		}
	}
	msg := fmt.Sprintf("Followed %d of %d calls to action", len(clicked), len(ctas))
	if len(clicked) > 0 {
		msg += " (" + strings.Join(clicked, ", ") + ")"
	}
	if len(ignored) > 0 {
		msg += "; ignored " + strings.Join(ignored, ", ")
	}
	return msg + "."
}

func conversion(r schemas.PersonaReport) string {
	var met, open []string
	for _, g := range r.Persona.Goals {
		if r.Goals[g].Status == schemas.GoalMet {
			met = append(met, g)
		} else {
			open = append(open, g)
		}
	}
	switch {
	case len(open) == 0 && len(met) > 0:
		return "Reached every goal: " + strings.Join(met, "; ") + "."
	case len(met) == 0:
		return "No goal was reached; open: " + strings.Join(open, "; ") + "."
	default:
		return fmt.Sprintf("Reached %s; still open: %s.", strings.Join(met, "; "), strings.Join(open, "; "))
	}
}

func reasonOf(r schemas.PersonaReport) string {
	if r.ExitReason != "" {
		return r.ExitReason
	}
	return string(r.Status)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
