// internal/reporting/recommendations.go
package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

const maxRecommendations = 10

// Keyword groups used to grade a complaint. A complaint about conversion is
// high impact; one about wording is cheap to fix.
var (
	conversionTerms  = []string{"price", "pricing", "cost", "checkout", "sign up", "signup", "trial", "demo", "contact", "buy", "plan"}
	findabilityTerms = []string{"navigation", "menu", "find", "search", "confusing", "unclear", "hard", "link", "slow"}
	copyTerms        = []string{"text", "wording", "copy", "jargon", "font", "color", "colour", "label", "image", "headline"}
	structureTerms   = []string{"layout", "navigation", "menu", "page", "structure", "footer", "header"}
)

// candidate accumulates the personas behind one recommendation.
type candidate struct {
	text   string
	impact schemas.Level
	effort schemas.Level
	who    map[string]struct{}
	order  int
}

type recommender struct {
	byKey map[string]*candidate
	next  int
}

func (r *recommender) add(key, text string, impact, effort schemas.Level, persona string) {
	c, ok := r.byKey[key]
	if !ok {
		c = &candidate{text: text, impact: impact, effort: effort, who: map[string]struct{}{}, order: r.next}
		r.next++
		r.byKey[key] = c
	}
	c.who[persona] = struct{}{}
}

// recommendations derives the ranked improvement list. Score is impact weight
// times the number of personas that ran into the issue; ties go to the
// cheaper fix, then to the issue seen first.
func recommendations(reports []schemas.PersonaReport) []schemas.Recommendation {
	rec := &recommender{byKey: map[string]*candidate{}}
	for _, r := range reports {
		name := r.Persona.Name
		for _, p := range r.Pages {
			for _, d := range p.Dislikes {
				key := insightKey(d)
				if key == "" {
					continue
				}
				rec.add("dislike:"+key, "Address: "+strings.TrimSpace(d), gradeImpact(key), gradeEffort(key), name)
			}
		}
		for _, g := range r.Persona.Goals {
			if st := r.Goals[g].Status; st == schemas.GoalMet || len(r.Pages) == 0 {
				continue
			}
			key := insightKey(g)
			rec.add("goal:"+key, fmt.Sprintf("Make it easier to %s", key), schemas.LevelHigh, schemas.LevelMedium, name)
		}
		for _, c := range r.CTAs {
			if c.State != schemas.CTAIgnored {
				continue
			}
			key := insightKey(c.Label)
			rec.add("cta:"+key, fmt.Sprintf("Rework the %q call to action", c.Label), schemas.LevelMedium, schemas.LevelLow, name)
		}
	}

	all := make([]*candidate, 0, len(rec.byKey))
	for _, c := range rec.byKey {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		si, sj := all[i].impact.Weight()*len(all[i].who), all[j].impact.Weight()*len(all[j].who)
		if si != sj {
			return si > sj
		}
		if all[i].effort.Weight() != all[j].effort.Weight() {
			return all[i].effort.Weight() < all[j].effort.Weight()
		}
		return all[i].order < all[j].order
	})
	if len(all) > maxRecommendations {
		all = all[:maxRecommendations]
	}

	out := make([]schemas.Recommendation, len(all))
	for i, c := range all {
		out[i] = schemas.Recommendation{
			Text:      c.text,
			Impact:    c.impact,
			Effort:    c.effort,
			Priority:  i + 1,
			Frequency: len(c.who),
			Score:     c.impact.Weight() * len(c.who),
		}
	}
	return out
}

func gradeImpact(key string) schemas.Level {
	switch {
	case containsAny(key, conversionTerms):
		return schemas.LevelHigh
	case containsAny(key, findabilityTerms):
		return schemas.LevelMedium
	}
	return schemas.LevelLow
}

func gradeEffort(key string) schemas.Level {
	switch {
	case containsAny(key, copyTerms):
		return schemas.LevelLow
	case containsAny(key, structureTerms):
		return schemas.LevelMedium
	}
	return schemas.LevelHigh
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
