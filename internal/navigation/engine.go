// internal/navigation/engine.go
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/llmutil"
)

// Candidate is a filtered, scored outbound link.
type Candidate struct {
	URL   string         `json:"url"`
	Text  string         `json:"text"`
	Score RelevanceScore `json:"score"`
}

// Decision is the outcome of one navigation decision.
type Decision struct {
	// NextURL is set when the session should continue.
	NextURL string
	Reason  string
	// Fallback is true when the reasoning choice was unusable and the top
	// ranked candidate was taken instead.
	Fallback bool

	Stop   bool
	Status schemas.SessionStatus
	// Err carries the cause of a stopped_error decision.
	Err error

	Candidates []Candidate
}

// navigationChoice is the JSON reply expected from the reasoning service.
type navigationChoice struct {
	ChosenURL string `json:"chosen_url"`
	Reason    string `json:"reason"`
}

// Engine picks the next page a persona visits.
type Engine struct {
	cfg      config.NavigationConfig
	scorer   Scorer
	llm      schemas.ReasoningService
	denylist *Denylist
	logger   *zap.Logger
}

// NewEngine creates a decision engine. llm is expected to be governed.
func NewEngine(cfg config.NavigationConfig, scorer Scorer, llm schemas.ReasoningService, logger *zap.Logger) (*Engine, error) {
	if scorer == nil {
		return nil, errors.New("navigation engine requires a scorer")
	}
	if llm == nil {
		return nil, errors.New("navigation engine requires a reasoning service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopCandidates <= 0 {
		cfg.TopCandidates = 5
	}
	return &Engine{
		cfg:      cfg,
		scorer:   scorer,
		llm:      llm,
		denylist: NewDenylist(cfg.Denylist),
		logger:   logger.Named("navigation"),
	}, nil
}

// Candidates filters the observation's links and returns the survivors that
// score at or above the low relevance threshold, best first. Links flagged
// repetitive rank below fresh ones of similar value. Ties keep page order.
func (e *Engine) Candidates(p schemas.Persona, obs *schemas.PageObservation, mem *Memory) []Candidate {
	if obs == nil {
		return nil
	}
	current, err := Normalize(obs.EffectiveURL(), "")
	if err != nil {
		current = obs.EffectiveURL()
	}

	seen := make(map[string]struct{})
	var out []Candidate
	for _, link := range obs.Links {
		target, err := Normalize(link.URL, current)
		if err != nil {
			continue
		}
		if target == current {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		if mem != nil && mem.HasVisited(target) {
			continue
		}
		if e.cfg.SameSiteOnly && !SameSite(target, current) {
			continue
		}
		if kws := e.denylist.Match(target, link.Text); len(kws) > 0 && !ExemptedBy(kws, p.Goals) {
			e.logger.Debug("Skipping administrative link",
				zap.String("url", target), zap.Strings("keywords", kws))
			continue
		}

		scored := link
		scored.URL = target
		score := e.scorer.Score(p, scored, obs, mem)
		if score.Value < e.cfg.LowRelevanceThreshold {
			continue
		}
		out = append(out, Candidate{URL: target, Text: strings.TrimSpace(link.Text), Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Score) > rank(out[j].Score)
	})
	return out
}

// repetitionRank discounts links whose content an earlier page already
// summarized when ordering candidates.
const repetitionRank = 0.5

func rank(s RelevanceScore) float64 {
	if s.Repetitive {
		return s.Value * repetitionRank
	}
	return s.Value
}

// Decide produces the next URL or a stop signal. It makes at most one
// reasoning call and, when it continues, appends exactly one path entry.
func (e *Engine) Decide(ctx context.Context, p schemas.Persona, obs *schemas.PageObservation, current *schemas.PageAnalysis, mem *Memory) Decision {
	candidates := e.Candidates(p, obs, mem)
	if len(candidates) == 0 {
		e.logger.Info("No candidate links left", zap.String("persona", p.Name))
		return Decision{Stop: true, Status: schemas.StatusStoppedIrrelevant, Reason: ExitNoCandidates}
	}

	top := candidates
	if len(top) > e.cfg.TopCandidates {
		top = top[:e.cfg.TopCandidates]
	}

	decision := Decision{Candidates: candidates}
	req := schemas.GenerationRequest{
		SystemPrompt: PersonaSystemPrompt(p),
		UserPrompt:   e.decisionPrompt(p, obs, current, mem, top),
		Tier:         schemas.TierFast,
		Purpose:      schemas.PurposeNavigation,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	}

	response, err := e.llm.Generate(ctx, req)
	switch {
	case errors.Is(err, schemas.ErrRateLimitExceeded):
		e.logger.Error("Navigation decision exhausted the call budget", zap.String("persona", p.Name), zap.Error(err))
		return Decision{Stop: true, Status: schemas.StatusStoppedError, Reason: ExitReasoningLimit, Err: err, Candidates: candidates}
	case err != nil:
		e.logger.Warn("Navigation reasoning call failed, using top candidate", zap.String("persona", p.Name), zap.Error(err))
		e.fallback(&decision, candidates)
	default:
		choice, ok := e.parseChoice(response, candidates)
		if ok {
			decision.NextURL = choice.ChosenURL
			decision.Reason = strings.TrimSpace(choice.Reason)
		} else {
			e.logger.Warn("Navigation choice outside candidate set, using top candidate",
				zap.String("persona", p.Name),
				zap.String("response", llmutil.Truncate(response, 300)))
			e.fallback(&decision, candidates)
		}
	}

	if decision.Reason == "" {
		for _, c := range candidates {
			if c.URL == decision.NextURL {
				decision.Reason = fmt.Sprintf("Link %q looked most relevant", c.Text)
				break
			}
		}
	}
	mem.NoteDecision(decision.NextURL, decision.Reason)
	mem.MarkCTAClicked(decision.NextURL)

	e.logger.Info("Navigation decided",
		zap.String("persona", p.Name),
		zap.String("next_url", decision.NextURL),
		zap.Bool("fallback", decision.Fallback))
	return decision
}

func (e *Engine) fallback(d *Decision, candidates []Candidate) {
	best := candidates[0]
	d.NextURL = best.URL
	d.Fallback = true
	reason := fmt.Sprintf("Highest relevance link %q (score %.2f)", best.Text, best.Score.Value)
	if best.Score.AddressesGoal != "" {
		reason += fmt.Sprintf(" for goal %q", best.Score.AddressesGoal)
	}
	d.Reason = reason
}

// parseChoice accepts a JSON reply or, failing that, a reply whose last line
// holds a URL. The URL must name a filtered candidate.
func (e *Engine) parseChoice(response string, candidates []Candidate) (navigationChoice, bool) {
	choice, err := llmutil.ParseJSONResponse[navigationChoice](response)
	if err != nil || strings.TrimSpace(choice.ChosenURL) == "" {
		raw, ok := llmutil.LastURL(response)
		if !ok {
			return navigationChoice{}, false
		}
		choice = &navigationChoice{ChosenURL: raw}
	}
	target, err := Normalize(choice.ChosenURL, "")
	if err != nil {
		return navigationChoice{}, false
	}
	for _, c := range candidates {
		if c.URL == target {
			choice.ChosenURL = target
			return *choice, true
		}
	}
	return navigationChoice{}, false
}

// -- Prompts --

// PersonaSystemPrompt puts the reasoning service in character as p.
func PersonaSystemPrompt(p schemas.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", p.Name)
	if p.Role != "" {
		fmt.Fprintf(&b, ", a %s", p.Role)
	}
	fmt.Fprintf(&b, " with %s technical experience, browsing a website.\n", p.ExperienceLevel.Normalize())
	fmt.Fprintf(&b, "Interests: %s\n", strings.Join(p.Interests, ", "))
	fmt.Fprintf(&b, "Needs: %s\n", strings.Join(p.Needs, ", "))
	fmt.Fprintf(&b, "Goals: %s\n", strings.Join(p.Goals, ", "))
	b.WriteString("Behave like a goal-directed visitor, not a crawler. Stay in character.")
	return b.String()
}

func (e *Engine) decisionPrompt(p schemas.Persona, obs *schemas.PageObservation, current *schemas.PageAnalysis, mem *Memory, top []Candidate) string {
	var b strings.Builder
	b.WriteString("Current Page Analysis:\n")
	fmt.Fprintf(&b, "- URL: %s\n", obs.EffectiveURL())
	if current != nil {
		fmt.Fprintf(&b, "- Summary: %s\n", current.Summary)
		fmt.Fprintf(&b, "- Likes: %s\n", strings.Join(current.Likes, ", "))
		fmt.Fprintf(&b, "- Dislikes: %s\n", strings.Join(current.Dislikes, ", "))
	}

	b.WriteString("\nGoal Progress:\n")
	snapshot := mem.GoalSnapshot()
	for _, g := range mem.Goals() {
		fmt.Fprintf(&b, "- %s: %s\n", g, snapshot[g].Status)
	}

	b.WriteString("\nPreviously visited pages (most recent first):\n")
	b.WriteString(FormatDigest(mem.ContextDigest(e.cfg.ContextWindow)))

	b.WriteString("\n\nCandidate links (ranked by relevance):\n")
	for i, c := range top {
		fmt.Fprintf(&b, "%d. %s | %q | score %.2f", i+1, c.URL, c.Text, c.Score.Value)
		if c.Score.AddressesGoal != "" {
			fmt.Fprintf(&b, " | goal: %s", c.Score.AddressesGoal)
		}
		b.WriteByte('\n')
	}

	b.WriteString(`
Choose the single most promising link for your goals, considering what you
have already learned and what is still missing. Respond with one JSON object:
{"chosen_url": "<one of the candidate URLs>", "reason": "<one sentence, in character>"}`)
	return b.String()
}
