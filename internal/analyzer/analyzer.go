// internal/analyzer/analyzer.go
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/llmutil"
	"github.com/xkilldash9x/focusgroup/internal/navigation"
)

// Caps applied to the lists of a parsed analysis.
const (
	maxLikes        = 3
	maxDislikes     = 3
	maxClickReasons = 2
	maxExpectations = 2
	maxVisualNotes  = 5
)

// pageVerdict is the JSON reply expected for a page analysis.
type pageVerdict struct {
	Summary           string               `json:"summary"`
	Likes             []string             `json:"likes"`
	Dislikes          []string             `json:"dislikes"`
	ClickReasons      []string             `json:"click_reasons"`
	NextExpectations  []string             `json:"next_expectations"`
	VisualAnalysis    []string             `json:"visual_analysis"`
	OverallImpression string               `json:"overall_impression"`
	GoalUpdates       []schemas.GoalUpdate `json:"goal_updates"`
}

// Analyzer turns a page observation into a PageAnalysis from the persona's
// point of view.
type Analyzer struct {
	llm        schemas.ReasoningService
	scorer     navigation.Scorer
	logger     *zap.Logger
	maxContent int
	now        func() time.Time
}

// New creates an Analyzer. llm is expected to be governed.
func New(llm schemas.ReasoningService, scorer navigation.Scorer, logger *zap.Logger) (*Analyzer, error) {
	if llm == nil {
		return nil, errors.New("analyzer requires a reasoning service")
	}
	if scorer == nil {
		scorer = navigation.NewKeywordScorer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		llm:        llm,
		scorer:     scorer,
		logger:     logger.Named("analyzer"),
		maxContent: DefaultMaxContent,
		now:        time.Now,
	}, nil
}

// Analyze produces the analysis of obs as step of the journey. Failures of
// the reasoning call degrade the analysis instead of failing; only an
// exhausted call budget is returned as an error.
func (a *Analyzer) Analyze(ctx context.Context, p schemas.Persona, obs *schemas.PageObservation, step int) (*schemas.PageAnalysis, error) {
	start := a.now()
	cleaned := Preprocess(obs.Text, a.maxContent)

	result := &schemas.PageAnalysis{
		Step:       step,
		URL:        obs.EffectiveURL(),
		Title:      obs.Title,
		CTAs:       DetectCTAs(obs),
		AnalyzedAt: start,
	}

	req := schemas.GenerationRequest{
		SystemPrompt: navigation.PersonaSystemPrompt(p),
		UserPrompt:   a.analysisPrompt(p, obs, cleaned),
		Tier:         schemas.TierFast,
		Purpose:      schemas.PurposePageAnalysis,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.4},
	}
	if len(obs.Screenshot) > 0 {
		req.Attachments = []schemas.Attachment{{MIMEType: schemas.ScreenshotMIMEType, Data: obs.Screenshot}}
	}
	response, err := a.llm.Generate(ctx, req)
	if errors.Is(err, schemas.ErrRateLimitExceeded) {
		return nil, err
	}

	var verdict *pageVerdict
	if err == nil {
		verdict, err = llmutil.ParseJSONResponse[pageVerdict](response)
	}
	if err != nil {
		a.logger.Warn("Page analysis degraded",
			zap.String("persona", p.Name), zap.String("url", result.URL), zap.Error(err))
		result.Summary = "Analysis unavailable: " + llmutil.Truncate(err.Error(), 200)
		result.OverallImpression = "Analysis failed"
		result.Degraded = true
		result.VisualAnalysis = clip(obs.VisualNotes, maxVisualNotes)
		result.RelevanceScore = a.scorer.ScorePage(p, obs.Title+"\n"+cleaned)
		return result, nil
	}

	result.Summary = strings.TrimSpace(verdict.Summary)
	result.Likes = clip(verdict.Likes, maxLikes)
	result.Dislikes = clip(verdict.Dislikes, maxDislikes)
	result.ClickReasons = clip(verdict.ClickReasons, maxClickReasons)
	result.NextExpectations = clip(verdict.NextExpectations, maxExpectations)
	result.VisualAnalysis = clip(verdict.VisualAnalysis, maxVisualNotes)
	result.OverallImpression = strings.TrimSpace(verdict.OverallImpression)
	result.GoalUpdates = validUpdates(verdict.GoalUpdates)

	relevanceText := strings.Join([]string{
		obs.Title, cleaned, result.Summary,
		strings.Join(result.Likes, " "), strings.Join(result.ClickReasons, " "),
	}, "\n")
	result.RelevanceScore = a.scorer.ScorePage(p, relevanceText)

	a.logger.Info("Page analyzed",
		zap.String("persona", p.Name),
		zap.Int("step", step),
		zap.String("url", result.URL),
		zap.Float64("relevance", result.RelevanceScore),
		zap.Duration("took", a.now().Sub(start)))
	return result, nil
}

func (a *Analyzer) analysisPrompt(p schemas.Persona, obs *schemas.PageObservation, cleaned string) string {
	headers := obs.Sections[schemas.SectionHeaders]
	if strings.TrimSpace(headers) == "" {
		headers = ExtractHeaders(cleaned)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this webpage as %s.\n\n", p.Name)
	fmt.Fprintf(&b, "Key Interests: %s\n", strings.Join(firstN(p.Interests, 3), ", "))
	fmt.Fprintf(&b, "Primary Needs: %s\n", strings.Join(firstN(p.Needs, 3), ", "))
	b.WriteString("Goals:\n")
	for _, g := range p.Goals {
		fmt.Fprintf(&b, "- %s\n", g)
	}
	fmt.Fprintf(&b, "\nURL: %s\nTitle: %s\n", obs.EffectiveURL(), obs.Title)
	fmt.Fprintf(&b, "\nPage Headers:\n%s\n", headers)
	fmt.Fprintf(&b, "\nMain Content:\n%s\n", ExtractMainContent(p, cleaned))
	if nav := strings.TrimSpace(obs.Sections[schemas.SectionNav]); nav != "" {
		fmt.Fprintf(&b, "\nNavigation:\n%s\n", llmutil.Truncate(nav, 300))
	}
	if len(obs.VisualNotes) > 0 {
		fmt.Fprintf(&b, "\nLayout Notes:\n- %s\n", strings.Join(obs.VisualNotes, "\n- "))
	}
	b.WriteString(`
Respond with one JSON object:
{
  "summary": "<brief overview>",
  "likes": ["<top 3, content and visuals in a 2:1 ratio>"],
  "dislikes": ["<top 3, content and visuals in a 2:1 ratio>"],
  "click_reasons": ["<max 2>"],
  "next_expectations": ["<max 2>"],
  "visual_analysis": ["<key layout, color, font and navigation elements>"],
  "overall_impression": "<one sentence>",
  "goal_updates": [{"goal": "<goal text as listed>", "status": "not_started|partially_met|met|blocked", "evidence": "<what on this page shows it>"}]
}`)
	return b.String()
}

// -- Final conclusion --

// Conclude asks the persona for a closing verdict on the whole visit. A
// failed call yields a deterministic summary instead.
func (a *Analyzer) Conclude(ctx context.Context, p schemas.Persona, mem *navigation.Memory, coverage float64) string {
	goals := mem.GoalSnapshot()
	met := 0
	for _, g := range goals {
		if g.Status == schemas.GoalMet {
			met++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Provide a concise final conclusion about your experience on this website.\n\n")
	fmt.Fprintf(&b, "Pages Analyzed: %d\n", mem.VisitedCount())
	fmt.Fprintf(&b, "Information Coverage: %.0f%%\n", coverage*100)
	fmt.Fprintf(&b, "Average Satisfaction: %.0f%%\n", mem.AverageSatisfaction()*100)
	fmt.Fprintf(&b, "Goals Met: %d of %d\n", met, len(goals))
	var ctas []string
	for _, c := range mem.CTAs() {
		ctas = append(ctas, fmt.Sprintf("%s (%s)", c.Label, c.State))
	}
	if len(ctas) == 0 {
		ctas = []string{"None"}
	}
	fmt.Fprintf(&b, "Calls To Action: %s\n", strings.Join(ctas, ", "))
	fmt.Fprintf(&b, "\nVisited pages:\n%s\n", navigation.FormatDigest(mem.ContextDigest(3)))
	b.WriteString(`
In 3-4 sentences: evaluate how well the website meets your needs and goals,
highlight key strengths and weaknesses, and make a final recommendation.`)

	response, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: navigation.PersonaSystemPrompt(p),
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Purpose:      schemas.PurposeFinalConclusion,
		Options:      schemas.GenerationOptions{Temperature: 0.5},
	})
	if err == nil && strings.TrimSpace(response) != "" {
		return strings.TrimSpace(response)
	}
	a.logger.Warn("Final conclusion unavailable, using summary", zap.String("persona", p.Name), zap.Error(err))
	return fmt.Sprintf("Visited %d pages with %.0f%% information coverage; %d of %d goals met.",
		mem.VisitedCount(), coverage*100, met, len(goals))
}

// -- Helpers --

func clip(items []string, n int) []string {
	out := make([]string, 0, n)
	for _, it := range items {
		if it = strings.TrimSpace(strings.TrimLeft(it, "-• ")); it == "" {
			continue
		}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func validUpdates(in []schemas.GoalUpdate) []schemas.GoalUpdate {
	var out []schemas.GoalUpdate
	for _, u := range in {
		if strings.TrimSpace(u.Goal) == "" || !u.Status.Valid() {
			continue
		}
		out = append(out, u)
	}
	return out
}
