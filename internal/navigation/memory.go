// internal/navigation/memory.go
package navigation

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// Path reasons used when no decision supplied one.
const (
	ReasonInitialPage = "Initial page"
	ReasonContinued   = "Continued exploration"
)

// Memory is the navigation state of one persona session. It is owned by a
// single session and is not safe for concurrent use. Nothing is ever removed
// from it.
type Memory struct {
	logger *zap.Logger
	now    func() time.Time

	visited      map[string]struct{}
	order        []string
	summaries    map[string]string
	impressions  map[string]string
	insights     map[string][]string
	visuals      map[string][]string
	relevance    map[string]float64
	satisfaction map[string]float64

	goals        []string
	goalProgress map[string]schemas.GoalProgress

	path []schemas.PathEntry
	// pending is the URL of the trailing path entry appended by a decision
	// whose page has not been recorded yet.
	pending string

	ctas     []schemas.CTA
	ctaIndex map[string]int
}

// NewMemory creates an empty memory tracking the given goals, all starting as
// not_started.
func NewMemory(goals []string, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Memory{
		logger:       logger.Named("memory"),
		now:          time.Now,
		visited:      make(map[string]struct{}),
		summaries:    make(map[string]string),
		impressions:  make(map[string]string),
		insights:     make(map[string][]string),
		visuals:      make(map[string][]string),
		relevance:    make(map[string]float64),
		satisfaction: make(map[string]float64),
		goalProgress: make(map[string]schemas.GoalProgress, len(goals)),
		ctaIndex:     make(map[string]int),
	}
	for _, g := range goals {
		if _, dup := m.goalProgress[g]; dup {
			continue
		}
		m.goals = append(m.goals, g)
		m.goalProgress[g] = schemas.GoalProgress{Status: schemas.GoalNotStarted}
	}
	return m
}

func canonical(raw string) string {
	if n, err := Normalize(raw, ""); err == nil {
		return n
	}
	return strings.TrimSpace(raw)
}

// RecordVisit marks url as visited and stores what was derived from its
// analysis. A second call for the same URL is a logged no-op returning false.
// After a successful call the navigation path holds exactly one entry for url.
func (m *Memory) RecordVisit(url string, analysis *schemas.PageAnalysis) bool {
	key := canonical(url)
	if _, seen := m.visited[key]; seen {
		m.logger.Warn("Ignoring repeated visit record", zap.String("url", key))
		return false
	}
	m.visited[key] = struct{}{}
	m.order = append(m.order, key)

	if analysis != nil {
		m.summaries[key] = analysis.Summary
		m.impressions[key] = analysis.OverallImpression
		ins := make([]string, 0, len(analysis.Likes)+len(analysis.Dislikes)+len(analysis.ClickReasons))
		ins = append(ins, analysis.Likes...)
		ins = append(ins, analysis.Dislikes...)
		ins = append(ins, analysis.ClickReasons...)
		m.insights[key] = ins
		m.visuals[key] = append([]string(nil), analysis.VisualAnalysis...)
		m.relevance[key] = analysis.RelevanceScore
		m.satisfaction[key] = satisfaction(analysis)
	}

	if m.pending == key {
		m.pending = ""
		return true
	}
	// A decision pointed elsewhere (redirect) or none was made.
	reason := ReasonContinued
	if len(m.path) == 0 {
		reason = ReasonInitialPage
	}
	if m.pending != "" {
		reason = m.path[len(m.path)-1].Reason
		m.path = m.path[:len(m.path)-1]
		m.pending = ""
	}
	m.appendPath(key, reason)
	return true
}

func satisfaction(a *schemas.PageAnalysis) float64 {
	total := len(a.Likes) + len(a.Dislikes)
	if total == 0 {
		return 0.5
	}
	return float64(len(a.Likes)) / float64(total)
}

// NoteDecision appends the path entry for the page a decision chose. The
// entry stays pending until RecordVisit confirms it; a newer decision
// replaces a pending entry.
func (m *Memory) NoteDecision(url, reason string) {
	key := canonical(url)
	if strings.TrimSpace(reason) == "" {
		reason = ReasonContinued
	}
	if m.pending != "" {
		m.path = m.path[:len(m.path)-1]
	}
	m.pending = key
	m.appendPath(key, reason)
}

func (m *Memory) appendPath(url, reason string) {
	m.path = append(m.path, schemas.PathEntry{
		Step:   len(m.path) + 1,
		URL:    url,
		Reason: reason,
		At:     m.now(),
	})
}

// HasVisited reports whether url was recorded.
func (m *Memory) HasVisited(url string) bool {
	_, ok := m.visited[canonical(url)]
	return ok
}

// VisitedCount is the number of distinct pages recorded.
func (m *Memory) VisitedCount() int { return len(m.order) }

// Visited returns the visited URLs in visit order.
func (m *Memory) Visited() []string { return append([]string(nil), m.order...) }

// Path returns a copy of the navigation path.
func (m *Memory) Path() []schemas.PathEntry { return append([]schemas.PathEntry(nil), m.path...) }

// Summaries returns the stored page summaries in visit order.
func (m *Memory) Summaries() []string {
	out := make([]string, 0, len(m.order))
	for _, u := range m.order {
		if s := m.summaries[u]; s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AllInsights returns every stored insight in visit order.
func (m *Memory) AllInsights() []string {
	var out []string
	for _, u := range m.order {
		out = append(out, m.insights[u]...)
	}
	return out
}

// RecentRelevance returns the page relevance of the last k visits, oldest
// first. Fewer than k values are returned early in a session.
func (m *Memory) RecentRelevance(k int) []float64 {
	if k <= 0 {
		return nil
	}
	start := len(m.order) - k
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, len(m.order)-start)
	for _, u := range m.order[start:] {
		out = append(out, m.relevance[u])
	}
	return out
}

// AverageSatisfaction is the mean like/dislike ratio across pages.
func (m *Memory) AverageSatisfaction() float64 {
	if len(m.satisfaction) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range m.satisfaction {
		sum += s
	}
	return sum / float64(len(m.satisfaction))
}

// -- Context digest --

// DigestEntry is one prior visit as presented to the decision procedure.
type DigestEntry struct {
	URL        string
	Summary    string
	Impression string
	Insights   []string
	Visual     []string
	Relevance  float64
}

// ContextDigest returns at most maxItems prior visits, most recent first.
func (m *Memory) ContextDigest(maxItems int) []DigestEntry {
	if maxItems <= 0 {
		return nil
	}
	out := make([]DigestEntry, 0, maxItems)
	for i := len(m.order) - 1; i >= 0 && len(out) < maxItems; i-- {
		u := m.order[i]
		ins := m.insights[u]
		if len(ins) > 3 {
			ins = ins[:3]
		}
		out = append(out, DigestEntry{
			URL:        u,
			Summary:    m.summaries[u],
			Impression: m.impressions[u],
			Insights:   append([]string(nil), ins...),
			Visual:     append([]string(nil), m.visuals[u]...),
			Relevance:  m.relevance[u],
		})
	}
	return out
}

// FormatDigest renders digest entries as prompt text.
func FormatDigest(entries []DigestEntry) string {
	if len(entries) == 0 {
		return "No pages visited yet."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "URL: %s\n", e.URL)
		fmt.Fprintf(&b, "Relevance Score: %.2f\n", e.Relevance)
		fmt.Fprintf(&b, "Summary: %s\n", e.Summary)
		if len(e.Insights) > 0 {
			fmt.Fprintf(&b, "Key Insights: %s\n", strings.Join(e.Insights, ", "))
		}
		if len(e.Visual) > 0 {
			fmt.Fprintf(&b, "Visual Analysis: %s\n", strings.Join(e.Visual, ", "))
		}
		fmt.Fprintf(&b, "Overall Impression: %s\n\n", e.Impression)
	}
	return strings.TrimRight(b.String(), "\n")
}

// -- Goals --

// Goals returns the tracked goals in declaration order.
func (m *Memory) Goals() []string { return append([]string(nil), m.goals...) }

// GoalSnapshot returns a copy of the goal progress mapping.
func (m *Memory) GoalSnapshot() map[string]schemas.GoalProgress {
	out := make(map[string]schemas.GoalProgress, len(m.goalProgress))
	for k, v := range m.goalProgress {
		out[k] = v
	}
	return out
}

// ApplyGoalUpdates merges status changes proposed by a page analysis. A goal
// that is met stays met. Updates naming unknown goals or statuses are dropped.
func (m *Memory) ApplyGoalUpdates(updates []schemas.GoalUpdate) {
	for _, u := range updates {
		goal, ok := m.matchGoal(u.Goal)
		if !ok {
			m.logger.Debug("Dropping update for unknown goal", zap.String("goal", u.Goal))
			continue
		}
		if !u.Status.Valid() {
			m.logger.Debug("Dropping goal update with unknown status",
				zap.String("goal", goal), zap.String("status", string(u.Status)))
			continue
		}
		current := m.goalProgress[goal]
		if current.Status == schemas.GoalMet {
			continue
		}
		if u.Status == schemas.GoalNotStarted && current.Status != schemas.GoalNotStarted {
			continue
		}
		current.Status = u.Status
		if u.Evidence != "" {
			current.Evidence = u.Evidence
		}
		m.goalProgress[goal] = current
	}
}

// matchGoal finds the tracked goal an update refers to: exact, then
// case-insensitive, then by containment either way.
func (m *Memory) matchGoal(name string) (string, bool) {
	if _, ok := m.goalProgress[name]; ok {
		return name, true
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", false
	}
	for _, g := range m.goals {
		if strings.ToLower(g) == needle {
			return g, true
		}
	}
	for _, g := range m.goals {
		lg := strings.ToLower(g)
		if strings.Contains(lg, needle) || strings.Contains(needle, lg) {
			return g, true
		}
	}
	return "", false
}

// AllGoalsMet reports whether every declared goal has status met.
func (m *Memory) AllGoalsMet() bool {
	if len(m.goals) == 0 {
		return false
	}
	for _, g := range m.goals {
		if m.goalProgress[g].Status != schemas.GoalMet {
			return false
		}
	}
	return true
}

// -- Calls to action --

// NoticeCTAs records calls to action seen on a page. Already known CTAs keep
// their state.
func (m *Memory) NoticeCTAs(ctas []schemas.CTA) {
	for _, c := range ctas {
		key := canonical(c.URL)
		if _, ok := m.ctaIndex[key]; ok {
			continue
		}
		c.URL = key
		c.State = schemas.CTANoticed
		m.ctaIndex[key] = len(m.ctas)
		m.ctas = append(m.ctas, c)
	}
}

// MarkCTAClicked promotes the CTA pointing at url, if any, to clicked.
func (m *Memory) MarkCTAClicked(url string) bool {
	i, ok := m.ctaIndex[canonical(url)]
	if !ok {
		return false
	}
	m.ctas[i].State = schemas.CTAClicked
	return true
}

// FinalizeCTAs marks every CTA that was noticed but never clicked as ignored
// and returns a copy of the list.
func (m *Memory) FinalizeCTAs() []schemas.CTA {
	for i := range m.ctas {
		if m.ctas[i].State == schemas.CTANoticed {
			m.ctas[i].State = schemas.CTAIgnored
		}
	}
	return m.CTAs()
}

// CTAs returns a copy of the tracked calls to action.
func (m *Memory) CTAs() []schemas.CTA { return append([]schemas.CTA(nil), m.ctas...) }
