package schemas

import "time"

// GoalStatus tracks how far a persona has come toward one goal.
type GoalStatus string

const (
	GoalNotStarted   GoalStatus = "not_started"
	GoalPartiallyMet GoalStatus = "partially_met"
	GoalMet          GoalStatus = "met"
	GoalBlocked      GoalStatus = "blocked"
)

// Valid reports whether s is one of the known statuses.
func (s GoalStatus) Valid() bool {
	switch s {
	case GoalNotStarted, GoalPartiallyMet, GoalMet, GoalBlocked:
		return true
	}
	return false
}

// GoalProgress is the current status of a goal plus an evidence note.
type GoalProgress struct {
	Status   GoalStatus `json:"status"`
	Evidence string     `json:"evidence,omitempty"`
}

// GoalUpdate is a status change for one goal proposed while analyzing a page.
type GoalUpdate struct {
	Goal     string     `json:"goal"`
	Status   GoalStatus `json:"status"`
	Evidence string     `json:"evidence,omitempty"`
}

// CTAState records how a persona interacted with a call to action.
type CTAState string

const (
	CTANoticed CTAState = "noticed"
	CTAClicked CTAState = "clicked"
	CTAIgnored CTAState = "ignored"
)

// CTA is a call-to-action descriptor encountered during a session.
type CTA struct {
	Label   string   `json:"label"`
	URL     string   `json:"url"`
	PageURL string   `json:"page_url"`
	State   CTAState `json:"state"`
}

// PageAnalysis is the immutable verdict produced for one visited page.
type PageAnalysis struct {
	Step              int          `json:"step"`
	URL               string       `json:"url"`
	Title             string       `json:"title"`
	Summary           string       `json:"summary"`
	Likes             []string     `json:"likes"`
	Dislikes          []string     `json:"dislikes"`
	ClickReasons      []string     `json:"click_reasons"`
	NextExpectations  []string     `json:"next_expectations"`
	VisualAnalysis    []string     `json:"visual_analysis"`
	OverallImpression string       `json:"overall_impression"`
	RelevanceScore    float64      `json:"relevance_score"`
	GoalUpdates       []GoalUpdate `json:"goal_updates,omitempty"`
	CTAs              []CTA        `json:"ctas,omitempty"`
	Degraded          bool         `json:"degraded,omitempty"`
	AnalyzedAt        time.Time    `json:"analyzed_at"`
}

// Insights flattens the likes, dislikes and expectations of the analysis.
func (a *PageAnalysis) Insights() []string {
	out := make([]string, 0, len(a.Likes)+len(a.Dislikes)+len(a.NextExpectations))
	out = append(out, a.Likes...)
	out = append(out, a.Dislikes...)
	out = append(out, a.NextExpectations...)
	return out
}

// PathEntry is one step of the navigation timeline.
type PathEntry struct {
	Step   int       `json:"step"`
	URL    string    `json:"url"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
