// internal/navigation/exit.go
package navigation

import (
	"fmt"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

// Exit reasons reported alongside the terminal status.
const (
	ExitBotChallenge   = "Bot challenge detected"
	ExitGoalsMet       = "All goals met"
	ExitLowRelevance   = "Website lacks relevant content"
	ExitNoCandidates   = "No relevant links to explore"
	ExitBudget         = "Page budget exhausted"
	ExitCancelled      = "cancelled"
	ExitReasoningLimit = "Reasoning provider rate limit exceeded"
)

// ExitDecision is the verdict of the ExitPolicy after a page.
type ExitDecision struct {
	Stop   bool
	Status schemas.SessionStatus
	Reason string
}

// Continue is the zero decision.
var Continue = ExitDecision{}

// ExitPolicy decides after each page whether a session stops.
type ExitPolicy struct {
	MaxPages  int
	Threshold float64
	K         int
}

// NewExitPolicy builds the policy from navigation settings.
func NewExitPolicy(cfg config.NavigationConfig) *ExitPolicy {
	return &ExitPolicy{
		MaxPages:  cfg.MaxPages,
		Threshold: cfg.LowRelevanceThreshold,
		K:         cfg.ConsecutiveLowLimit,
	}
}

// Evaluate applies the stop rules in order; the first match wins.
//  1. bot challenge
//  2. every goal met
//  3. the last K page relevances all below the threshold
//  4. page budget reached
func (p *ExitPolicy) Evaluate(obs *schemas.PageObservation, mem *Memory) ExitDecision {
	if obs != nil && obs.BotChallenge {
		return ExitDecision{Stop: true, Status: schemas.StatusStoppedBotDetected, Reason: ExitBotChallenge}
	}
	if mem == nil {
		return Continue
	}
	if mem.AllGoalsMet() {
		return ExitDecision{Stop: true, Status: schemas.StatusStoppedGoalMet, Reason: ExitGoalsMet}
	}
	if p.K > 0 {
		recent := mem.RecentRelevance(p.K)
		if len(recent) == p.K && allBelow(recent, p.Threshold) {
			return ExitDecision{
				Stop:   true,
				Status: schemas.StatusStoppedIrrelevant,
				Reason: fmt.Sprintf("%s (%d consecutive pages below %.2f)", ExitLowRelevance, p.K, p.Threshold),
			}
		}
	}
	if p.MaxPages > 0 && mem.VisitedCount() >= p.MaxPages {
		return ExitDecision{Stop: true, Status: schemas.StatusCompleted, Reason: ExitBudget}
	}
	return Continue
}

func allBelow(values []float64, threshold float64) bool {
	for _, v := range values {
		if v >= threshold {
			return false
		}
	}
	return true
}
