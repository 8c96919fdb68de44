// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/analyzer"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/navigation"
)

// State is a step of the session state machine.
type State string

const (
	StateStarting   State = "starting"
	StateNavigating State = "navigating"
	StateAnalyzing  State = "analyzing"
	StateDeciding   State = "deciding"
	StateStopped    State = "stopped"
)

// Observer is notified of every state transition, already projected onto
// the persona states of the task status API.
type Observer func(persona string, state schemas.PersonaState, detail string)

// Deps are the collaborators of a session. LLM must already be governed.
type Deps struct {
	Fetcher     schemas.PageFetcher
	LLM         schemas.ReasoningService
	Scorer      navigation.Scorer
	Navigation  config.NavigationConfig
	FocusGroup  config.FocusGroupConfig
	Screenshots bool
	Observer    Observer
}

// outcome is the terminal verdict of the exploration loop.
type outcome struct {
	status      schemas.SessionStatus
	reason      string
	failure     string
	rateLimited bool
}

// Session runs one persona through a website. A Session is single use.
type Session struct {
	persona  schemas.Persona
	startURL string
	deps     Deps

	analyzer *analyzer.Analyzer
	engine   *navigation.Engine
	exit     *navigation.ExitPolicy
	logger   *zap.Logger
	now      func() time.Time

	state State
	mem   *navigation.Memory
	pages []schemas.PageAnalysis
}

// New validates the persona and wires a session.
func New(p schemas.Persona, startURL string, deps Deps, logger *zap.Logger) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona: %w", err)
	}
	if deps.Fetcher == nil {
		return nil, errors.New("session requires a page fetcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Scorer == nil {
		deps.Scorer = navigation.NewKeywordScorer()
	}
	logger = logger.Named("session").With(zap.String("persona", p.Name))

	a, err := analyzer.New(deps.LLM, deps.Scorer, logger)
	if err != nil {
		return nil, err
	}
	engine, err := navigation.NewEngine(deps.Navigation, deps.Scorer, deps.LLM, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		persona:  p,
		startURL: startURL,
		deps:     deps,
		analyzer: a,
		engine:   engine,
		exit:     navigation.NewExitPolicy(deps.Navigation),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// State returns the current state of the machine.
func (s *Session) State() State { return s.state }

// Run explores the site and always returns a report; failures are carried
// in the report status, never returned or raised. When ctx is cancelled the
// page step in progress is finished first.
func (s *Session) Run(ctx context.Context) (report *schemas.PersonaReport) {
	report = &schemas.PersonaReport{
		ID:        uuid.NewString(),
		Persona:   s.persona,
		StartURL:  s.startURL,
		StartedAt: s.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Persona session panicked", zap.Any("panic", r), zap.Stack("stack"))
			report.Status = schemas.StatusStoppedError
			report.ExitReason = "internal error"
			report.FailureReason = fmt.Sprintf("panic: %v", r)
			report.Pages = s.pages
			if s.mem != nil {
				report.Path = s.mem.Path()
				report.Goals = s.mem.GoalSnapshot()
				report.CTAs = s.mem.CTAs()
			}
			report.FinishedAt = s.now()
			s.transition(StateStopped, schemas.PersonaFailed, report.FailureReason)
		}
	}()

	out := s.explore(ctx)
	s.finish(context.WithoutCancel(ctx), report, out)
	return report
}

func (s *Session) explore(ctx context.Context) outcome {
	s.transition(StateStarting, schemas.PersonaNavigating, "starting")
	s.mem = navigation.NewMemory(s.persona.Goals, s.logger)

	current, err := navigation.Normalize(s.startURL, "")
	if err != nil {
		return outcome{status: schemas.StatusStoppedError, reason: "invalid start url", failure: err.Error()}
	}

	var deadline time.Time
	if s.deps.FocusGroup.SessionTimeout > 0 {
		deadline = s.now().Add(s.deps.FocusGroup.SessionTimeout)
	}

	for step := 1; ; step++ {
		if ctx.Err() != nil {
			return outcome{status: schemas.StatusCompleted, reason: navigation.ExitCancelled}
		}
		if !deadline.IsZero() && s.now().After(deadline) {
			return outcome{status: schemas.StatusCompleted, reason: "session time budget exhausted"}
		}
		stepCtx := context.WithoutCancel(ctx)

		// -- Navigating --
		s.transition(StateNavigating, schemas.PersonaNavigating, fmt.Sprintf("step %d: %s", step, current))
		obs, err := s.fetch(stepCtx, current)
		if errors.Is(err, schemas.ErrBotChallengeDetected) {
			s.logger.Warn("Bot challenge blocked the session", zap.String("url", current), zap.Int("step", step))
			return outcome{status: schemas.StatusStoppedBotDetected, reason: navigation.ExitBotChallenge, failure: err.Error()}
		}
		if err != nil {
			return outcome{status: schemas.StatusStoppedError, reason: "page could not be loaded", failure: err.Error()}
		}
		if d := s.exit.Evaluate(obs, nil); d.Stop {
			s.logger.Warn("Bot challenge blocked the session", zap.String("url", current), zap.Int("step", step))
			return outcome{status: d.Status, reason: d.Reason, failure: fmt.Sprintf("bot challenge at %s", obs.EffectiveURL())}
		}

		// -- Analyzing --
		s.transition(StateAnalyzing, schemas.PersonaAnalyzing, fmt.Sprintf("step %d: %s", step, obs.EffectiveURL()))
		analysis, err := s.analyzer.Analyze(stepCtx, s.persona, obs, step)
		if err != nil {
			return outcome{status: schemas.StatusStoppedError, reason: navigation.ExitReasoningLimit, failure: err.Error(), rateLimited: true}
		}
		key, err := navigation.Normalize(obs.EffectiveURL(), current)
		if err != nil || s.mem.HasVisited(key) {
			key = current
		}
		analysis.URL = key
		s.mem.RecordVisit(key, analysis)
		s.mem.ApplyGoalUpdates(analysis.GoalUpdates)
		s.mem.NoticeCTAs(analysis.CTAs)
		s.pages = append(s.pages, *analysis)

		// -- Deciding --
		s.transition(StateDeciding, schemas.PersonaAnalyzing, fmt.Sprintf("step %d: deciding", step))
		if d := s.exit.Evaluate(obs, s.mem); d.Stop {
			return outcome{status: d.Status, reason: d.Reason}
		}
		if ctx.Err() != nil {
			return outcome{status: schemas.StatusCompleted, reason: navigation.ExitCancelled}
		}
		decision := s.engine.Decide(stepCtx, s.persona, obs, analysis, s.mem)
		if decision.Stop {
			out := outcome{status: decision.Status, reason: decision.Reason}
			if decision.Err != nil {
				out.failure = decision.Err.Error()
				out.rateLimited = errors.Is(decision.Err, schemas.ErrRateLimitExceeded)
			}
			return out
		}
		current = decision.NextURL
	}
}

// fetch loads url with the strict readiness condition and retries once with
// the loose one. Bot challenges are never retried.
func (s *Session) fetch(ctx context.Context, url string) (*schemas.PageObservation, error) {
	opts := schemas.FetchOptions{
		WaitStrategy: schemas.WaitNetworkIdle,
		Timeout:      s.deps.FocusGroup.FetchTimeout,
		Screenshot:   s.deps.Screenshots,
	}
	obs, err := s.deps.Fetcher.Fetch(ctx, url, opts)
	if err == nil || errors.Is(err, schemas.ErrBotChallengeDetected) {
		return obs, err
	}

	s.logger.Warn("Strict page load failed, retrying with loose strategy", zap.String("url", url), zap.Error(err))
	opts.WaitStrategy = schemas.WaitDOMContentLoaded
	obs, retryErr := s.deps.Fetcher.Fetch(ctx, url, opts)
	if retryErr == nil || errors.Is(retryErr, schemas.ErrBotChallengeDetected) {
		return obs, retryErr
	}
	var fe *schemas.FetchError
	if errors.As(retryErr, &fe) {
		return nil, retryErr
	}
	return nil, &schemas.FetchError{URL: url, Strategy: opts.WaitStrategy, Err: retryErr}
}

func (s *Session) finish(ctx context.Context, report *schemas.PersonaReport, out outcome) {
	report.Status = out.status
	report.ExitReason = out.reason
	report.FailureReason = out.failure
	report.Pages = s.pages
	report.Path = s.mem.Path()
	report.Goals = s.mem.GoalSnapshot()
	report.CTAs = s.mem.FinalizeCTAs()
	report.InformationCoverage = analyzer.InformationCoverage(s.persona.Needs, s.mem.AllInsights())

	switch {
	case len(s.pages) == 0:
		report.FinalConclusion = "No pages could be analyzed."
	case out.rateLimited:
		report.FinalConclusion = fmt.Sprintf("Session ended after %d pages when the reasoning budget ran out.", len(s.pages))
	default:
		report.FinalConclusion = s.analyzer.Conclude(ctx, s.persona, s.mem, report.InformationCoverage)
	}
	report.FinishedAt = s.now()

	s.logger.Info("Persona session finished",
		zap.String("status", string(report.Status)),
		zap.String("exit_reason", report.ExitReason),
		zap.Int("pages", len(report.Pages)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	final := schemas.PersonaComplete
	if report.Status.Failed() {
		final = schemas.PersonaFailed
	}
	s.transition(StateStopped, final, report.ExitReason)
}

func (s *Session) transition(next State, projected schemas.PersonaState, detail string) {
	s.logger.Debug("Session transition",
		zap.String("from", string(s.state)), zap.String("to", string(next)), zap.String("detail", detail))
	s.state = next
	if s.deps.Observer != nil {
		s.deps.Observer(s.persona.Name, projected, detail)
	}
}
