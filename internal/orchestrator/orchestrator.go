// File: internal/orchestrator/orchestrator.go
// Description: Runs a focus group end to end. Persona sessions fan out under a
// concurrency limit and share one rate governor; their reports are
// synthesized into the focus-group report while the tracker mirrors progress.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/governor"
	"github.com/xkilldash9x/focusgroup/internal/navigation"
	"github.com/xkilldash9x/focusgroup/internal/persona"
	"github.com/xkilldash9x/focusgroup/internal/reporting"
	"github.com/xkilldash9x/focusgroup/internal/session"
	"github.com/xkilldash9x/focusgroup/internal/tracker"
)

// Governor callers used for calls that do not belong to a persona.
const (
	callerGenerator   = "persona_generator"
	callerSynthesizer = "synthesizer"
)

// MaxPersonas bounds the size of one focus group.
const MaxPersonas = persona.MaxVariations

// Deps are the collaborators an Orchestrator runs on.
type Deps struct {
	Fetcher  schemas.PageFetcher
	LLM      schemas.ReasoningService
	Governor *governor.Governor
	Tracker  *tracker.Tracker
	// Store is optional; reports are only returned when it is nil.
	Store  schemas.ReportStore
	Scorer navigation.Scorer
}

// Result is the outcome of one focus-group run. PersonaReports holds every
// finished session in completion order, even when the task failed.
type Result struct {
	TaskID         string
	Report         *schemas.FocusGroupReport
	PersonaReports []schemas.PersonaReport
	Error          *schemas.TaskError
}

// Failed reports whether the run ended without a focus-group report.
func (r *Result) Failed() bool { return r.Error != nil }

// Orchestrator manages the lifecycle of focus-group tasks.
type Orchestrator struct {
	cfg       config.Interface
	deps      Deps
	logger    *zap.Logger
	synth     *reporting.Synthesizer
	generator *persona.Generator
}

// New creates an Orchestrator. Fetcher, LLM, Governor and Tracker are required.
func New(cfg config.Interface, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil ||
		deps.Fetcher == nil ||
		deps.LLM == nil ||
		deps.Governor == nil ||
		deps.Tracker == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Scorer == nil {
		deps.Scorer = navigation.NewKeywordScorer()
	}
	logger = logger.Named("orchestrator")

	generator, err := persona.NewGenerator(deps.Governor.Client(callerGenerator, deps.LLM), logger)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		synth:     reporting.NewSynthesizer(deps.Governor.Client(callerSynthesizer, deps.LLM), logger),
		generator: generator,
	}, nil
}

// ValidateRequest checks a request before any task is created for it.
func ValidateRequest(req schemas.FocusGroupRequest) error {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) address, got %q", req.URL)
	}

	switch {
	case len(req.Personas) > 0 && req.Template != nil:
		return errors.New("request must carry either personas or a template, not both")
	case len(req.Personas) > 0:
		if len(req.Personas) > MaxPersonas {
			return fmt.Errorf("at most %d personas are allowed, got %d", MaxPersonas, len(req.Personas))
		}
		seen := make(map[string]bool, len(req.Personas))
		var errs []error
		for i, p := range req.Personas {
			if err := p.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("persona %d: %w", i, err))
				continue
			}
			if seen[p.Name] {
				errs = append(errs, fmt.Errorf("persona %d: duplicate name %q", i, p.Name))
			}
			seen[p.Name] = true
		}
		return errors.Join(errs...)
	case req.Template != nil:
		if req.Count < 0 || req.Count > MaxPersonas {
			return fmt.Errorf("count must be between 0 (configured default) and %d, got %d", MaxPersonas, req.Count)
		}
		return req.Template.Validate()
	default:
		return errors.New("request must carry personas or a template")
	}
}

// Submit validates req and registers a queued task for it.
func (o *Orchestrator) Submit(req schemas.FocusGroupRequest) (string, error) {
	if err := ValidateRequest(req); err != nil {
		return "", err
	}
	names := make([]string, 0, len(req.Personas))
	for _, p := range req.Personas {
		names = append(names, p.Name)
	}
	id := o.deps.Tracker.Create(strings.TrimSpace(req.URL), names)
	o.logger.Info("Focus group submitted", zap.String("task_id", id), zap.String("url", req.URL), zap.Int("personas", len(names)))
	return id, nil
}

// Run executes a submitted task to a terminal state and always returns a
// result. Cancelling ctx lets every running session finish its current page
// and still produces a report from the partial journeys.
func (o *Orchestrator) Run(ctx context.Context, taskID string, req schemas.FocusGroupRequest) (res *Result) {
	res = &Result{TaskID: taskID}
	start := time.Now()
	logger := o.logger.With(zap.String("task_id", taskID))
	startURL := strings.TrimSpace(req.URL)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Focus group run panicked", zap.Any("panic", r), zap.Stack("stack"))
			o.fail(res, schemas.TaskError{Message: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	o.transition(taskID, schemas.TaskBuildingFocusGroup)
	personas, err := o.buildGroup(ctx, taskID, req)
	if err != nil {
		logger.Error("Failed to build focus group", zap.Error(err))
		o.fail(res, schemas.TaskError{Message: "failed to build focus group: " + err.Error()})
		return res
	}

	o.transition(taskID, schemas.TaskRunning)
	res.PersonaReports = o.runSessions(ctx, taskID, startURL, personas)

	failures := personaFailures(res.PersonaReports)
	if len(failures) == len(res.PersonaReports) {
		logger.Warn("Every persona session failed", zap.Int("personas", len(failures)))
		o.fail(res, schemas.TaskError{Message: "every persona session failed", Failures: failures})
		return res
	}
	if !anyPageAnalyzed(res.PersonaReports) {
		msg := "no persona analyzed a page"
		if ctx.Err() != nil {
			msg = "cancelled before any page was analyzed"
		}
		logger.Warn("Focus group has no analyzed pages", zap.String("reason", msg))
		o.fail(res, schemas.TaskError{Message: msg, Failures: exitReasons(res.PersonaReports)})
		return res
	}

	o.transition(taskID, schemas.TaskBuildingReport)
	report, err := o.synth.Synthesize(context.WithoutCancel(ctx), startURL, res.PersonaReports)
	if err != nil {
		logger.Error("Focus group synthesis failed", zap.Error(err))
		o.fail(res, schemas.TaskError{Message: err.Error(), Failures: failures})
		return res
	}
	res.Report = report

	if o.deps.Store != nil {
		if err := o.deps.Store.SaveFocusGroupReport(context.WithoutCancel(ctx), taskID, report); err != nil {
			logger.Error("Failed to save focus group report", zap.Error(err))
		}
	}
	if err := o.deps.Tracker.Complete(taskID, report); err != nil {
		logger.Warn("Could not mark task complete", zap.Error(err))
	}

	stats := o.deps.Governor.Stats()
	logger.Info("Focus group complete",
		zap.Int("personas", len(res.PersonaReports)),
		zap.Int("failed", len(failures)),
		zap.Int64("reasoning_calls", stats.Calls),
		zap.Int64("rate_limited", stats.RateLimited),
		zap.Duration("took", time.Since(start)))
	return res
}

// buildGroup returns the explicit personas of req, or generates them from
// its template and publishes the roster.
func (o *Orchestrator) buildGroup(ctx context.Context, taskID string, req schemas.FocusGroupRequest) ([]schemas.Persona, error) {
	if req.Template == nil {
		return req.Personas, nil
	}
	count := req.Count
	if count == 0 {
		count = o.cfg.FocusGroup().PersonaCount
	}
	personas, err := o.generator.Generate(ctx, *req.Template, count)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(personas))
	for _, p := range personas {
		names = append(names, p.Name)
	}
	if err := o.deps.Tracker.SetPersonas(taskID, names); err != nil {
		return nil, err
	}
	return personas, nil
}

// runSessions runs one session per persona and collects the reports as they
// finish. Session failures never cancel siblings.
func (o *Orchestrator) runSessions(ctx context.Context, taskID, startURL string, personas []schemas.Persona) []schemas.PersonaReport {
	limit := o.cfg.FocusGroup().Concurrency
	if limit <= 0 {
		limit = len(personas)
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		reports = make([]schemas.PersonaReport, 0, len(personas))
	)
	g.SetLimit(limit)
	for _, p := range personas {
		g.Go(func() error {
			report := o.runPersona(ctx, taskID, startURL, p)
			if o.deps.Store != nil {
				if err := o.deps.Store.SavePersonaReport(context.WithoutCancel(ctx), taskID, report); err != nil {
					o.logger.Error("Failed to save persona report",
						zap.String("task_id", taskID), zap.String("persona", p.Name), zap.Error(err))
				}
			}
			mu.Lock()
			reports = append(reports, *report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (o *Orchestrator) runPersona(ctx context.Context, taskID, startURL string, p schemas.Persona) *schemas.PersonaReport {
	observe := func(name string, state schemas.PersonaState, detail string) {
		if err := o.deps.Tracker.UpdatePersona(taskID, name, state, detail); err != nil {
			o.logger.Debug("Persona status not updated", zap.String("persona", name), zap.Error(err))
		}
	}
	deps := session.Deps{
		Fetcher:     o.deps.Fetcher,
		LLM:         o.deps.Governor.Client(p.Name, o.deps.LLM),
		Scorer:      o.deps.Scorer,
		Navigation:  o.cfg.Navigation(),
		FocusGroup:  o.cfg.FocusGroup(),
		Screenshots: o.cfg.Browser().Screenshots,
		Observer:    observe,
	}
	s, err := session.New(p, startURL, deps, o.logger)
	if err != nil {
		now := time.Now()
		observe(p.Name, schemas.PersonaFailed, err.Error())
		return &schemas.PersonaReport{
			ID:            uuid.NewString(),
			Persona:       p,
			StartURL:      startURL,
			Status:        schemas.StatusStoppedError,
			ExitReason:    "session could not start",
			FailureReason: err.Error(),
			StartedAt:     now,
			FinishedAt:    now,
		}
	}
	return s.Run(ctx)
}

func personaFailures(reports []schemas.PersonaReport) []schemas.PersonaFailure {
	var out []schemas.PersonaFailure
	for _, r := range reports {
		if !r.Failed() {
			continue
		}
		reason := r.FailureReason
		if reason == "" {
			reason = r.ExitReason
		}
		out = append(out, schemas.PersonaFailure{Persona: r.Persona.Name, Status: r.Status, Reason: reason})
	}
	return out
}

func anyPageAnalyzed(reports []schemas.PersonaReport) bool {
	for _, r := range reports {
		if len(r.Pages) > 0 {
			return true
		}
	}
	return false
}

// exitReasons lists why every session stopped, failed or not.
func exitReasons(reports []schemas.PersonaReport) []schemas.PersonaFailure {
	out := make([]schemas.PersonaFailure, 0, len(reports))
	for _, r := range reports {
		reason := r.FailureReason
		if reason == "" {
			reason = r.ExitReason
		}
		out = append(out, schemas.PersonaFailure{Persona: r.Persona.Name, Status: r.Status, Reason: reason})
	}
	return out
}

func (o *Orchestrator) transition(taskID string, next schemas.OverallState) {
	if err := o.deps.Tracker.Transition(taskID, next); err != nil {
		o.logger.Warn("Task transition rejected", zap.String("task_id", taskID), zap.String("state", string(next)), zap.Error(err))
	}
}

func (o *Orchestrator) fail(res *Result, taskErr schemas.TaskError) {
	res.Report = nil
	res.Error = &taskErr
	if err := o.deps.Tracker.Fail(res.TaskID, taskErr); err != nil {
		o.logger.Warn("Could not mark task failed", zap.String("task_id", res.TaskID), zap.Error(err))
	}
}
