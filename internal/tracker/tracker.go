// internal/tracker/tracker.go
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

var (
	// ErrTaskNotFound is returned for an unknown task identifier.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTerminal is returned when a finished task is asked to transition.
	ErrTerminal = errors.New("task already finished")
)

// stage orders the non-failed overall states. A task only moves forward.
var stage = map[schemas.OverallState]int{
	schemas.TaskQueued:             0,
	schemas.TaskBuildingFocusGroup: 1,
	schemas.TaskRunning:            2,
	schemas.TaskBuildingReport:     3,
	schemas.TaskComplete:           4,
}

// Tracker is the thread-safe projection of focus-group progress, keyed by
// task identifier. Every read returns a copy.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*schemas.TaskStatus
	log   *zap.Logger
	now   func() time.Time
}

// New creates an empty tracker.
func New(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		tasks: make(map[string]*schemas.TaskStatus),
		log:   logger.Named("tracker"),
		now:   time.Now,
	}
}

// Create registers a queued task for url and returns its identifier.
func (t *Tracker) Create(url string, personas []string) string {
	id := uuid.NewString()
	now := t.now()
	status := &schemas.TaskStatus{
		TaskID:       id,
		URL:          url,
		OverallState: schemas.TaskQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	status.Personas = queued(personas)

	t.mu.Lock()
	t.tasks[id] = status
	t.mu.Unlock()

	t.log.Debug("Task created", zap.String("task_id", id), zap.String("url", url), zap.Int("personas", len(personas)))
	return id
}

// SetPersonas replaces the persona roster, all queued. It is used once the
// focus group has been built from a template.
func (t *Tracker) SetPersonas(id string, personas []string) error {
	return t.update(id, func(s *schemas.TaskStatus) error {
		s.Personas = queued(personas)
		return nil
	})
}

// Transition moves the task to next. Moving backwards, or out of a
// terminal state, is rejected.
func (t *Tracker) Transition(id string, next schemas.OverallState) error {
	if next == schemas.TaskComplete || next == schemas.TaskFailed {
		return fmt.Errorf("use Complete or Fail to finish task %s", id)
	}
	return t.update(id, func(s *schemas.TaskStatus) error {
		return advance(s, next)
	})
}

// UpdatePersona records a persona state change. A persona that already
// finished keeps its terminal state.
func (t *Tracker) UpdatePersona(id, persona string, state schemas.PersonaState, detail string) error {
	return t.update(id, func(s *schemas.TaskStatus) error {
		if s.OverallState.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, id, s.OverallState)
		}
		for i := range s.Personas {
			if s.Personas[i].Name != persona {
				continue
			}
			if s.Personas[i].State.Terminal() {
				return fmt.Errorf("persona %q of task %s already %s", persona, id, s.Personas[i].State)
			}
			s.Personas[i].State = state
			s.Personas[i].Detail = detail
			return nil
		}
		return fmt.Errorf("task %s has no persona %q", id, persona)
	})
}

// Complete attaches the report and marks the task complete.
func (t *Tracker) Complete(id string, report *schemas.FocusGroupReport) error {
	if report == nil {
		return errors.New("complete requires a report")
	}
	return t.update(id, func(s *schemas.TaskStatus) error {
		if err := advance(s, schemas.TaskComplete); err != nil {
			return err
		}
		s.Result = report
		return nil
	})
}

// Fail marks the task failed with a structured error. Any state that is not
// already terminal can fail.
func (t *Tracker) Fail(id string, taskErr schemas.TaskError) error {
	return t.update(id, func(s *schemas.TaskStatus) error {
		if s.OverallState.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, id, s.OverallState)
		}
		s.OverallState = schemas.TaskFailed
		s.Error = &taskErr
		return nil
	})
}

// Get returns a copy of the task status.
func (t *Tracker) Get(id string) (schemas.TaskStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.tasks[id]
	if !ok {
		return schemas.TaskStatus{}, false
	}
	return snapshot(s), true
}

// List returns copies of every task, oldest first.
func (t *Tracker) List() []schemas.TaskStatus {
	t.mu.RLock()
	out := make([]schemas.TaskStatus, 0, len(t.tasks))
	for _, s := range t.tasks {
		out = append(out, snapshot(s))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (t *Tracker) update(id string, fn func(*schemas.TaskStatus) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	from := s.OverallState
	if err := fn(s); err != nil {
		t.log.Debug("Rejected task update", zap.String("task_id", id), zap.Error(err))
		return err
	}
	s.UpdatedAt = t.now()
	if from != s.OverallState {
		t.log.Info("Task state changed",
			zap.String("task_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(s.OverallState)))
	}
	return nil
}

// -- Helpers --

func advance(s *schemas.TaskStatus, next schemas.OverallState) error {
	if s.OverallState.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, s.TaskID, s.OverallState)
	}
	if stage[next] < stage[s.OverallState] {
		return fmt.Errorf("task %s cannot move from %s back to %s", s.TaskID, s.OverallState, next)
	}
	s.OverallState = next
	return nil
}

func queued(names []string) []schemas.PersonaStatus {
	out := make([]schemas.PersonaStatus, len(names))
	for i, n := range names {
		out[i] = schemas.PersonaStatus{Name: n, State: schemas.PersonaQueued}
	}
	return out
}

func snapshot(s *schemas.TaskStatus) schemas.TaskStatus {
	cp := *s
	cp.Personas = append([]schemas.PersonaStatus(nil), s.Personas...)
	if s.Error != nil {
		e := *s.Error
		e.Failures = append([]schemas.PersonaFailure(nil), s.Error.Failures...)
		cp.Error = &e
	}
	return cp
}
