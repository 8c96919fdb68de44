package schemas

import "time"

// -- Task Status Schemas --

// OverallState is the lifecycle state of a focus-group task.
type OverallState string

const (
	TaskQueued             OverallState = "queued"
	TaskBuildingFocusGroup OverallState = "building_focus_group"
	TaskRunning            OverallState = "running"
	TaskBuildingReport     OverallState = "building_report"
	TaskComplete           OverallState = "complete"
	TaskFailed             OverallState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s OverallState) Terminal() bool {
	return s == TaskComplete || s == TaskFailed
}

// PersonaState is the externally visible state of one persona session.
type PersonaState string

const (
	PersonaQueued     PersonaState = "queued"
	PersonaNavigating PersonaState = "navigating"
	PersonaAnalyzing  PersonaState = "analyzing"
	PersonaComplete   PersonaState = "complete"
	PersonaFailed     PersonaState = "failed"
)

// Terminal reports whether the persona has finished.
func (s PersonaState) Terminal() bool {
	return s == PersonaComplete || s == PersonaFailed
}

// PersonaStatus is the per-persona entry of a task status.
type PersonaStatus struct {
	Name   string       `json:"name"`
	State  PersonaState `json:"state"`
	Detail string       `json:"detail,omitempty"`
}

// TaskError is the structured error of a failed task.
type TaskError struct {
	Message  string           `json:"message"`
	Failures []PersonaFailure `json:"failures,omitempty"`
}

// TaskStatus is the external projection of orchestrator progress.
type TaskStatus struct {
	TaskID       string            `json:"task_id"`
	URL          string            `json:"url"`
	OverallState OverallState      `json:"overall_state"`
	Personas     []PersonaStatus   `json:"personas"`
	Result       *FocusGroupReport `json:"result,omitempty"`
	Error        *TaskError        `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// FocusGroupRequest describes a focus-group run. Either Personas or Template
// must be set; a template is expanded into Count personas.
type FocusGroupRequest struct {
	URL      string           `json:"url"`
	Personas []Persona        `json:"personas,omitempty"`
	Template *PersonaTemplate `json:"template,omitempty"`
	Count    int              `json:"count,omitempty"`
}
