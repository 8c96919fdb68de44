package schemas

import (
	"context"
)

// -- Page Fetching --

// PageFetcher loads and extracts a page. Implementations return a
// *BotChallengeError when the page is an automated-traffic challenge and a
// *FetchError for every other failure.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (*PageObservation, error)
}

// -- Reasoning Service --

// ModelTier allows for selecting a model based on a preference for speed
// versus capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// Purpose labels what a reasoning call is for. It is used for logging and to
// route calls in tests.
type Purpose string

const (
	PurposePageAnalysis      Purpose = "page_analysis"
	PurposeNavigation        Purpose = "navigation_decision"
	PurposeFinalConclusion   Purpose = "final_conclusion"
	PurposeFocusGroupSummary Purpose = "focus_group_summary"
	PurposePersonaGeneration Purpose = "persona_generation"
)

// GenerationOptions controls sampling and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// Attachment is binary content sent inline after the user prompt.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest is one complete request to the reasoning service.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Purpose      Purpose           `json:"purpose"`
	Options      GenerationOptions `json:"options"`
}

// ReasoningService produces a completion for a prompt. Provider failures are
// reported as *ProviderError so callers can tell rate limiting apart.
//
//go:generate mockery --name ReasoningService --output ../../internal/mocks --outpkg mocks
type ReasoningService interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// LLMClient is a ReasoningService that holds provider resources.
type LLMClient interface {
	ReasoningService
	Close() error
}

// -- Persistence --

// ReportStore persists finished reports.
type ReportStore interface {
	SavePersonaReport(ctx context.Context, taskID string, report *PersonaReport) error
	SaveFocusGroupReport(ctx context.Context, taskID string, report *FocusGroupReport) error
	Close() error
}
