// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

const providerGemini = "gemini"

// contentGenerator is the slice of *genai.Models the client depends on.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the Google GenAI SDK.
// Rate-limit responses are surfaced immediately as *schemas.ProviderError so
// the caller's governor owns back-off; other transient failures get a short
// local retry.
type GeminiClient struct {
	models       contentGenerator
	config       config.LLMModelConfig
	logger       *zap.Logger
	transientMax uint64
	backoffBase  time.Duration
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{
		models:       models,
		config:       cfg,
		logger:       logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		transientMax: 2,
		backoffBase:  500 * time.Millisecond,
	}
}

// Generate sends the prompts to Gemini and returns the generated text.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genConfig := c.buildConfig(req)
	contents := buildContents(req)

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.backoffBase),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	operation := func() (string, error) {
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, genConfig)
		if err != nil {
			return "", c.classifyError(err)
		}

		text := resp.Text()
		if text == "" {
			reason := ""
			if len(resp.Candidates) > 0 {
				reason = string(resp.Candidates[0].FinishReason)
			}
			if reason == string(genai.FinishReasonSafety) || reason == string(genai.FinishReasonBlocklist) {
				return "", backoff.Permanent(&schemas.ProviderError{Provider: providerGemini, Err: fmt.Errorf("request blocked (reason: %s)", reason)})
			}
			return "", &schemas.ProviderError{Provider: providerGemini, Err: fmt.Errorf("empty response (reason: %s)", reason)}
		}

		fields := []zap.Field{
			zap.String("purpose", string(req.Purpose)),
			zap.Duration("duration", time.Since(start)),
		}
		if resp.UsageMetadata != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
				zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount),
			)
		}
		c.logger.Debug("LLM generation complete", fields...)
		return text, nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Transient LLM error, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	return backoff.RetryNotifyWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, c.transientMax), ctx), notify)
}

// Close releases client resources. The SDK holds none beyond its HTTP client.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP := pick(float32(req.Options.TopP), c.config.TopP); topP > 0 {
		gc.TopP = genai.Ptr(topP)
	}
	if topK := pick(float32(req.Options.TopK), float32(c.config.TopK)); topK > 0 {
		gc.TopK = genai.Ptr(topK)
	}
	if maxTokens := pick(int32(req.Options.MaxOutputTokens), int32(c.config.MaxTokens)); maxTokens > 0 {
		gc.MaxOutputTokens = maxTokens
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// buildContents renders the user turn: the prompt text followed by any
// inline attachments.
func buildContents(req schemas.GenerationRequest) []*genai.Content {
	if len(req.Attachments) == 0 {
		return genai.Text(req.UserPrompt)
	}
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	for _, a := range req.Attachments {
		if len(a.Data) == 0 {
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func pick[T float32 | int32](preferred, fallback T) T {
	if preferred != 0 {
		return preferred
	}
	return fallback
}

// classifyError maps SDK errors onto the provider error taxonomy. Rate limits
// and client errors are permanent here; server errors are retried locally.
func (c *GeminiClient) classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	code, status := 0, ""
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status = apiErr.Code, apiErr.Status
	case errors.As(err, &apiErrPtr):
		code, status = apiErrPtr.Code, apiErrPtr.Status
	default:
		// Network-level failure.
		return &schemas.ProviderError{Provider: providerGemini, Err: err}
	}

	pe := &schemas.ProviderError{
		Provider:    providerGemini,
		StatusCode:  code,
		RateLimited: code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED",
		Err:         err,
	}
	c.logger.Warn("Gemini API returned error status", zap.Int("status", code), zap.Bool("rate_limited", pe.RateLimited))
	if pe.RateLimited || code < http.StatusInternalServerError {
		return backoff.Permanent(pe)
	}
	return pe
}
