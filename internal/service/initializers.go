// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/governor"
	"github.com/xkilldash9x/focusgroup/internal/llmclient"
	"github.com/xkilldash9x/focusgroup/internal/persona"
)

// generatorCaller names standalone persona generation in governor logs.
const generatorCaller = "persona_generator"

// InitializeLLMClient creates the tier router described by the agent
// configuration.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	router, err := llmclient.NewRouterFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Focus groups cannot run without a reasoning provider.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return router, nil
}

// InitializePersonaGenerator builds a governed persona generator without the
// rest of the focus-group stack. The returned cleanup closes the client.
func InitializePersonaGenerator(ctx context.Context, cfg config.Interface, logger *zap.Logger, newLLM func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error)) (*persona.Generator, func(), error) {
	if newLLM == nil {
		newLLM = InitializeLLMClient
	}
	llm, err := newLLM(ctx, cfg.Agent(), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := llm.Close(); err != nil {
			logger.Warn("Error while closing the reasoning client.", zap.Error(err))
		}
	}

	gov, err := governor.New(cfg.Governor(), logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize rate governor: %w", err)
	}
	gen, err := persona.NewGenerator(gov.Client(generatorCaller, llm), logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return gen, cleanup, nil
}
