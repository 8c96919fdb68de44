// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/browser"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/governor"
	"github.com/xkilldash9x/focusgroup/internal/navigation"
	"github.com/xkilldash9x/focusgroup/internal/orchestrator"
	"github.com/xkilldash9x/focusgroup/internal/store"
	"github.com/xkilldash9x/focusgroup/internal/tracker"
)

// ComponentFactory creates the set of components needed to run focus groups.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// Builders construct the external collaborators. Tests replace them.
type Builders struct {
	LLM     func(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error)
	Fetcher func(cfg config.Interface, logger *zap.Logger) ClosableFetcher
	Store   func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.ReportStore, error)
}

// DefaultBuilders wires the Gemini router, the chromedp fetcher and the
// configured report backend.
func DefaultBuilders() Builders {
	return Builders{
		LLM: InitializeLLMClient,
		Fetcher: func(cfg config.Interface, logger *zap.Logger) ClosableFetcher {
			return browser.NewFetcher(cfg.Browser(), cfg.FocusGroup().LooseGrace, logger)
		},
		Store: store.New,
	}
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	build Builders
}

// NewComponentFactory creates a factory using the production builders.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{build: DefaultBuilders()}
}

// NewComponentFactoryWith creates a factory with custom builders; unset
// builders fall back to the production ones.
func NewComponentFactoryWith(b Builders) ComponentFactory {
	def := DefaultBuilders()
	if b.LLM == nil {
		b.LLM = def.LLM
	}
	if b.Fetcher == nil {
		b.Fetcher = def.Fetcher
	}
	if b.Store == nil {
		b.Store = def.Store
	}
	return &concreteFactory{build: b}
}

// Create handles the full dependency injection of focus-group components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cannot create components without configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{Config: cfg, logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Reasoning provider
	llm, err := f.build.LLM(ctx, cfg.Agent(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = llm
	logger.Debug("Reasoning client initialized.")

	// 2. Rate governor shared by every caller of the provider
	gov, err := governor.New(cfg.Governor(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize rate governor: %w", err)
		return nil, initializationErr
	}
	components.Governor = gov

	// 3. Browser. The process starts lazily on the first fetch.
	components.Fetcher = f.build.Fetcher(cfg, logger)
	logger.Debug("Page fetcher initialized.")

	// 4. Report store
	reportStore, err := f.build.Store(ctx, cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize report store: %w", err)
		return nil, initializationErr
	}
	components.Store = reportStore
	logger.Debug("Report store initialized.", zap.String("backend", cfg.Reports().Backend))

	// 5. Task tracker and orchestrator
	components.Tracker = tracker.New(logger)
	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Fetcher:  components.Fetcher,
		LLM:      llm,
		Governor: gov,
		Tracker:  components.Tracker,
		Store:    reportStore,
		Scorer:   navigation.NewKeywordScorer(),
	}, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	logger.Info("All focus group components initialized successfully.")
	return components, nil
}
