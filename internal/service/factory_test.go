package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/mocks"
)

// -- Test Setup Helpers --

// closableFetcher pairs the fetcher mock with a Close expectation.
type closableFetcher struct {
	mocks.MockPageFetcher
}

func (f *closableFetcher) Close() error {
	return f.Called().Error(0)
}

type fakes struct {
	llm     *mocks.MockLLMClient
	fetcher *closableFetcher
	store   *mocks.MockReportStore
}

func newFakes() *fakes {
	return &fakes{llm: new(mocks.MockLLMClient), fetcher: new(closableFetcher), store: new(mocks.MockReportStore)}
}

func (f *fakes) builders() Builders {
	return Builders{
		LLM: func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) {
			return f.llm, nil
		},
		Fetcher: func(config.Interface, *zap.Logger) ClosableFetcher { return f.fetcher },
		Store: func(context.Context, config.Interface, *zap.Logger) (schemas.ReportStore, error) {
			return f.store, nil
		},
	}
}

// -- Test Cases --

func TestCreate_WiresComponents(t *testing.T) {
	f := newFakes()
	cfg := config.NewDefaultConfig()

	c, err := NewComponentFactoryWith(f.builders()).Create(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, f.llm, c.LLM)
	assert.Same(t, f.store, c.Store)
	assert.NotNil(t, c.Governor)
	assert.NotNil(t, c.Tracker)
	require.NotNil(t, c.Orchestrator)

	id, err := c.Orchestrator.Submit(schemas.FocusGroupRequest{
		URL:      "https://shop.test/",
		Personas: []schemas.Persona{{Name: "Dana", Goals: []string{"find pricing"}}},
	})
	require.NoError(t, err)
	_, ok := c.Tracker.Get(id)
	assert.True(t, ok, "the orchestrator reports into the shared tracker")
}

func TestCreate_CleansUpOnFailure(t *testing.T) {
	f := newFakes()
	f.llm.On("Close").Return(nil).Once()
	f.fetcher.On("Close").Return(nil).Once()
	b := f.builders()
	b.Store = func(context.Context, config.Interface, *zap.Logger) (schemas.ReportStore, error) {
		return nil, errors.New("database unreachable")
	}

	_, err := NewComponentFactoryWith(b).Create(context.Background(), config.NewDefaultConfig(), zap.NewNop())
	assert.ErrorContains(t, err, "failed to initialize report store: database unreachable")
	f.llm.AssertExpectations(t)
	f.fetcher.AssertExpectations(t)
}

func TestCreate_Errors(t *testing.T) {
	f := newFakes()

	_, err := NewComponentFactoryWith(f.builders()).Create(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "without configuration")

	b := f.builders()
	b.LLM = func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) {
		return nil, errors.New("no api key")
	}
	_, err = NewComponentFactoryWith(b).Create(context.Background(), config.NewDefaultConfig(), nil)
	assert.ErrorContains(t, err, "no api key")

	f.llm.On("Close").Return(nil).Once()
	cfg := config.NewDefaultConfig()
	cfg.GovernorCfg.MaxInFlight = 0
	_, err = NewComponentFactoryWith(f.builders()).Create(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid governor configuration")
	f.llm.AssertExpectations(t)
}

func TestShutdown_Order(t *testing.T) {
	f := newFakes()
	var order []string
	f.fetcher.On("Close").Return(nil).Run(func(mock.Arguments) { order = append(order, "browser") })
	f.store.On("Close").Return(errors.New("flush failed")).Run(func(mock.Arguments) { order = append(order, "store") })
	f.llm.On("Close").Return(nil).Run(func(mock.Arguments) { order = append(order, "llm") })

	core, logs := observer.New(zap.DebugLevel)
	c, err := NewComponentFactoryWith(f.builders()).Create(context.Background(), config.NewDefaultConfig(), zap.New(core))
	require.NoError(t, err)
	c.Shutdown()

	assert.Equal(t, []string{"browser", "store", "llm"}, order)
	assert.Equal(t, 1, logs.FilterMessage("Error while closing the report store.").Len())

	// Partially built components shut down without panicking.
	assert.NotPanics(t, (&Components{}).Shutdown)
}

func TestInitializeLLMClient_UnsupportedProvider(t *testing.T) {
	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "local",
		DefaultPowerfulModel: "local",
		Models:               map[string]config.LLMModelConfig{"local": {Provider: "ollama", Model: "llama3"}},
	}}
	_, err := InitializeLLMClient(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "failed to initialize LLM client")
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestInitializePersonaGenerator(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposePersonaGeneration)).
		Return("name: Ana\ngoals:\n  - compare plans\n", nil).Once()
	llm.On("Close").Return(nil).Once()
	newLLM := func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) { return llm, nil }

	gen, cleanup, err := InitializePersonaGenerator(context.Background(), config.NewDefaultConfig(), zap.NewNop(), newLLM)
	require.NoError(t, err)
	personas, err := gen.Generate(context.Background(), schemas.PersonaTemplate{Role: "buyer", PrimaryGoal: "compare plans"}, 1)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "Ana", personas[0].Name)

	cleanup()
	llm.AssertExpectations(t)
}
