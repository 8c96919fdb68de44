package llmclient

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
)

// -- Test Setup Helper --

// setupRouter creates a standard LLMRouter instance for testing, along with its mocks and a log observer.
func setupRouter(t *testing.T) (*LLMRouter, *MockLLMClient, *MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	loggerCore, observedLogs := observer.New(zap.DebugLevel)
	logger := zap.New(loggerCore)

	fastClient := &MockLLMClient{Name: "FastClient"}
	powerfulClient := &MockLLMClient{Name: "PowerfulClient"}

	router, err := NewLLMRouter(logger, fastClient, powerfulClient)
	require.NoError(t, err, "NewLLMRouter should initialize successfully")

	return router, fastClient, powerfulClient, observedLogs
}

// -- Test Cases: Initialization --

func TestNewLLMRouter_Failure_MissingClients(t *testing.T) {
	validClient := new(MockLLMClient)

	tests := []struct {
		name     string
		fast     schemas.LLMClient
		powerful schemas.LLMClient
	}{
		{"Missing Fast Client", nil, validClient},
		{"Missing Powerful Client", validClient, nil},
		{"Missing Both Clients", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewLLMRouter(setupTestLogger(t), tt.fast, tt.powerful)
			assert.Nil(t, router)
			assert.ErrorContains(t, err, "both fast and powerful tier clients must be provided")
		})
	}
}

// -- Test Cases: Routing Logic --

func TestGenerate_Routing(t *testing.T) {
	t.Run("fast tier", func(t *testing.T) {
		router, fastClient, powerfulClient, observedLogs := setupRouter(t)
		req := schemas.GenerationRequest{Tier: schemas.TierFast, Purpose: schemas.PurposeNavigation}
		fastClient.On("Generate", mock.Anything, req).Return("fast", nil).Once()

		out, err := router.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "fast", out)
		fastClient.AssertExpectations(t)
		powerfulClient.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

		logs := observedLogs.FilterMessage("Routing LLM request").All()
		require.Len(t, logs, 1)
		assert.Equal(t, "fast", logs[0].ContextMap()["tier"])
	})

	t.Run("default tier is powerful", func(t *testing.T) {
		router, fastClient, powerfulClient, _ := setupRouter(t)
		req := schemas.GenerationRequest{UserPrompt: "summarize"}
		powerfulClient.On("Generate", mock.Anything, req).Return("powerful", nil).Once()

		out, err := router.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "powerful", out)
		fastClient.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("unknown tier", func(t *testing.T) {
		router, _, _, _ := setupRouter(t)
		_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: "medium"})
		assert.ErrorContains(t, err, "no LLM client configured for tier: medium")
	})

	t.Run("errors propagate unchanged", func(t *testing.T) {
		router, fastClient, _, _ := setupRouter(t)
		providerErr := &schemas.ProviderError{Provider: "gemini", RateLimited: true, Err: errors.New("quota")}
		fastClient.On("Generate", mock.Anything, mock.Anything).Return("", providerErr).Once()

		_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
		assert.True(t, schemas.IsRateLimited(err))
	})
}

func TestLLMRouter_Close(t *testing.T) {
	shared := &MockLLMClient{Name: "Shared"}
	shared.On("Close").Return(nil).Once()

	router, err := NewLLMRouter(zap.NewNop(), shared, shared)
	require.NoError(t, err)
	require.NoError(t, router.Close())
	shared.AssertNumberOfCalls(t, "Close", 1)

	fast, powerful := &MockLLMClient{}, &MockLLMClient{}
	fast.On("Close").Return(errors.New("boom"))
	powerful.On("Close").Return(nil)
	router, err = NewLLMRouter(zap.NewNop(), fast, powerful)
	require.NoError(t, err)
	assert.ErrorContains(t, router.Close(), "boom")
}
