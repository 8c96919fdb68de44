// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Navigation() config.NavigationConfig {
	args := m.Called()
	return args.Get(0).(config.NavigationConfig)
}

func (m *MockConfig) Governor() config.GovernorConfig {
	args := m.Called()
	return args.Get(0).(config.GovernorConfig)
}

func (m *MockConfig) FocusGroup() config.FocusGroupConfig {
	args := m.Called()
	return args.Get(0).(config.FocusGroupConfig)
}

func (m *MockConfig) Reports() config.ReportsConfig {
	args := m.Called()
	return args.Get(0).(config.ReportsConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

// --- Setters ---

func (m *MockConfig) SetNavigationMaxPages(n int)      { m.Called(n) }
func (m *MockConfig) SetFocusGroupConcurrency(n int)   { m.Called(n) }
func (m *MockConfig) SetReportsBackend(backend string) { m.Called(backend) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// PurposeIs matches a GenerationRequest by purpose, for use with mock.MatchedBy.
func PurposeIs(p schemas.Purpose) interface{} {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool { return req.Purpose == p })
}

// -- Page Fetcher Mock --

// MockPageFetcher mocks the schemas.PageFetcher interface.
type MockPageFetcher struct {
	mock.Mock
}

func (m *MockPageFetcher) Fetch(ctx context.Context, url string, opts schemas.FetchOptions) (*schemas.PageObservation, error) {
	args := m.Called(ctx, url, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.PageObservation), args.Error(1)
}

// -- Report Store Mock --

// MockReportStore mocks the schemas.ReportStore interface.
type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) SavePersonaReport(ctx context.Context, taskID string, report *schemas.PersonaReport) error {
	return m.Called(ctx, taskID, report).Error(0)
}

func (m *MockReportStore) SaveFocusGroupReport(ctx context.Context, taskID string, report *schemas.FocusGroupReport) error {
	return m.Called(ctx, taskID, report).Error(0)
}

func (m *MockReportStore) Close() error {
	return m.Called().Error(0)
}
