// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/mocks"
	"github.com/xkilldash9x/focusgroup/internal/observability"
	"github.com/xkilldash9x/focusgroup/internal/persona"
	"github.com/xkilldash9x/focusgroup/internal/service"
)

// -- Test Setup Helpers --

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// testConfig keeps the governor fast and the report store out of the way.
const testConfig = `
logger:
  level: error
governor:
  min_spacing: 1ms
  initial_backoff: 1ms
  max_backoff: 5ms
  max_attempts: 2
reports:
  backend: none
`

const personasYAML = `
- name: Dana
  role: small business owner
  goals:
    - find pricing information
`

type closableFetcher struct {
	mocks.MockPageFetcher
}

func (f *closableFetcher) Close() error { return f.Called().Error(0) }

type harness struct {
	llm     *mocks.MockLLMClient
	fetcher *closableFetcher
	store   *mocks.MockReportStore
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	h := &harness{
		llm:     new(mocks.MockLLMClient),
		fetcher: new(closableFetcher),
		store:   new(mocks.MockReportStore),
		dir:     t.TempDir(),
	}
	h.write(t, "config.yaml", testConfig)
	h.write(t, "personas.yaml", personasYAML)
	h.llm.On("Close").Return(nil).Maybe()
	h.fetcher.On("Close").Return(nil).Maybe()
	h.store.On("Close").Return(nil).Maybe()
	return h
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) path(name string) string { return filepath.Join(h.dir, name) }

func (h *harness) newLLM(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) {
	return h.llm, nil
}

func (h *harness) rootCmd() *cobra.Command {
	return newRootCommand(&rootOptions{
		factory: service.NewComponentFactoryWith(service.Builders{
			LLM:     h.newLLM,
			Fetcher: func(config.Interface, *zap.Logger) service.ClosableFetcher { return h.fetcher },
			Store: func(context.Context, config.Interface, *zap.Logger) (schemas.ReportStore, error) {
				return h.store, nil
			},
		}),
		newLLM: h.newLLM,
	})
}

// execute runs the command tree with args and returns its stdout.
func (h *harness) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := h.rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"-c", h.path("config.yaml")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// -- Test Cases --

func TestRootCmd_VersionFlag(t *testing.T) {
	h := newHarness(t)
	out, err := h.execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "focusgroup version "+Version)
}

func TestVersionCmd(t *testing.T) {
	h := newHarness(t)
	root := h.rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	// An unreadable config does not matter to the version command.
	root.SetArgs([]string{"-c", h.path("missing.yaml"), "version"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "focusgroup "+Version+"\n", out.String())
}

func TestRootCmd_NoArgs(t *testing.T) {
	h := newHarness(t)
	out, err := h.execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "simulated personas")
	assert.Contains(t, out, "analyze")
	assert.Contains(t, out, "serve")
}

func TestRootCmd_BadConfig(t *testing.T) {
	h := newHarness(t)
	h.write(t, "config.yaml", "navigation:\n  max_pages: 0\n")
	_, err := h.execute(t, "analyze", "https://shop.test/", "-p", h.path("personas.yaml"))
	assert.ErrorContains(t, err, "max_pages must be greater than 0")
}

func TestAnalyze_ArgumentErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.execute(t, "analyze", "-p", h.path("personas.yaml"))
	assert.ErrorContains(t, err, "accepts 1 arg(s)")

	_, err = h.execute(t, "analyze", "https://shop.test/")
	assert.ErrorContains(t, err, `required flag(s) "personas" not set`)

	_, err = h.execute(t, "analyze", "https://shop.test/", "-p", h.path("nope.yaml"))
	assert.ErrorContains(t, err, "failed to read persona file")

	_, err = h.execute(t, "analyze", "https://shop.test/", "-p", h.path("personas.yaml"), "--format", "xml")
	assert.ErrorContains(t, err, "unsupported output format: xml")

	_, err = h.execute(t, "analyze", "https://shop.test/", "-p", h.path("personas.yaml"), "--concurrency", "-1")
	assert.ErrorContains(t, err, "focus_group.concurrency")

	_, err = h.execute(t, "analyze", "shop.test", "-p", h.path("personas.yaml"))
	assert.ErrorContains(t, err, "absolute http(s)")
	h.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyze_WritesReport(t *testing.T) {
	h := newHarness(t)
	h.fetcher.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(&schemas.PageObservation{
		URL: "https://shop.test/", Title: "Shop", Text: "Shop\nWelcome.", StatusCode: 200,
	}, nil).Once()
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposePageAnalysis)).
		Return(`{"summary": "A shop front", "likes": ["clean"], "overall_impression": "Fine", "goal_updates": []}`, nil)
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposeNavigation)).Return("", errors.New("offline")).Maybe()
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposeFinalConclusion)).Return("Done.", nil)
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposeFocusGroupSummary)).Return("One short visit.", nil)
	h.store.On("SavePersonaReport", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.store.On("SaveFocusGroupReport", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	out, err := h.execute(t, "analyze", "https://shop.test/",
		"-p", h.path("personas.yaml"),
		"--max-pages", "1",
		"--format", "json",
		"-o", h.path("report.json"))
	require.NoError(t, err)
	assert.Empty(t, out, "the report goes to the output file")

	data, err := os.ReadFile(h.path("report.json"))
	require.NoError(t, err)
	var report schemas.FocusGroupReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "https://shop.test/", report.URL)
	require.Len(t, report.PersonaReports, 1)
	assert.Equal(t, "Dana", report.PersonaReports[0].Persona.Name)
	assert.Len(t, report.PersonaReports[0].Pages, 1)
	assert.Equal(t, schemas.StatusCompleted, report.PersonaReports[0].Status)

	h.fetcher.AssertExpectations(t)
	h.fetcher.AssertCalled(t, "Close")
	h.llm.AssertCalled(t, "Close")
}

func TestAnalyze_EveryPersonaFailed(t *testing.T) {
	h := newHarness(t)
	h.fetcher.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	h.llm.On("Generate", mock.Anything, mock.Anything).Return("Done.", nil).Maybe()
	h.store.On("SavePersonaReport", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	_, err := h.execute(t, "analyze", "https://shop.test/", "-p", h.path("personas.yaml"), "-o", h.path("report.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every persona session failed")
	assert.Contains(t, err.Error(), "Dana")
}

func TestPersonasGenerate(t *testing.T) {
	h := newHarness(t)
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposePersonaGeneration)).
		Return("name: Ana\nrole: buyer\ngoals:\n  - compare plans\n", nil).Once()
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposePersonaGeneration)).
		Return("name: Ben\nrole: buyer\ngoals:\n  - compare plans\n", nil).Once()

	out, err := h.execute(t, "personas", "generate", "--role", "buyer", "--goal", "compare plans", "-n", "2")
	require.NoError(t, err)
	f, err := persona.Parse([]byte(out))
	require.NoError(t, err, out)
	require.Len(t, f.Personas, 2)
	assert.Equal(t, "Ana", f.Personas[0].Name)
	assert.Equal(t, "Ben", f.Personas[1].Name)
	h.llm.AssertCalled(t, "Close")
}

func TestPersonasGenerate_ToFile(t *testing.T) {
	h := newHarness(t)
	h.llm.On("Generate", mock.Anything, mocks.PurposeIs(schemas.PurposePersonaGeneration)).
		Return("name: Ana\nrole: buyer\ngoals:\n  - compare plans\n", nil).Once()

	target := h.path(filepath.Join("out", "group.yaml"))
	_, err := h.execute(t, "personas", "generate", "--role", "buyer", "--goal", "compare plans", "-n", "1", "-o", target)
	require.NoError(t, err)

	f, err := persona.LoadFile(target)
	require.NoError(t, err)
	require.Len(t, f.Personas, 1)
	assert.Equal(t, "Ana", f.Personas[0].Name)
}

func TestPersonasGenerate_RequiresTemplate(t *testing.T) {
	h := newHarness(t)
	_, err := h.execute(t, "personas", "generate", "--role", "buyer")
	assert.ErrorContains(t, err, `required flag(s) "goal" not set`)
	h.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestServe_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	root := h.rootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"-c", h.path("config.yaml"), "serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, root.ExecuteContext(ctx))
	h.fetcher.AssertCalled(t, "Close")
	h.store.AssertCalled(t, "Close")
}
