// File: cmd/analyze.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/observability"
	"github.com/xkilldash9x/focusgroup/internal/persona"
	"github.com/xkilldash9x/focusgroup/internal/reporting"
)

type analyzeOptions struct {
	personasFile string
	count        int
	maxPages     int
	concurrency  int
	backend      string
	format       string
	output       string
}

// newAnalyzeCmd creates the `analyze` command, which runs one focus group in
// the foreground and writes its report.
func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	analyzeCmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Runs a focus group against a website",
		Long: `Runs every persona of the focus group through the website starting at <url>
and writes the aggregated report. Personas come from a YAML file that either
lists them or carries a template to generate them from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := root.cfg

			file, err := persona.LoadFile(opts.personasFile)
			if err != nil {
				return err
			}
			req := schemas.FocusGroupRequest{
				URL:      args[0],
				Personas: file.Personas,
				Template: file.Template,
				Count:    file.Count,
			}
			if cmd.Flags().Changed("count") {
				req.Count = opts.count
			}

			if cmd.Flags().Changed("max-pages") {
				cfg.SetNavigationMaxPages(opts.maxPages)
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.SetFocusGroupConcurrency(opts.concurrency)
			}
			if cmd.Flags().Changed("store") {
				cfg.SetReportsBackend(opts.backend)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// Fail on a bad format before any browser starts.
			reporter, err := reporting.New(strings.ToLower(opts.format), opts.output)
			if err != nil {
				return err
			}
			defer reporter.Close()

			components, err := root.factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			taskID, err := components.Orchestrator.Submit(req)
			if err != nil {
				return err
			}
			logger.Info("Focus group started.", zap.String("task_id", taskID), zap.String("url", req.URL))

			res := components.Orchestrator.Run(ctx, taskID, req)
			if res.Failed() {
				return taskError(res.Error)
			}
			if err := reporter.Write(res.Report); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			if ctx.Err() != nil {
				logger.Warn("Focus group was interrupted; the report covers partial journeys.")
			}
			return nil
		},
	}

	flags := analyzeCmd.Flags()
	flags.StringVarP(&opts.personasFile, "personas", "p", "", "YAML file with the personas or a persona template (required)")
	flags.IntVarP(&opts.count, "count", "n", 0, "Number of personas to generate from a template (overrides the file)")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "Page budget per persona (overrides navigation.max_pages)")
	flags.IntVarP(&opts.concurrency, "concurrency", "j", 0, "Personas browsing at once (overrides focus_group.concurrency)")
	flags.StringVar(&opts.backend, "store", "", "Report store backend: file, postgres or none (overrides reports.backend)")
	flags.StringVarP(&opts.format, "format", "f", "text", "Output format: text, json or persisted")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file for the report (default is stdout)")
	_ = analyzeCmd.MarkFlagRequired("personas")

	return analyzeCmd
}

// taskError flattens a structured task error into one error value.
func taskError(e *schemas.TaskError) error {
	if e == nil {
		return fmt.Errorf("focus group failed")
	}
	if len(e.Failures) == 0 {
		return fmt.Errorf("focus group failed: %s", e.Message)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s: %s)", f.Persona, f.Status, f.Reason))
	}
	return fmt.Errorf("focus group failed: %s: %s", e.Message, strings.Join(parts, "; "))
}
