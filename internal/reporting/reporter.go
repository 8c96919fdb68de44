// internal/reporting/reporter.go
package reporting

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter writes a finished focus-group report to an output.
type Reporter interface {
	// Write renders one report.
	Write(report *schemas.FocusGroupReport) error
	// Close finalizes the output and closes any underlying file handle.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath; an empty path or
// "stdout" writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case "json", "text", "persisted":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "text":
		return &textReporter{w: writer}, nil
	case "persisted":
		return &jsonReporter{w: writer, persisted: true}, nil
	default:
		return &jsonReporter{w: writer}, nil
	}
}

// -- JSON --

type jsonReporter struct {
	w         io.WriteCloser
	persisted bool
}

func (r *jsonReporter) Write(report *schemas.FocusGroupReport) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if r.persisted {
		return enc.Encode(ToPersisted(report))
	}
	return enc.Encode(report)
}

func (r *jsonReporter) Close() error { return r.w.Close() }

// -- Text --

type textReporter struct {
	w io.WriteCloser
}

func (r *textReporter) Write(report *schemas.FocusGroupReport) error {
	bw := bufio.NewWriter(r.w)
	sum := report.ExecutiveSummary

	fmt.Fprintf(bw, "Focus group report for %s\n", report.URL)
	fmt.Fprintf(bw, "Generated %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(bw, "Participants: %d (succeeded %d, failed %d)\n", sum.Participants, sum.Succeeded, sum.Failed)
	if sum.Overview != "" {
		fmt.Fprintf(bw, "\n%s\n", sum.Overview)
	}

	section(bw, "Top insights")
	for _, in := range sum.TopInsights {
		fmt.Fprintf(bw, "  - %s (%d)\n", in.Text, in.Count)
	}

	section(bw, "Journeys")
	for _, j := range report.Journeys {
		fmt.Fprintf(bw, "  %s [%s]\n", j.Persona, j.Status)
		fmt.Fprintf(bw, "    First impression: %s\n", j.FirstImpression)
		fmt.Fprintf(bw, "    Engagement: %s\n", j.EngagementFlow)
		fmt.Fprintf(bw, "    Calls to action: %s\n", j.CTAEffectiveness)
		fmt.Fprintf(bw, "    Value proposition: %s\n", j.ValueProposition)
		fmt.Fprintf(bw, "    Conversion: %s\n", j.ConversionPath)
	}

	section(bw, "Recommendations")
	for _, rec := range report.Recommendations {
		fmt.Fprintf(bw, "  %d. %s (impact %s, effort %s, raised by %d)\n", rec.Priority, rec.Text, rec.Impact, rec.Effort, rec.Frequency)
	}

	if len(report.Failures) > 0 {
		section(bw, "Failures")
		for _, f := range report.Failures {
			fmt.Fprintf(bw, "  - %s: %s (%s)\n", f.Persona, f.Reason, f.Status)
		}
	}
	return bw.Flush()
}

func (r *textReporter) Close() error { return r.w.Close() }

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}
