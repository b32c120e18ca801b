package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/driftscan/internal/model"
)

// timeRounding keeps run durations readable in the header.
const timeRounding = 100 * time.Millisecond

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with no content are shown.
	showEmpty bool

	// verbose enables additional detail in the output.
	verbose bool

	// printer formats counts with thousands separators. Manifest sizes
	// run into the hundreds of thousands, so raw %d is hard to read.
	printer *message.Printer
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		showEmpty:  false,
		verbose:    false,
		printer:    message.NewPrinter(language.English),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeCrawlSummary(&sb, report)
	w.writeFailedPages(&sb, report)
	w.writeDrift(&sb, report)
	w.writeBoundary(&sb, report)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with run information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         DRIFTSCAN REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Endpoint:   %s\n", report.Endpoint))
	sb.WriteString(fmt.Sprintf("Epoch:      %d\n", report.Epoch))
	sb.WriteString(fmt.Sprintf("Run Date:   %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("Duration:   %s\n", report.Duration().Round(timeRounding)))

	switch {
	case report.Cancelled:
		sb.WriteString("Status:     INTERRUPTED (resumable from checkpoint)\n")
	case report.ErrorMessage != "":
		sb.WriteString(fmt.Sprintf("Status:     ERROR - %s\n", report.ErrorMessage))
	default:
		sb.WriteString("Status:     Complete\n")
	}

	if report.Resumed {
		sb.WriteString("Resumed:    yes\n")
	}

	sb.WriteString("\n")
}

// writeCrawlSummary writes page counts and classification tallies.
func (w *SimpleWriter) writeCrawlSummary(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("CRAWL SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Requested range:  %s .. %s\n", report.StartPage, report.EndPage))
	if report.LastPage != "" {
		sb.WriteString(fmt.Sprintf("  Last page:        %s\n", report.LastPage))
	}
	sb.WriteString(w.printer.Sprintf("  Pages processed:  %d\n", report.PagesProcessed))
	sb.WriteString("\n")

	for _, class := range model.Classes() {
		count := report.Counts[class]
		if count == 0 && !w.showEmpty {
			continue
		}
		sb.WriteString(w.printer.Sprintf("  %-10s %d\n", string(class)+":", count))
	}
	sb.WriteString("\n")

	sb.WriteString(w.printer.Sprintf("  Manifest size:    %d identifiers\n", report.ManifestSize))
	sb.WriteString(w.printer.Sprintf("  New this run:     %d identifiers\n", report.NewIdentifiers))

	if report.StopRule != "" {
		sb.WriteString(fmt.Sprintf("  Stopped early:    %s\n", report.StopRule))
	}
	sb.WriteString("\n")
}

// writeFailedPages lists pages still failed after the retry sweep.
func (w *SimpleWriter) writeFailedPages(sb *strings.Builder, report *model.CrawlReport) {
	if len(report.FailedPages) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("FAILED PAGES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(report.FailedPages) == 0 {
		sb.WriteString("  No failed pages\n")
	} else {
		for _, page := range report.FailedPages {
			sb.WriteString(fmt.Sprintf("  [!] page %s\n", page))
		}
		sb.WriteString("\n  Failed pages are retried on the next run; the manifest keeps\n")
		sb.WriteString("  every identifier already collected.\n")
	}
	sb.WriteString("\n")
}

// writeDrift writes the stability verification section.
func (w *SimpleWriter) writeDrift(sb *strings.Builder, report *model.CrawlReport) {
	drift := report.Drift
	if drift == nil {
		if w.showEmpty {
			sb.WriteString(strings.Repeat("-", 70))
			sb.WriteString("\n")
			sb.WriteString("DRIFT VERIFICATION\n")
			sb.WriteString(strings.Repeat("-", 70))
			sb.WriteString("\n\n  Not run\n\n")
		}
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("DRIFT VERIFICATION\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Sampled:  %d pages\n", len(drift.Reports)))
	sb.WriteString(fmt.Sprintf("  Matched:  %d\n", drift.Matched))
	sb.WriteString(fmt.Sprintf("  Changed:  %d\n", drift.Changed))
	sb.WriteString(fmt.Sprintf("  Skipped:  %d\n", drift.Skipped))
	sb.WriteString("\n")

	if drift.Drifted() {
		sb.WriteString(fmt.Sprintf("  Listing drifted: epoch advanced to %d. Fingerprint history\n", drift.NextEpoch()))
		sb.WriteString("  was reset; the identifier manifest carries over.\n")
	} else {
		sb.WriteString(fmt.Sprintf("  Listing stable: epoch %d continues.\n", drift.Epoch))
	}
	sb.WriteString("\n")

	if w.verbose {
		for _, r := range drift.Reports {
			if r.Verdict == model.VerdictMatch {
				continue
			}
			sb.WriteString(fmt.Sprintf("  * page %s: %s", r.Page, r.Verdict))
			if r.Note != "" {
				sb.WriteString(fmt.Sprintf(" (%s)", r.Note))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
}

// writeBoundary writes the page-space probing section.
func (w *SimpleWriter) writeBoundary(sb *strings.Builder, report *model.CrawlReport) {
	boundary := report.Boundary
	if boundary == nil {
		if w.showEmpty {
			sb.WriteString(strings.Repeat("-", 70))
			sb.WriteString("\n")
			sb.WriteString("BOUNDARY PROBING\n")
			sb.WriteString(strings.Repeat("-", 70))
			sb.WriteString("\n\n  Not run\n\n")
		}
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("BOUNDARY PROBING\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Reference page:  %s\n", boundary.ReferencePage))
	w.writeSearch(sb, "Upper edge", boundary.Upper)
	w.writeSearch(sb, "Lower edge", boundary.Lower)
	sb.WriteString("\n")

	clamped := 0
	for _, probe := range boundary.Probes {
		if probe.Clamped {
			clamped++
		}
	}
	if clamped > 0 {
		sb.WriteString(fmt.Sprintf("  %d out-of-range probes were clamped to the reference page's\n", clamped))
		sb.WriteString("  content rather than failing. Edges reflect distinct content, not\n")
		sb.WriteString("  server acceptance.\n\n")
	}

	if w.verbose {
		for _, probe := range boundary.Probes {
			sb.WriteString(fmt.Sprintf("  * page %s: %s", probe.Page, probe.Status))
			if probe.Clamped {
				sb.WriteString(" (clamped)")
			}
			if probe.NewIdentifiers > 0 {
				sb.WriteString(fmt.Sprintf(", %d new identifiers", probe.NewIdentifiers))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
}

// writeSearch writes one directed edge search result.
func (w *SimpleWriter) writeSearch(sb *strings.Builder, label string, search *model.BoundarySearch) {
	if search == nil {
		return
	}

	sb.WriteString(fmt.Sprintf("  %-16s last good %s", label+":", search.LastGood))
	if search.Unbounded {
		sb.WriteString(", no edge below the search cap")
	} else if search.FirstBad != "" {
		sb.WriteString(fmt.Sprintf(", first bad %s", search.FirstBad))
	}
	sb.WriteString(fmt.Sprintf(" (%d probes)\n", search.Probes))
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by driftscan\n")
	sb.WriteString("https://github.com/nao1215/driftscan\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
