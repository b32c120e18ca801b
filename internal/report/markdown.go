package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/driftscan/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeAlert(md, report)
	w.writeClassSummary(md, report)
	w.writeManifest(md, report)
	w.writeDrift(md, report)
	w.writeBoundary(md, report)
	w.writeFailedPages(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("Driftscan Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Endpoint", "`" + report.Endpoint + "`"},
			{"Epoch", strconv.Itoa(report.Epoch)},
			{"Run Date", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", report.Duration().Round(timeRounding).String()},
			{"Requested Range", string(report.StartPage) + " .. " + string(report.EndPage)},
			{"Pages Processed", strconv.Itoa(report.PagesProcessed)},
			{"Status", w.getStatusText(report)},
		},
	})
	md.PlainText("")
}

// getStatusText returns the status text based on report state.
func (w *MarkdownWriter) getStatusText(report *model.CrawlReport) string {
	if report.Cancelled {
		return "⚠️ Interrupted (resumable from checkpoint)"
	}
	if report.ErrorMessage != "" {
		return "❌ Error - " + report.ErrorMessage
	}
	return "✅ Complete"
}

// writeAlert writes an appropriate alert based on the run outcome.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.CrawlReport) {
	switch {
	case report.ErrorMessage != "":
		md.Cautionf("The run failed: %s", report.ErrorMessage)
	case report.Cancelled:
		md.Warningf(
			"The run was interrupted. The checkpoint on disk is consistent; rerun to resume.",
		)
	case report.Drift != nil && report.Drift.Drifted():
		md.Importantf(
			"The listing drifted since the last checkpoint. Fingerprint history was reset under epoch %d; the identifier manifest carries over.",
			report.Drift.NextEpoch(),
		)
	case len(report.FailedPages) > 0:
		md.Note(fmt.Sprintf(
			"%d page(s) stayed failed after the retry sweep and will be retried on the next run.",
			len(report.FailedPages),
		))
	default:
		md.Tip("The run completed with no drift and no failed pages.")
	}
	md.PlainText("")
}

// writeClassSummary writes the classification count table and pie chart.
func (w *MarkdownWriter) writeClassSummary(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Classification Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(model.Classes())+1)
	total := 0
	for _, class := range model.Classes() {
		count := report.Counts[class]
		total += count
		rows = append(rows, []string{string(class), strconv.Itoa(count)})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(total) + "**"})

	md.Table(markdown.TableSet{
		Header: []string{"Class", "Pages"},
		Rows:   rows,
	})
	md.PlainText("")

	if total > 0 {
		w.writePieChart(md, report)
	}
}

// writePieChart writes a mermaid pie chart for the class distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.CrawlReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Page Classification Distribution"),
		piechart.WithShowData(true),
	)

	for _, class := range model.Classes() {
		if count := report.Counts[class]; count > 0 {
			chart.LabelAndIntValue(string(class), uint64(count))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeManifest writes the identifier manifest section.
func (w *MarkdownWriter) writeManifest(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Identifier Manifest")
	md.PlainText("")

	rows := [][]string{
		{"Distinct identifiers", strconv.Itoa(report.ManifestSize)},
		{"New this run", strconv.Itoa(report.NewIdentifiers)},
	}
	if report.LastPage != "" {
		rows = append(rows, []string{"Last page processed", string(report.LastPage)})
	}
	if report.StopRule != "" {
		rows = append(rows, []string{"Stop rule", report.StopRule})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeDrift writes the stability verification section.
func (w *MarkdownWriter) writeDrift(md *markdown.Markdown, report *model.CrawlReport) {
	drift := report.Drift
	if drift == nil {
		return
	}

	md.H2("Drift Verification")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Verdict", "Pages"},
		Rows: [][]string{
			{"MATCH", strconv.Itoa(drift.Matched)},
			{"CHANGED", strconv.Itoa(drift.Changed)},
			{"SKIPPED", strconv.Itoa(drift.Skipped)},
		},
	})
	md.PlainText("")

	changed := make([][]string, 0, drift.Changed+drift.Skipped)
	for _, r := range drift.Reports {
		if r.Verdict == model.VerdictMatch {
			continue
		}
		note := r.Note
		if note == "" {
			note = "-"
		}
		changed = append(changed, []string{string(r.Page), string(r.Verdict), note})
	}
	if len(changed) > 0 {
		md.Table(markdown.TableSet{
			Header: []string{"Page", "Verdict", "Note"},
			Rows:   changed,
		})
		md.PlainText("")
	}
}

// writeBoundary writes the page-space probing section.
func (w *MarkdownWriter) writeBoundary(md *markdown.Markdown, report *model.CrawlReport) {
	boundary := report.Boundary
	if boundary == nil {
		return
	}

	md.H2("Boundary Probing")
	md.PlainText("")

	rows := make([][]string, 0, 2)
	if row := w.searchRow("Upper", boundary.Upper); row != nil {
		rows = append(rows, row)
	}
	if row := w.searchRow("Lower", boundary.Lower); row != nil {
		rows = append(rows, row)
	}

	md.Table(markdown.TableSet{
		Header: []string{"Direction", "Last Good", "First Bad", "Probes"},
		Rows:   rows,
	})
	md.PlainText("")

	clamped := 0
	for _, probe := range boundary.Probes {
		if probe.Clamped {
			clamped++
		}
	}
	if clamped > 0 {
		md.PlainTextf(
			"%d out-of-range probe(s) were clamped to the reference page (`%s`) rather than failing.",
			clamped, string(boundary.ReferencePage),
		)
		md.PlainText("")
	}
}

// searchRow renders one directed edge search as a table row.
func (w *MarkdownWriter) searchRow(direction string, search *model.BoundarySearch) []string {
	if search == nil {
		return nil
	}
	firstBad := string(search.FirstBad)
	if search.Unbounded {
		firstBad = "none below cap"
	} else if firstBad == "" {
		firstBad = "-"
	}
	return []string{direction, string(search.LastGood), firstBad, strconv.Itoa(search.Probes)}
}

// writeFailedPages lists pages still failed after the retry sweep.
func (w *MarkdownWriter) writeFailedPages(md *markdown.Markdown, report *model.CrawlReport) {
	if len(report.FailedPages) == 0 {
		return
	}

	md.H2("Failed Pages")
	md.PlainText("")

	pages := make([]string, len(report.FailedPages))
	for i, page := range report.FailedPages {
		pages[i] = string(page)
	}
	md.BulletList(pages...)
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [driftscan](https://github.com/nao1215/driftscan)*")
}
