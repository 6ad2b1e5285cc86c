// Package report renders a playground's run history for clinicians.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mandolyte/mdtopdf"

	"github.com/nbalushi/malaab/internal/playground"
)

// BuildMarkdown summarizes a playground and its runs as a markdown document.
func BuildMarkdown(pg playground.Playground) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", pg.Title)
	fmt.Fprintf(&b, "- Verb: %s\n", pg.Verb)
	if len(pg.Dialects) > 0 {
		fmt.Fprintf(&b, "- Dialects: %s\n", strings.Join(pg.Dialects, ", "))
	}
	fmt.Fprintf(&b, "- Created: %s\n", pg.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- Runs: %d\n", len(pg.Runs))
	if pg.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", pg.Notes)
	}

	if len(pg.Runs) > 0 {
		b.WriteString("\n## Client runs\n\n")
		b.WriteString("| # | Client | Completed | Answers |\n")
		b.WriteString("|---|--------|-----------|--------|\n")
		for i, run := range pg.Runs {
			fmt.Fprintf(&b, "| %d | %s | %s | %d |\n",
				i+1, run.ClientName, run.Date.Format("2006-01-02 15:04"), len(run.Answers))
		}
	}

	return b.String()
}

// RenderPDF converts the playground summary into a PDF and returns its bytes.
func RenderPDF(pg playground.Playground) ([]byte, error) {
	dir, err := os.MkdirTemp("", "malaab-report-*")
	if err != nil {
		return nil, fmt.Errorf("os.MkdirTemp > %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	pdfPath := filepath.Join(dir, "report.pdf")
	renderer := mdtopdf.NewPdfRenderer("P", "A4", pdfPath, "", nil, mdtopdf.LIGHT)
	if err := renderer.Process([]byte(BuildMarkdown(pg))); err != nil {
		return nil, fmt.Errorf("renderer.Process() > %w", err)
	}

	contents, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s) > %w", pdfPath, err)
	}
	return contents, nil
}
