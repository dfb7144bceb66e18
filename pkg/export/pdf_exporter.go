package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders a Document into a basic tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF with the title, summary block, and each table.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(doc.Title), "", 1, "C", false, 0, "")
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, doc.Subtitle, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	if len(doc.Summary) > 0 {
		pdf.SetFont("Arial", "", 10)
		for _, pair := range doc.Summary {
			pdf.CellFormat(95, 7, pair[0], "1", 0, "", false, 0, "")
			pdf.CellFormat(95, 7, pair[1], "1", 0, "", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}

	for _, table := range doc.Tables {
		if table.Title != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, table.Title, "", 1, "", false, 0, "")
		}
		if len(table.Headers) == 0 {
			continue
		}
		colWidth := 190.0 / float64(len(table.Headers))

		pdf.SetFont("Arial", "B", 10)
		for _, header := range table.Headers {
			pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, row := range table.Rows {
			for i := range table.Headers {
				value := ""
				if i < len(row) {
					value = row[i]
				}
				pdf.CellFormat(colWidth, 7, value, "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
