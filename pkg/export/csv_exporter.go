package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders a Document into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the document: title rows, the
// summary block, then each table preceded by its section title.
func (e *CSVExporter) Render(doc Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if doc.Title != "" {
		if err := writer.Write([]string{doc.Title}); err != nil {
			return nil, fmt.Errorf("write csv title: %w", err)
		}
	}
	if doc.Subtitle != "" {
		if err := writer.Write([]string{doc.Subtitle}); err != nil {
			return nil, fmt.Errorf("write csv subtitle: %w", err)
		}
	}
	if len(doc.Summary) > 0 {
		writer.Write([]string{""}) //nolint:errcheck
		for _, pair := range doc.Summary {
			if err := writer.Write([]string{pair[0], pair[1]}); err != nil {
				return nil, fmt.Errorf("write csv summary row: %w", err)
			}
		}
	}

	for _, table := range doc.Tables {
		writer.Write([]string{""}) //nolint:errcheck
		if table.Title != "" {
			if err := writer.Write([]string{table.Title}); err != nil {
				return nil, fmt.Errorf("write csv section title: %w", err)
			}
		}
		if len(table.Headers) > 0 {
			if err := writer.Write(table.Headers); err != nil {
				return nil, fmt.Errorf("write csv headers: %w", err)
			}
		}
		for _, row := range table.Rows {
			if err := writer.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
