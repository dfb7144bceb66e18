package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		Title:    "Daily Attendance Report",
		Subtitle: "2026-03-02",
		Summary: [][2]string{
			{"Total check-ins", "3"},
			{"Unique students", "2"},
		},
		Tables: []Table{
			{
				Title:   "Check-ins by hour",
				Headers: []string{"Hour", "Check-ins"},
				Rows:    [][]string{{"09:00", "1"}, {"18:00", "2"}},
			},
			{
				Title:   "Attendees",
				Headers: []string{"Student", "Plan"},
				Rows:    [][]string{{"Ana", "Basic"}},
			},
		},
	}
}

func TestCSVExporterRendersSections(t *testing.T) {
	data, err := NewCSVExporter().Render(sampleDocument())
	require.NoError(t, err)

	out := string(data)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, "Daily Attendance Report", lines[0])
	assert.Equal(t, "2026-03-02", lines[1])
	assert.Contains(t, out, "Total check-ins,3")
	assert.Contains(t, out, "Hour,Check-ins")
	assert.Contains(t, out, "18:00,2")
	assert.Contains(t, out, "Ana,Basic")
}

func TestCSVExporterEmptyDocument(t *testing.T) {
	data, err := NewCSVExporter().Render(Document{})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestPDFExporterProducesDocument(t *testing.T) {
	data, err := NewPDFExporter().Render(sampleDocument())
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}
