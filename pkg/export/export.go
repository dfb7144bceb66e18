package export

// Table is one titled tabular section of a document.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Document is a sectioned report: a summary block of label/value pairs
// followed by any number of tables. The daily attendance report renders
// through this shape in both CSV and PDF form.
type Document struct {
	Title    string
	Subtitle string
	Summary  [][2]string
	Tables   []Table
}
