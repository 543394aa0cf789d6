package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/ternarybob/taskferry/internal/models"
)

// Column is one CSV column: a header and how to read it from a record
type Column struct {
	Header string
	Value  func(r models.ExportRecord) string
}

// DefaultColumns is the column layout of exported files
var DefaultColumns = []Column{
	{"Task ID", func(r models.ExportRecord) string { return r.TaskID }},
	{"Task Number", func(r models.ExportRecord) string { return r.TaskNumber }},
	{"Title", func(r models.ExportRecord) string { return r.Title }},
	{"Status", func(r models.ExportRecord) string { return r.Status }},
	{"Closed", func(r models.ExportRecord) string { return strconv.FormatBool(r.Closed) }},
	{"Assignee", func(r models.ExportRecord) string { return r.Assignee }},
	{"Due Date", func(r models.ExportRecord) string { return r.DueDate }},
	{"Created At", func(r models.ExportRecord) string { return r.CreatedAt }},
	{"Description", func(r models.ExportRecord) string { return r.Description }},
	{"Comments", func(r models.ExportRecord) string { return r.Comments }},
	{"Comment Count", func(r models.ExportRecord) string { return strconv.Itoa(r.CommentCount) }},
	{"Productive URL", func(r models.ExportRecord) string { return r.OriginURL }},
	{"Linear Issue", func(r models.ExportRecord) string { return r.LinearIdentifier }},
	{"Linear URL", func(r models.ExportRecord) string { return r.LinearURL }},
	{"Error", func(r models.ExportRecord) string { return r.Error }},
}

// WriteCSV serializes records with the given columns (DefaultColumns when nil).
// Fields containing commas, quotes or newlines are quoted per RFC 4180.
func WriteCSV(records []models.ExportRecord, columns []Column) ([]byte, error) {
	if columns == nil {
		columns = DefaultColumns
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Header
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	row := make([]string, len(columns))
	for _, record := range records {
		for i, col := range columns {
			row[i] = col.Value(record)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row for task %s: %w", record.TaskID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
