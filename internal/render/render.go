// Package render writes command results as aligned tables, TSV, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an output format name
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTSV   Format = "tsv"
)

// ParseFormat validates an output format name; blank selects table output
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML, FormatTSV:
		return f, nil
	default:
		return "", fmt.Errorf("invalid output format %q: must be one of: table, json, yaml, tsv", s)
	}
}

// Table is the tabular view of a result
type Table struct {
	Headers []string
	Rows    [][]string
}

// Renderer writes results in one format
type Renderer struct {
	writer io.Writer
	format Format
}

// NewRenderer returns a renderer writing format to writer
func NewRenderer(writer io.Writer, format Format) *Renderer {
	return &Renderer{writer: writer, format: format}
}

// Render writes data itself for JSON and YAML, and table for the text formats
func (r *Renderer) Render(data any, table Table) error {
	switch r.format {
	case FormatJSON:
		return r.RenderJSON(data)
	case FormatYAML:
		return r.RenderYAML(data)
	case FormatTSV:
		return r.RenderTSV(table.Headers, table.Rows)
	default:
		return r.RenderTable(table.Headers, table.Rows)
	}
}

// RenderJSON writes data as two-space indented JSON
func (r *Renderer) RenderJSON(data any) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// RenderYAML writes data as a YAML document
func (r *Renderer) RenderYAML(data any) error {
	enc := yaml.NewEncoder(r.writer)
	if err := enc.Encode(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// RenderTSV writes the header line and rows joined by tabs
func (r *Renderer) RenderTSV(headers []string, rows [][]string) error {
	var sb strings.Builder
	for _, line := range append([][]string{headers}, rows...) {
		sb.WriteString(strings.Join(line, "\t"))
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(r.writer, sb.String())
	return err
}

// RenderTable writes an aligned table: columns separated by two spaces, a
// dashed rule under the headers, the last column unpadded. Nothing is written
// when there are no rows.
func (r *Renderer) RenderTable(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	widths := columnWidths(headers, rows)
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}

	var sb strings.Builder
	for _, line := range append([][]string{headers, rule}, rows...) {
		alignRow(&sb, line, widths)
	}
	_, err := io.WriteString(r.writer, sb.String())
	return err
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(row[i]))
		}
	}
	return widths
}

// alignRow writes cells padded to widths; cells beyond the header count are dropped
func alignRow(sb *strings.Builder, cells []string, widths []int) {
	n := min(len(cells), len(widths))
	for i := 0; i < n; i++ {
		sb.WriteString(cells[i])
		if i < n-1 {
			sb.WriteString(strings.Repeat(" ", widths[i]-len(cells[i])+2))
		}
	}
	sb.WriteByte('\n')
}
