package result

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/jung-kurt/gofpdf"

	"todo-proj/internal/store"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Lister yields tasks in visible order.
type Lister interface {
	List(ctx context.Context) ([]store.Task, error)
}

type Exporter struct{ src Lister }

func NewExporter(src Lister) *Exporter { return &Exporter{src: src} }

func Formats() []string { return []string{"json", "csv", "pdf"} }

// ContentType returns the MIME type for a format, or "" when unknown.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return "application/json"
	case "csv":
		return "text/csv"
	case "pdf":
		return "application/pdf"
	}
	return ""
}

func (e *Exporter) Export(ctx context.Context, format string) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if ContentType(format) == "" {
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	all, err := e.src.List(ctx)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return sonic.ConfigStd.MarshalIndent(all, "", "  ")
	case "csv":
		return exportCSV(all)
	default:
		return exportPDF(all)
	}
}

func exportCSV(all []store.Task) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"id", "title", "completed", "priority", "due_date", "position"})
	for _, t := range all {
		due := ""
		if t.DueDate != nil {
			due = *t.DueDate
		}
		_ = w.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Title,
			strconv.FormatBool(t.Completed),
			string(t.Priority),
			due,
			strconv.FormatInt(t.Position, 10),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func exportPDF(all []store.Task) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, "Todo List")
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 10)
	if len(all) == 0 {
		pdf.Cell(40, 6, "Nothing to do.")
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, t := range all {
		mark := "[ ]"
		if t.Completed {
			mark = "[x]"
		}
		line := fmt.Sprintf("%s #%d %s (%s)", mark, t.ID, t.Title, t.Priority)
		if t.DueDate != nil {
			line += " due " + *t.DueDate
		}
		pdf.MultiCell(0, 6, tr(line), "0", "L", false)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
