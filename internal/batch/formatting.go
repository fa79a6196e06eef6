package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

// formatBatchResults formats the batch results in the given format.
func formatBatchResults(items []*Item, format string) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(items)
	case FormatCSV:
		return formatCSV(items)
	default:
		return formatText(items), nil
	}
}

type jsonItem struct {
	File   string          `json:"file"`
	Output pipeline.Output `json:"output"`
}

// formatJSON formats results as JSON. Only content is written, so the same
// inputs produce the same report.
func formatJSON(items []*Item) (string, error) {
	out := struct {
		Documents []jsonItem `json:"documents"`
	}{Documents: make([]jsonItem, 0, len(items))}

	for _, it := range items {
		ji := jsonItem{File: it.File}
		if it.Result != nil {
			ji.Output = it.Result.Output()
		}
		out.Documents = append(out.Documents, ji)
	}
	bts, err := json.MarshalIndent(out, "", "  ")
	return string(bts), err
}

var csvHeader = []string{
	"file", "status", "verdict", "category", "total", "confidence", "reasons", "failure_stage", "failure_kind", "message",
}

// formatCSV writes one row per document.
func formatCSV(items []*Item) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.Write(csvHeader); err != nil {
		return "", err
	}
	for _, it := range items {
		if err := writer.Write(csvRow(it)); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

func csvRow(it *Item) []string {
	row := make([]string, len(csvHeader))
	row[0] = it.File
	res := it.Result
	if res == nil {
		return row
	}
	row[1] = string(res.Status)
	if rec := res.Record; rec != nil {
		flat := rec.Flat()
		row[2] = string(rec.Verdict)
		row[3] = rec.Category
		row[4] = flat.Total
		row[5] = fmt.Sprintf("%.3f", rec.Confidence)
		row[6] = strings.Join(rec.Reasons, ";")
	}
	if f := res.Failure; f != nil {
		row[7] = string(f.Stage)
		row[8] = string(f.Kind)
		row[9] = f.Message
	}
	return row
}

// formatText writes a short human readable summary per document.
func formatText(items []*Item) string {
	var output strings.Builder
	for i, it := range items {
		if i > 0 {
			output.WriteString("\n")
		}
		output.WriteString(fmt.Sprintf("# %s\n", it.File))
		res := it.Result
		switch {
		case res == nil:
			output.WriteString("  no result\n")
		case res.Failure != nil:
			output.WriteString(fmt.Sprintf("  failed during %s: %s: %s\n", res.Failure.Stage, res.Failure.Kind, res.Failure.Message))
		case res.Record != nil:
			output.WriteString(RecordText(res))
		}
	}
	return output.String()
}

// RecordText renders the record of a completed result as indented text.
func RecordText(res *pipeline.Result) string {
	var b strings.Builder
	rec := res.Record
	flat := rec.Flat()
	b.WriteString(fmt.Sprintf("  verdict: %s (confidence %.2f)\n", rec.Verdict, rec.Confidence))
	b.WriteString(fmt.Sprintf("  category: %s\n", rec.Category))
	if rec.Header.ProviderName != "" {
		b.WriteString(fmt.Sprintf("  provider: %s\n", rec.Header.ProviderName))
	}
	if flat.Total != "" {
		b.WriteString(fmt.Sprintf("  total: %s\n", flat.Total))
	}
	for _, li := range rec.LineItems {
		b.WriteString(fmt.Sprintf("  - %s: %s\n", li.Description, li.Amount.StringFixed(2)))
	}
	if len(rec.Reasons) > 0 {
		b.WriteString(fmt.Sprintf("  reasons: %s\n", strings.Join(rec.Reasons, ", ")))
	}
	return b.String()
}
