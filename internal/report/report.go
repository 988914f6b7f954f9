package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ragagent/internal/domain"
)

// ContextSeparator joins the retrieved contexts of a row into one cell.
const ContextSeparator = "\n---\n"

// Header returns the column names for the given metrics.
func Header(metrics []string) []string {
	return append([]string{"question", "answer", "contexts", "ground_truth"}, metrics...)
}

// Rows renders records as string cells. Unscored metrics are empty cells.
func Rows(records []domain.EvaluationRecord, metrics []string) [][]string {
	rows := make([][]string, len(records))
	for i, r := range records {
		row := []string{r.Question, r.Answer, strings.Join(r.Contexts, ContextSeparator), r.GroundTruth}
		for _, m := range metrics {
			row = append(row, formatScore(r.Scores, m))
		}
		rows[i] = row
	}
	return rows
}

func formatScore(scores map[string]float64, metric string) string {
	v, ok := scores[metric]
	if !ok || !domain.IsScored(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Write saves the report to path. The format follows the extension: .xlsx
// writes a workbook, anything else writes CSV.
func Write(path string, records []domain.EvaluationRecord, metrics []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeXLSX(path, records, metrics)
	}
	return writeCSV(path, records, metrics)
}

func writeCSV(path string, records []domain.EvaluationRecord, metrics []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(Header(metrics)); err != nil {
		return err
	}
	if err := w.WriteAll(Rows(records, metrics)); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return f.Close()
}

func writeXLSX(path string, records []domain.EvaluationRecord, metrics []string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, 0, len(metrics)+4)
	for _, h := range Header(metrics) {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range records {
		row := []interface{}{r.Question, r.Answer, strings.Join(r.Contexts, ContextSeparator), r.GroundTruth}
		for _, m := range metrics {
			// scores stay numeric so the sheet can aggregate them
			if v, ok := r.Scores[m]; ok && domain.IsScored(v) {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("write xlsx report: %w", err)
	}
	return nil
}
