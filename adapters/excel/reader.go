// Package excel reads count tables and group labels from Excel and CSV
// files. The first column carries sample identifiers, one designated column
// carries the group label, and every remaining column is a feature.
package excel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"propd/domain/compositional"
	"propd/internal"
	"propd/internal/errors"
)

// DataReader handles reading Excel and CSV count tables.
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	log      *internal.Logger
}

// Dataset is a parsed count table: the validated count matrix plus the group
// assignment pulled from the label column.
type Dataset struct {
	Counts *compositional.CountMatrix
	Labels *compositional.GroupLabels
}

// NewDataReader creates a reader that handles both Excel and CSV files,
// dispatching on the file extension.
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, log: internal.DefaultLogger}
}

// ReadDataset reads the file and splits it into counts and labels. The
// labelColumn names the header of the group column; it must exist and must
// not be the sample identifier column.
func (r *DataReader) ReadDataset(labelColumn string) (*Dataset, error) {
	r.log.Info("[DataReader] reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.InvalidInput(strings.ToUpper(r.fileType) + " file not found: " + r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, errors.InvalidInput("unsupported file type: " + r.fileType)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput("count table must have a header row and at least one sample row")
	}

	return r.processRows(rows, labelColumn)
}

// readExcelRows reads Sheet1 as raw string rows.
func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Excel file")
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Sheet1")
	}
	r.log.Debug("[DataReader] Sheet1 read (%d rows)", len(rows))
	return rows, nil
}

// readCSVRows reads the whole CSV file as raw string rows.
func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV file")
	}
	r.log.Debug("[DataReader] CSV file read (%d rows)", len(rows))
	return rows, nil
}

// processRows converts raw string rows into a Dataset. Column 0 is the
// sample identifier; the label column is pulled out; everything else must
// parse as a non-negative count.
func (r *DataReader) processRows(rows [][]string, labelColumn string) (*Dataset, error) {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}
	if len(headers) < 3 {
		return nil, errors.InvalidInput("count table needs a sample column, a label column and at least two features")
	}

	labelIdx := -1
	for i, h := range headers {
		if strings.EqualFold(h, labelColumn) {
			labelIdx = i
			break
		}
	}
	if labelIdx < 0 {
		return nil, errors.InvalidInput("label column not found: " + labelColumn)
	}
	if labelIdx == 0 {
		return nil, errors.InvalidInput("label column cannot be the sample identifier column")
	}

	var features []string
	var featureCols []int
	for i := 1; i < len(headers); i++ {
		if i == labelIdx {
			continue
		}
		features = append(features, headers[i])
		featureCols = append(featureCols, i)
	}

	samples := make([]string, 0, len(rows)-1)
	labels := make([]string, 0, len(rows)-1)
	data := make([][]float64, 0, len(rows)-1)

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) <= labelIdx {
			return nil, errors.InvalidInput("row " + strconv.Itoa(i) + " is missing the label column")
		}
		samples = append(samples, strings.TrimSpace(row[0]))
		labels = append(labels, strings.TrimSpace(row[labelIdx]))

		counts := make([]float64, len(featureCols))
		for fi, col := range featureCols {
			cell := ""
			if col < len(row) {
				cell = strings.TrimSpace(row[col])
			}
			if cell == "" {
				return nil, errors.InvalidInput("row " + strconv.Itoa(i) + " has an empty count cell")
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.InvalidInput("row " + strconv.Itoa(i) + " column " + headers[col] + " is not numeric: " + cell)
			}
			counts[fi] = v
		}
		data = append(data, counts)
	}

	counts, err := compositional.NewCountMatrix(data, samples, features)
	if err != nil {
		return nil, err
	}
	groups, err := compositional.NewGroupLabels(labels, counts.Samples())
	if err != nil {
		return nil, err
	}

	r.log.Info("[DataReader] %s file processed (%d samples, %d features)",
		strings.ToUpper(r.fileType), counts.Samples(), counts.Features())

	return &Dataset{Counts: counts, Labels: groups}, nil
}
