package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/xuri/excelize/v2"
)

var ErrMalformedInput = errors.New("malformed input")

// Logical import fields.
const (
	FieldStoreCode    = "store_code"
	FieldFloorArea    = "floor_area"
	FieldBusinessName = "business_name"
	FieldAddress      = "address"
)

// Default sanity bounds for floor-area warnings, in square metres.
const (
	DefaultMinFloorArea = 10
	DefaultMaxFloorArea = 10000
)

// ColumnMatcher maps a logical field to the header keywords that identify it.
// Keywords are tried in order; the first header containing one wins.
type ColumnMatcher struct {
	Field    string
	Required bool
	Keywords []string
}

// ColumnMatchers is evaluated top to bottom. A header claimed by an earlier
// field is not offered to later ones.
var ColumnMatchers = []ColumnMatcher{
	{Field: FieldStoreCode, Required: true, Keywords: []string{"codice", "store_code", "code", "id"}},
	{Field: FieldFloorArea, Required: true, Keywords: []string{"metri", "mq", "square", "superficie"}},
	{Field: FieldBusinessName, Keywords: []string{"ragione", "nome", "name", "business"}},
	{Field: FieldAddress, Keywords: []string{"indirizzo", "address", "ubicazione"}},
}

// ImportedRow is a typed roster line that passed mapping.
type ImportedRow struct {
	Row          int     `json:"row"`
	StoreCode    string  `json:"store_code"`
	BusinessName string  `json:"business_name"`
	Address      string  `json:"address"`
	FloorArea    float64 `json:"floor_area"`
}

type MappingResult struct {
	Rows    []ImportedRow    `json:"rows"`
	Errors  []model.RowError `json:"errors"`
	Columns map[string]int   `json:"columns"`
}

type ValidationResult struct {
	IsValid  bool             `json:"is_valid"`
	Errors   []model.RowError `json:"errors"`
	Warnings []model.RowError `json:"warnings"`
}

type ProcessingResult struct {
	Filename   string           `json:"filename"`
	Uploader   string           `json:"uploader"`
	TotalRows  int              `json:"total_rows"`
	Rows       []ImportedRow    `json:"rows"`
	Mapping    MappingResult    `json:"mapping"`
	Validation ValidationResult `json:"validation"`
	Success    bool             `json:"success"`
}

// ErrorSummary is the one-line message stored on a failed import job.
func (r *ProcessingResult) ErrorSummary() string {
	n := len(r.Validation.Errors)
	if n == 0 {
		return ""
	}
	first := r.Validation.Errors[0]
	if first.Row == 0 {
		return fmt.Sprintf("Validation failed with %d errors: %s", n, first.Message)
	}
	return fmt.Sprintf("Validation failed with %d errors (first at row %d: %s)", n, first.Row, first.Message)
}

type FileProcessorOptions struct {
	MinFloorArea float64
	MaxFloorArea float64
}

type FileProcessor interface {
	ParseCSV(content string) ([][]string, error)
	ParseXLSX(content string) ([][]string, error)
	MapRows(raw [][]string) MappingResult
	Validate(rows []ImportedRow) ValidationResult
	ProcessFile(filename, content, uploader string) ProcessingResult
}

type fileProcessor struct {
	minArea float64
	maxArea float64
}

func NewFileProcessor(opts FileProcessorOptions) FileProcessor {
	if opts.MinFloorArea <= 0 {
		opts.MinFloorArea = DefaultMinFloorArea
	}
	if opts.MaxFloorArea <= 0 {
		opts.MaxFloorArea = DefaultMaxFloorArea
	}
	return &fileProcessor{minArea: opts.MinFloorArea, maxArea: opts.MaxFloorArea}
}

// ParseCSV reads comma or semicolon separated text. The delimiter is picked
// from the header line; blank lines are dropped.
func (p *fileProcessor) ParseCSV(content string) ([][]string, error) {
	content = strings.TrimPrefix(content, "\ufeff")

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: file must contain a header and at least one data row", ErrMalformedInput)
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	reader.Comma = detectDelimiter(lines[0])
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, trimFields(record))
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: file must contain a header and at least one data row", ErrMalformedInput)
	}
	return rows, nil
}

// ParseXLSX reads the first sheet of a workbook.
func (p *fileProcessor) ParseXLSX(content string) ([][]string, error) {
	f, err := excelize.OpenReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open workbook: %v", ErrMalformedInput, err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("%w: no sheets found in workbook", ErrMalformedInput)
	}

	all, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read rows: %v", ErrMalformedInput, err)
	}

	var rows [][]string
	for _, record := range all {
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, trimFields(record))
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: sheet must contain a header and at least one data row", ErrMalformedInput)
	}
	return rows, nil
}

// resolveColumns applies ColumnMatchers to the header row.
func resolveColumns(header []string) map[string]int {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	claimed := make(map[int]bool)
	columns := make(map[string]int)
	for _, m := range ColumnMatchers {
	keywords:
		for _, kw := range m.Keywords {
			for i, h := range lower {
				if !claimed[i] && strings.Contains(h, kw) {
					columns[m.Field] = i
					claimed[i] = true
					break keywords
				}
			}
		}
	}
	return columns
}

func (p *fileProcessor) MapRows(raw [][]string) MappingResult {
	result := MappingResult{
		Rows:   make([]ImportedRow, 0),
		Errors: make([]model.RowError, 0),
	}
	if len(raw) == 0 {
		result.Errors = append(result.Errors, model.RowError{Row: 0, Message: "file has no header row"})
		return result
	}

	result.Columns = resolveColumns(raw[0])
	for _, m := range ColumnMatchers {
		if _, ok := result.Columns[m.Field]; m.Required && !ok {
			result.Errors = append(result.Errors, model.RowError{
				Row:     0,
				Field:   m.Field,
				Message: fmt.Sprintf("required column %q not found (expected a header containing one of: %s)", m.Field, strings.Join(m.Keywords, ", ")),
			})
			return result
		}
	}

	for i, record := range raw[1:] {
		rowNum := i + 2

		code := cell(record, result.Columns, FieldStoreCode)
		if code == "" {
			result.Errors = append(result.Errors, model.RowError{
				Row:     rowNum,
				Field:   FieldStoreCode,
				Message: "store code is missing",
			})
			continue
		}

		areaRaw := cell(record, result.Columns, FieldFloorArea)
		area, ok := parseFloorArea(areaRaw)
		if !ok {
			result.Errors = append(result.Errors, model.RowError{
				Row:     rowNum,
				Field:   FieldFloorArea,
				Value:   areaRaw,
				Message: fmt.Sprintf("floor area %q is not a positive number", areaRaw),
			})
			continue
		}

		result.Rows = append(result.Rows, ImportedRow{
			Row:          rowNum,
			StoreCode:    code,
			BusinessName: cell(record, result.Columns, FieldBusinessName),
			Address:      cell(record, result.Columns, FieldAddress),
			FloorArea:    area,
		})
	}

	return result
}

func (p *fileProcessor) Validate(rows []ImportedRow) ValidationResult {
	result := ValidationResult{
		Errors:   make([]model.RowError, 0),
		Warnings: make([]model.RowError, 0),
	}

	firstSeen := make(map[string]int, len(rows))
	for _, row := range rows {
		if prev, dup := firstSeen[row.StoreCode]; dup {
			result.Errors = append(result.Errors, model.RowError{
				Row:     row.Row,
				Field:   FieldStoreCode,
				Value:   row.StoreCode,
				Message: fmt.Sprintf("duplicate store code %s (first seen at row %d)", row.StoreCode, prev),
			})
			continue
		}
		firstSeen[row.StoreCode] = row.Row

		value := strconv.FormatFloat(row.FloorArea, 'f', -1, 64)
		switch {
		case row.FloorArea < p.minArea:
			result.Warnings = append(result.Warnings, model.RowError{
				Row:     row.Row,
				Field:   FieldFloorArea,
				Value:   value,
				Message: fmt.Sprintf("floor area %s is below %g", value, p.minArea),
			})
		case row.FloorArea > p.maxArea:
			result.Warnings = append(result.Warnings, model.RowError{
				Row:     row.Row,
				Field:   FieldFloorArea,
				Value:   value,
				Message: fmt.Sprintf("floor area %s is above %g", value, p.maxArea),
			})
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// ProcessFile runs parse, map and validate. Mapping errors count against the
// file exactly like validation errors, and a file with any error yields no rows.
func (p *fileProcessor) ProcessFile(filename, content, uploader string) ProcessingResult {
	result := ProcessingResult{
		Filename: filename,
		Uploader: uploader,
		Rows:     make([]ImportedRow, 0),
		Validation: ValidationResult{
			Errors:   make([]model.RowError, 0),
			Warnings: make([]model.RowError, 0),
		},
	}

	var raw [][]string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		raw, err = p.ParseXLSX(content)
	default:
		raw, err = p.ParseCSV(content)
	}
	if err != nil {
		logger.Warn("Import file could not be parsed", map[string]interface{}{
			"filename": filename,
			"error":    err.Error(),
		})
		result.Validation.Errors = append(result.Validation.Errors, model.RowError{Row: 0, Message: err.Error()})
		return result
	}
	result.TotalRows = len(raw) - 1

	mapping := p.MapRows(raw)
	validation := p.Validate(mapping.Rows)
	result.Mapping = mapping

	errs := make([]model.RowError, 0, len(mapping.Errors)+len(validation.Errors))
	errs = append(errs, mapping.Errors...)
	errs = append(errs, validation.Errors...)

	result.Validation = ValidationResult{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: validation.Warnings,
	}
	result.Success = result.Validation.IsValid
	if result.Success {
		result.Rows = mapping.Rows
	}

	logger.Info("Import file processed", map[string]interface{}{
		"filename":   filename,
		"uploader":   uploader,
		"total_rows": result.TotalRows,
		"valid_rows": len(result.Rows),
		"errors":     len(errs),
		"warnings":   len(validation.Warnings),
	})
	return result
}

func detectDelimiter(header string) rune {
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

// parseFloorArea accepts both "120.5" and "120,5".
func parseFloorArea(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

func cell(record []string, columns map[string]int, field string) string {
	idx, ok := columns[field]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func trimFields(record []string) []string {
	out := make([]string, len(record))
	for i, f := range record {
		out[i] = strings.TrimSpace(f)
	}
	return out
}
