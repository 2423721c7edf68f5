// Package extract turns a downloaded portal workbook into canonical records.
package extract

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
)

const progressEvery = 100

// Extractor reads workbooks produced by the portal's download buttons.
type Extractor struct {
	logger *zap.Logger
}

// New creates an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("extract")}
}

// Parse reads the active sheet of the workbook at path. Row 1 is the header
// row; every later row with at least one non-empty mapped value becomes a
// record, in sheet order. Malformed cells degrade to null and are logged.
func (e *Extractor) Parse(path string, q schemas.QueryType) ([]schemas.Record, error) {
	mapping, err := MappingFor(q)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("extract: workbook not readable: %w", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: open workbook %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			e.logger.Debug("Failed to close workbook.", zap.String("path", path), zap.Error(cerr))
		}
	}()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		return nil, fmt.Errorf("extract: workbook %s has no active sheet", path)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("extract: read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	log := e.logger.With(zap.String("query_type", string(q)), zap.String("sheet", sheet))
	reader := &sheetReader{
		file:     f,
		sheet:    sheet,
		date1904: uses1904(f),
		dateByID: make(map[int]bool),
		log:      log,
	}

	records := make([]schemas.Record, 0)
	var binding []int
	rowNum := 0
	for rows.Next() {
		rowNum++
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			if rowNum == 1 {
				return nil, fmt.Errorf("extract: read header row: %w", err)
			}
			log.Warn("Skipping unreadable row.", zap.Int("row", rowNum), zap.Error(err))
			continue
		}

		if rowNum == 1 {
			binding = bindColumns(mapping, cells, log)
			continue
		}
		if blankRow(cells) {
			continue
		}

		rec, keep := reader.record(rowNum, mapping, binding, cells)
		if !keep {
			continue
		}
		records = append(records, rec)
		if len(records)%progressEvery == 0 {
			log.Info("Extraction progress.", zap.Int("records", len(records)), zap.Int("row", rowNum))
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("extract: iterate sheet %q: %w", sheet, err)
	}
	if rowNum == 0 {
		log.Warn("Workbook sheet is empty; no header row.")
	}

	log.Info("Workbook extracted.", zap.Int("records", len(records)), zap.Int("rows", rowNum))
	return records, nil
}

// bindColumns resolves each canonical field to the first header, scanning
// left to right, that equals one of its aliases. Unbound fields get -1 and
// come out null on every row.
func bindColumns(mapping ColumnMapping, headers []string, log *zap.Logger) []int {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = collapseSpace(h)
	}

	binding := make([]int, len(mapping))
	var unbound []string
	for i, col := range mapping {
		binding[i] = headerIndex(normalized, col.Aliases)
		if binding[i] < 0 {
			unbound = append(unbound, col.Field)
		}
	}
	if len(unbound) > 0 {
		log.Warn("Columns missing from header row; values will be null.",
			zap.Strings("fields", unbound), zap.Strings("headers", normalized))
	}
	return binding
}

func headerIndex(headers []string, aliases []string) int {
	for i, h := range headers {
		if h == "" {
			continue
		}
		for _, alias := range aliases {
			if h == alias {
				return i
			}
		}
	}
	return -1
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// sheetReader holds per-workbook state needed to interpret raw cell values.
type sheetReader struct {
	file     *excelize.File
	sheet    string
	date1904 bool
	dateByID map[int]bool
	log      *zap.Logger
}

func (r *sheetReader) record(rowNum int, mapping ColumnMapping, binding []int, cells []string) (schemas.Record, bool) {
	rec := make(schemas.Record, len(mapping))
	keep := false
	for i, col := range mapping {
		idx := -1
		if i < len(binding) {
			idx = binding[i]
		}
		if idx < 0 || idx >= len(cells) {
			rec[col.Field] = nil
			continue
		}
		v, err := r.value(rowNum, idx, cells[idx])
		if err != nil {
			r.log.Warn("Cell could not be normalized; using null.",
				zap.Int("row", rowNum), zap.String("field", col.Field), zap.Error(err))
			rec[col.Field] = nil
			continue
		}
		rec[col.Field] = v
		if v != nil && *v != "" {
			keep = true
		}
	}
	return rec, keep
}

// value normalizes one raw cell. Cells formatted as dates hold a serial day
// number and are converted to the canonical date-time string.
func (r *sheetReader) value(rowNum, colIdx int, raw string) (*string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	isDate, err := r.isDateCell(rowNum, colIdx)
	if err != nil {
		return nil, err
	}
	if !isDate {
		return normalizeCell(raw), nil
	}

	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		// A date-formatted cell holding text; treat it like any other string.
		return normalizeCell(raw), nil
	}
	t, err := excelize.ExcelDateToTime(serial, r.date1904)
	if err != nil {
		return nil, fmt.Errorf("convert date serial %v: %w", serial, err)
	}
	s := FormatDateTime(t.Round(time.Second))
	return &s, nil
}

func (r *sheetReader) isDateCell(rowNum, colIdx int) (bool, error) {
	ref, err := excelize.CoordinatesToCellName(colIdx+1, rowNum)
	if err != nil {
		return false, err
	}
	styleID, err := r.file.GetCellStyle(r.sheet, ref)
	if err != nil {
		return false, fmt.Errorf("style of %s: %w", ref, err)
	}
	if isDate, ok := r.dateByID[styleID]; ok {
		return isDate, nil
	}
	style, err := r.file.GetStyle(styleID)
	if err != nil {
		return false, fmt.Errorf("style %d: %w", styleID, err)
	}
	isDate := isDateStyle(style)
	r.dateByID[styleID] = isDate
	return isDate, nil
}

// isDateStyle recognizes the built-in date number formats and custom formats
// made of date or time tokens.
func isDateStyle(style *excelize.Style) bool {
	if style == nil {
		return false
	}
	if style.CustomNumFmt != nil && *style.CustomNumFmt != "" {
		return isDateFormatCode(*style.CustomNumFmt)
	}
	switch id := style.NumFmt; {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote, inBracket, escaped := false, false, false
	for _, c := range code {
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '[':
			inBracket = true
		case c == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(c)
		}
	}
	stripped := strings.ToLower(b.String())
	if stripped == "general" || stripped == "@" {
		return false
	}
	return strings.ContainsAny(stripped, "ydhs") || strings.Contains(stripped, "m")
}

func uses1904(f *excelize.File) bool {
	props, err := f.GetWorkbookProps()
	if err != nil || props.Date1904 == nil {
		return false
	}
	return *props.Date1904
}
