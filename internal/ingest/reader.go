package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/docgate/internal/apperr"
)

// Row maps header names to typed cell values.
type Row map[string]interface{}

// RowSource yields a header followed by data rows, once, in sheet order.
type RowSource interface {
	Header() []string
	// Next advances to the next non-blank data row.
	Next() bool
	Row() Row
	// RowNumber is the 1-based sheet row of the current row. The header is row 1.
	RowNumber() int
	Err() error
	Close() error
}

type xlsxSource struct {
	file     *excelize.File
	sheet    string
	rows     *excelize.Rows
	header   []string
	row      Row
	num      int
	err      error
	date1904 bool
	// dateStyles caches whether a cell style index carries a date number format.
	dateStyles map[int]bool
}

// rawValues reads stored cell values instead of their display formatting.
var rawValues = excelize.Options{RawCellValue: true}

// OpenXLSX opens the active sheet of a workbook and reads its header row. Data rows are
// read lazily through excelize's row iterator as stored values, so number formats
// never leak into the typed row.
func OpenXLSX(r io.Reader) (RowSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Structural("open workbook: %v", err)
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, apperr.Structural("read sheet %q: %v", sheet, err)
	}
	s := &xlsxSource{file: f, sheet: sheet, rows: rows, num: 1, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		s.date1904 = *props.Date1904
	}
	if !rows.Next() {
		_ = s.Close()
		if err := rows.Error(); err != nil {
			return nil, apperr.Structural("read header: %v", err)
		}
		return nil, apperr.Structural("workbook has no header row")
	}
	cols, err := rows.Columns(rawValues)
	if err != nil {
		_ = s.Close()
		return nil, apperr.Structural("read header: %v", err)
	}
	s.header = headerNames(cols)
	if len(s.header) == 0 {
		_ = s.Close()
		return nil, apperr.Structural("workbook has an empty header row")
	}
	return s, nil
}

func (s *xlsxSource) Header() []string { return s.header }
func (s *xlsxSource) Row() Row         { return s.row }
func (s *xlsxSource) RowNumber() int   { return s.num }
func (s *xlsxSource) Err() error       { return s.err }

func (s *xlsxSource) Next() bool {
	if s.err != nil {
		return false
	}
	for s.rows.Next() {
		s.num++
		cols, err := s.rows.Columns(rawValues)
		if err != nil {
			s.err = fmt.Errorf("read row %d: %w", s.num, err)
			return false
		}
		if blank(cols) {
			continue
		}
		row := make(Row, len(s.header))
		for i, h := range s.header {
			var v interface{}
			if i < len(cols) {
				if v, err = s.cellValue(i+1, cols[i]); err != nil {
					s.err = fmt.Errorf("read row %d: %w", s.num, err)
					return false
				}
			}
			row[h] = v
		}
		s.row = row
		return true
	}
	if err := s.rows.Error(); err != nil {
		s.err = fmt.Errorf("read rows: %w", err)
	}
	s.row = nil
	return false
}

func (s *xlsxSource) Close() error {
	var rowsErr error
	if s.rows != nil {
		rowsErr = s.rows.Close()
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

// headerNames trims header cells. A blank header takes its column letter.
func headerNames(cols []string) []string {
	last := len(cols)
	for last > 0 && strings.TrimSpace(cols[last-1]) == "" {
		last--
	}
	names := make([]string, last)
	for i := 0; i < last; i++ {
		name := strings.TrimSpace(cols[i])
		if name == "" {
			name, _ = excelize.ColumnNumberToName(i + 1)
		}
		names[i] = name
	}
	return names
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cellValue types the stored value of one cell of the current row. Text cells stay
// strings, number cells become int64 or float64, or time.Time when their number
// format is a date, and boolean cells become bool. Cell types and styles are only
// consulted for values that could be something other than text.
func (s *xlsxSource) cellValue(col int, raw string) (interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	n, numeric := parseNumber(raw)
	iso, isDate := parseISOTime(raw)
	if !numeric && !isDate {
		return raw, nil
	}
	cell, err := excelize.CoordinatesToCellName(col, s.num)
	if err != nil {
		return nil, err
	}
	typ, err := s.file.GetCellType(s.sheet, cell)
	if err != nil {
		return nil, err
	}
	switch typ {
	case excelize.CellTypeBool:
		return strings.TrimSpace(raw) != "0", nil
	case excelize.CellTypeDate:
		if isDate {
			return iso, nil
		}
		return raw, nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if !numeric {
			return raw, nil
		}
	default:
		return raw, nil
	}
	if !s.dateStyle(cell) {
		return n, nil
	}
	serial, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	t, err := excelize.ExcelDateToTime(serial, s.date1904)
	if err != nil {
		return n, nil
	}
	return t.UTC(), nil
}

// dateStyle reports whether cell has a date number format. A style that cannot be
// resolved counts as a plain number.
func (s *xlsxSource) dateStyle(cell string) bool {
	idx, err := s.file.GetCellStyle(s.sheet, cell)
	if err != nil {
		return false
	}
	if date, ok := s.dateStyles[idx]; ok {
		return date
	}
	date := false
	if style, err := s.file.GetStyle(idx); err == nil {
		date = dateFormat(style)
	}
	s.dateStyles[idx] = date
	return date
}

// dateFormat reports whether style formats numbers as dates or times. Built-in
// format ids follow ECMA-376 18.8.30, including the east asian date ids.
func dateFormat(style *excelize.Style) bool {
	if style.CustomNumFmt != nil {
		return dateCode(*style.CustomNumFmt)
	}
	switch n := style.NumFmt; {
	case n >= 14 && n <= 22, n >= 27 && n <= 36, n >= 45 && n <= 47, n >= 50 && n <= 58:
		return true
	}
	return false
}

// dateCode reports whether a custom number format code contains date or time tokens
// outside quoted literals, escapes and bracketed sections.
func dateCode(code string) bool {
	if strings.EqualFold(code, "General") {
		return false
	}
	inQuote, inBracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case inQuote:
			inQuote = c != '"'
		case inBracket:
			inBracket = c != ']'
		case c == '"':
			inQuote = true
		case c == '[':
			inBracket = true
		case c == '\\' || c == '_' || c == '*':
			i++
		default:
			switch c | 0x20 {
			case 'y', 'm', 'd', 'h', 's':
				return true
			}
		}
	}
	return false
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseISOTime(s string) (time.Time, bool) {
	t := strings.TrimSpace(s)
	if len(t) < len("2006-01-02") || t[4] != '-' {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if v, err := time.Parse(layout, t); err == nil {
			return v.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseNumber converts a stored numeric cell value: integral values without an exponent
// become int64, anything else that parses becomes float64.
func parseNumber(s string) (interface{}, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, false
	}
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}
