package signature

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column positions, 1-based as reported in errors.
const (
	ColumnID = iota + 1
	ColumnGroup
	ColumnSiteType
	ColumnName
	ColumnScanPercent
	ColumnDistance
)

const maxColumns = ColumnDistance

var (
	// ErrParse is wrapped by every parse failure.
	ErrParse = errors.New("parse error")

	ErrMissingID          = fmt.Errorf("%w: missing id", ErrParse)
	ErrInvalidID          = fmt.Errorf("%w: invalid id", ErrParse)
	ErrMissingGroup       = fmt.Errorf("%w: missing group", ErrParse)
	ErrInvalidScanPercent = fmt.Errorf("%w: invalid scan percent", ErrParse)
	ErrTooManyColumns     = fmt.Errorf("%w: too many columns", ErrParse)
	ErrDuplicateID        = fmt.Errorf("%w: duplicate id in snapshot", ErrParse)
)

// ParseError locates a parse failure in the input.
type ParseError struct {
	// Line is the 1-based line number.
	Line int
	// Column is the 1-based column number.
	Column int
	// Kind is one of the Err* sentinels.
	Kind error
	// Value is the offending token, if any.
	Value string
	// FirstLine is set for ErrDuplicateID: the line where the id first appeared.
	FirstLine int
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("line %d, column %d: %v", e.Line, e.Column, e.Kind)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.FirstLine > 0 {
		msg += fmt.Sprintf(" (first seen on line %d)", e.FirstLine)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

// Options tune Parse.
type Options struct {
	// AllowFractionalPercent accepts scan percents with decimals ("28.6%"),
	// truncated toward zero. The scanner clipboard format uses them.
	AllowFractionalPercent bool
}

// Parse parses a tab-delimited snapshot with default options.
func Parse(text string) ([]Record, error) {
	return ParseWith(text, Options{})
}

// ParseWith parses a tab-delimited snapshot.
//
// Each non-blank line holds id, group, site type, name, scan percent and
// distance, in that order. Only id and group are required; trailing empty
// columns may be omitted entirely. Distance is ignored. An empty input
// yields no records.
func ParseWith(text string, opts Options) ([]Record, error) {
	var records []Record
	firstSeen := make(map[string]int)

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := parseLine(line, lineNo, opts)
		if err != nil {
			return nil, err
		}
		if first, dup := firstSeen[rec.ID]; dup {
			return nil, &ParseError{Line: lineNo, Column: ColumnID, Kind: ErrDuplicateID, Value: rec.ID, FirstLine: first}
		}
		firstSeen[rec.ID] = lineNo
		records = append(records, rec)
	}
	return records, nil
}

func parseLine(line string, lineNo int, opts Options) (Record, error) {
	cols := strings.Split(line, "\t")
	for i := maxColumns; i < len(cols); i++ {
		if extra := strings.TrimSpace(cols[i]); extra != "" {
			return Record{}, &ParseError{Line: lineNo, Column: i + 1, Kind: ErrTooManyColumns, Value: extra}
		}
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	col := func(n int) string {
		if n > len(cols) {
			return ""
		}
		return cols[n-1]
	}

	rec := Record{
		ID:       col(ColumnID),
		Group:    col(ColumnGroup),
		SiteType: col(ColumnSiteType),
		Name:     col(ColumnName),
	}
	if rec.ID == "" {
		return Record{}, &ParseError{Line: lineNo, Column: ColumnID, Kind: ErrMissingID}
	}
	if strings.ContainsAny(rec.ID, " \t") {
		return Record{}, &ParseError{Line: lineNo, Column: ColumnID, Kind: ErrInvalidID, Value: rec.ID}
	}
	if rec.Group == "" {
		return Record{}, &ParseError{Line: lineNo, Column: ColumnGroup, Kind: ErrMissingGroup}
	}

	if raw := col(ColumnScanPercent); raw != "" {
		p, ok := parsePercent(raw, opts)
		if !ok {
			return Record{}, &ParseError{Line: lineNo, Column: ColumnScanPercent, Kind: ErrInvalidScanPercent, Value: raw}
		}
		rec.ScanPercent = &p
	}
	return rec, nil
}

// parsePercent accepts "0".."100" with an optional "%" suffix.
func parsePercent(raw string, opts Options) (int, bool) {
	s := strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil && isDigits(s) {
		return n, n >= 0 && n <= 100
	}
	if !opts.AllowFractionalPercent || !strings.Contains(s, ".") || !isDigits(strings.Replace(s, ".", "", 1)) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 100 {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SplitSnapshots splits a capture holding several snapshots separated by
// blank lines into one text per snapshot.
func SplitSnapshots(text string) []string {
	var (
		blocks  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return blocks
}
