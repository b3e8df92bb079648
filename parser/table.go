package parser

import (
	"strconv"
	"strings"
	"unicode"

	"cmt-fetcher/models"
)

// ParseTable parses a whitespace-delimited psmeca table with no header row.
// Blank lines are skipped. A row with more tokens than the schema keeps the
// surplus, with its original spacing, in the name column.
func ParseTable(text string) ([]models.Solution, error) {
	var solutions []models.Solution

	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitFields(line, len(models.Columns))
		if len(fields) < len(models.Columns) {
			return nil, &SchemaError{Line: i + 1, Tokens: len(fields), Want: len(models.Columns)}
		}

		solution, err := parseRow(i+1, fields)
		if err != nil {
			return nil, err
		}
		solutions = append(solutions, solution)
	}

	return solutions, nil
}

// parseRow converts the 13 tokens of a row into a Solution. The coordinate
// columns are kept as given.
func parseRow(line int, fields []string) (models.Solution, error) {
	var (
		s   models.Solution
		err error
	)

	floats := []*float64{
		&s.Lon, &s.Lat, &s.Depth,
		&s.Mrr, &s.Mtt, &s.Mpp, &s.Mrt, &s.Mrp, &s.Mtp,
	}
	for col, dst := range floats {
		if *dst, err = strconv.ParseFloat(fields[col], 64); err != nil {
			return s, &CoercionError{Line: line, Column: models.Columns[col], Value: fields[col], Err: err}
		}
	}

	if s.Exp, err = strconv.Atoi(fields[9]); err != nil {
		return s, &CoercionError{Line: line, Column: models.Columns[9], Value: fields[9], Err: err}
	}
	s.CoordX = fields[10]
	s.CoordY = fields[11]
	s.Name = fields[12]

	return s, nil
}

// splitFields splits line on runs of whitespace into at most n fields.
// The last field holds the rest of the line, trimmed.
func splitFields(line string, n int) []string {
	var fields []string

	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	for rest != "" {
		if len(fields) == n-1 {
			fields = append(fields, strings.TrimRightFunc(rest, unicode.IsSpace))
			break
		}
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			fields = append(fields, rest)
			break
		}
		fields = append(fields, rest[:end])
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
	}

	return fields
}
