// Package export writes a retrieved result set as CSV or as the
// whitespace-delimited psmeca text the catalog serves.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"cmt-fetcher/models"
)

// WriteCSV writes one row of column names followed by one row per solution.
// The header lines are not part of the CSV.
func WriteCSV(w io.Writer, result *models.Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(models.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for i, s := range result.Solutions {
		if err := cw.Write(fields(s)); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteText writes the header lines followed by the rows, space-delimited,
// in psmeca column order.
func WriteText(w io.Writer, result *models.Result) error {
	bw := bufio.NewWriter(w)

	for _, line := range result.Header {
		fmt.Fprintln(bw, line)
	}
	for _, s := range result.Solutions {
		f := fields(s)
		for i, v := range f {
			if i > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(v)
		}
		bw.WriteByte('\n')
	}

	return bw.Flush()
}

// WriteFile writes result to path in the given format ("csv" or "text")
func WriteFile(path, format string, result *models.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := Write(f, format, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write dispatches on format
func Write(w io.Writer, format string, result *models.Result) error {
	switch format {
	case "csv":
		return WriteCSV(w, result)
	case "text", "":
		return WriteText(w, result)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func fields(s models.Solution) []string {
	return []string{
		formatFloat(s.Lon), formatFloat(s.Lat), formatFloat(s.Depth),
		formatFloat(s.Mrr), formatFloat(s.Mtt), formatFloat(s.Mpp),
		formatFloat(s.Mrt), formatFloat(s.Mrp), formatFloat(s.Mtp),
		strconv.Itoa(s.Exp),
		s.CoordX, s.CoordY,
		s.Name,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
