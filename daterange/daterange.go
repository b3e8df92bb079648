// Package daterange splits one catalog query into consecutive date windows
// so long ranges can be retrieved as a series of smaller queries.
package daterange

import (
	"fmt"
	"time"

	"cmt-fetcher/query"
)

// LabelLayout is the date layout used in window labels
const LabelLayout = "2006-01-02"

// Window is one date slice of a query
type Window struct {
	Label  string // e.g. "2020-01-01..2020-01-07"
	Params query.Params
}

// Split divides the [Start, End] range of p into windows of days calendar
// days, both ends inclusive. Every other bound of p is copied unchanged.
// If days <= 0 or End is before Start, the input is returned as one window.
func Split(p query.Params, days int) []Window {
	if days <= 0 || p.End.Before(p.Start) {
		return []Window{{Label: Label(p.Start, p.End), Params: p}}
	}

	var windows []Window
	for from := p.Start; !from.After(p.End); from = from.AddDate(0, 0, days) {
		to := from.AddDate(0, 0, days-1)
		if to.After(p.End) {
			to = p.End
		}

		wp := p
		wp.Start = from
		wp.End = to
		windows = append(windows, Window{Label: Label(from, to), Params: wp})
	}

	return windows
}

// Label formats a date range as "YYYY-MM-DD..YYYY-MM-DD"
func Label(start, end time.Time) string {
	return fmt.Sprintf("%s..%s", start.Format(LabelLayout), end.Format(LabelLayout))
}

// CountWindows returns how many windows Split produces for the given range
func CountWindows(start, end time.Time, days int) int {
	if days <= 0 || end.Before(start) {
		return 1
	}
	span := int(dayNumber(end)-dayNumber(start)) + 1
	count := span / days
	if span%days != 0 {
		count++
	}
	return count
}

func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
