// Package query builds Global CMT search form URLs.
package query

import (
	"fmt"
	"strconv"
	"time"
)

// BaseURL is the catalog's CGI endpoint
const BaseURL = "https://www.globalcmt.org/cgi-bin/globalcmt-cgi-bin/CMT5/"

// formTemplate selects a ymd date search with no julian-day, half-duration
// or plunge restrictions and list=6 (psmeca) output.
const formTemplate = "form?" +
	"itype=ymd&yr=%d&mo=%d&day=%d" +
	"&otype=ymd&oyr=%d&omo=%d&oday=%d" +
	"&jyr=1976&jday=1&ojyr=1976&ojday=1&nday=1" +
	"&lmw=%s&umw=%s&lms=%s&ums=%s&lmb=%s&umb=%s" +
	"&llat=%s&ulat=%s&llon=%s&ulon=%s&lhd=%s&uhd=%s" +
	"&lts=-9999&uts=9999&lpe1=0&upe1=90&lpe2=0&upe2=90&list=6"

// Range is an inclusive [Min, Max] bound
type Range struct {
	Min float64
	Max float64
}

// Params are the search criteria of one catalog query.
// Bounds are passed to the catalog verbatim; min > max is not rejected.
type Params struct {
	Start time.Time
	End   time.Time

	Mw Range // moment magnitude
	Ms Range // surface-wave magnitude
	Mb Range // body-wave magnitude

	Lat   Range // south..north
	Lon   Range // west..east
	Depth Range // km
}

// DefaultParams returns params for the given dates with every other bound unrestricted
func DefaultParams(start, end time.Time) Params {
	return Params{
		Start: start,
		End:   end,
		Mw:    Range{Min: 0, Max: 10},
		Ms:    Range{Min: 0, Max: 10},
		Mb:    Range{Min: 0, Max: 10},
		Lat:   Range{Min: -90, Max: 90},
		Lon:   Range{Min: -180, Max: 180},
		Depth: Range{Min: 0, Max: 1000},
	}
}

// BuildURL returns the search URL for p on the public catalog
func BuildURL(p Params) string {
	return BuildURLWithBase(BaseURL, p)
}

// BuildURLWithBase returns the search URL for p against a different base,
// e.g. a mirror. base must end with the path segment preceding "form".
func BuildURLWithBase(base string, p Params) string {
	return base + fmt.Sprintf(formTemplate,
		p.Start.Year(), int(p.Start.Month()), p.Start.Day(),
		p.End.Year(), int(p.End.Month()), p.End.Day(),
		formatNumber(p.Mw.Min), formatNumber(p.Mw.Max),
		formatNumber(p.Ms.Min), formatNumber(p.Ms.Max),
		formatNumber(p.Mb.Min), formatNumber(p.Mb.Max),
		formatNumber(p.Lat.Min), formatNumber(p.Lat.Max),
		formatNumber(p.Lon.Min), formatNumber(p.Lon.Max),
		formatNumber(p.Depth.Min), formatNumber(p.Depth.Max),
	)
}

// formatNumber renders the shortest decimal that round-trips to v
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
