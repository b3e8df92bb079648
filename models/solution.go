package models

// Columns is the fixed positional schema of the catalog's psmeca output (list=6).
var Columns = []string{
	"lon", "lat", "depth",
	"mrr", "mtt", "mpp", "mrt", "mrp", "mtp",
	"iexp", "COORD_X", "COORD_Y", "name",
}

// Solution represents one moment-tensor solution row
type Solution struct {
	Lon   float64
	Lat   float64
	Depth float64 // km

	// Moment-tensor components in r/theta/phi coordinates, scaled by 10^Exp
	Mrr float64
	Mtt float64
	Mpp float64
	Mrt float64
	Mrp float64
	Mtp float64
	Exp int

	// Plot coordinates used by psmeca when the beachball is offset. The
	// catalog prints the placeholders X and Y here, so they stay text.
	CoordX string
	CoordY string

	Name string // event identifier, e.g. C202001010005A
}

// Result is the assembled output of one catalog retrieval
type Result struct {
	Header    []string // non-empty lines of page 1's header block
	Solutions []Solution
	Pages     int // number of pages fetched
}

// Values returns the solution fields in column order
func (s Solution) Values() []interface{} {
	return []interface{}{
		s.Lon, s.Lat, s.Depth,
		s.Mrr, s.Mtt, s.Mpp, s.Mrt, s.Mrp, s.Mtp,
		s.Exp, s.CoordX, s.CoordY, s.Name,
	}
}
