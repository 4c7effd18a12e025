package domain

import (
	"math"
	"strconv"
)

// Cell is a numeric table value that may be missing. Missing cells are
// represented as NaN in memory and serialize to JSON null, matching the
// "missing = null, never absent" table contract.
type Cell float64

// MissingCell returns the sentinel for a cell with no value.
func MissingCell() Cell {
	return Cell(math.NaN())
}

// IsMissing reports whether the cell holds no value.
func (c Cell) IsMissing() bool {
	return math.IsNaN(float64(c))
}

// Float returns the cell value and whether it is present.
func (c Cell) Float() (float64, bool) {
	if c.IsMissing() {
		return 0, false
	}
	return float64(c), true
}

// MarshalJSON serializes missing cells as null. Infinities are also
// mapped to null so a pathological input value can never break an
// API response.
func (c Cell) MarshalJSON() ([]byte, error) {
	f := float64(c)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

// UnmarshalJSON accepts null as a missing cell.
func (c *Cell) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = MissingCell()
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*c = Cell(f)
	return nil
}
