package pagination

import "math"

var decByteUnits = []string{"B", "kB", "MB", "GB", "TB", "PB", "EB"}

// FormatDecBytes scales a byte count by powers of 1000 and returns the value
// rounded to two decimals together with its unit.
func FormatDecBytes(n int64) (float64, string) {
	v := float64(n)
	unit := 0
	for math.Abs(v) >= 1000 && unit < len(decByteUnits)-1 {
		v /= 1000
		unit++
	}
	return math.Round(v*100) / 100, decByteUnits[unit]
}
