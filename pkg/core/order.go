package core

const (
	// OrdEpsilon defines the minimum gap before rebalancing.
	OrdEpsilon = 1e-6
)

// Midpoint returns the midpoint between two ord values.
func Midpoint(a, b float64) float64 {
	return (a + b) / 2
}

// NextOrd returns an ord slightly greater than value.
func NextOrd(value float64) float64 {
	return value + 1
}

// PrevOrd returns an ord slightly less than value.
func PrevOrd(value float64) float64 {
	return value - 1
}

// OrdAt picks an ord for insertion at pos within sorted sibling ords.
// The second result reports that the gap is too small and siblings should be
// renumbered first.
func OrdAt(ords []float64, pos int) (float64, bool) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(ords) {
		pos = len(ords)
	}
	switch {
	case len(ords) == 0:
		return 0, false
	case pos == 0:
		return PrevOrd(ords[0]), false
	case pos == len(ords):
		return NextOrd(ords[len(ords)-1]), false
	default:
		lo, hi := ords[pos-1], ords[pos]
		return Midpoint(lo, hi), hi-lo < OrdEpsilon
	}
}
