package compositional

// Pair is an unordered feature pair with Partner < Index under the canonical
// enumeration order.
type Pair struct {
	Partner int // smaller feature index
	Index   int // larger feature index
}

// The canonical pair order is a column-major scan of the strict upper
// triangle: (0,1), (0,2), (1,2), (0,3), (1,3), (2,3), ... Every consumer of
// pair indices (VLR output order, results row order, lookups) relies on this
// single enumeration.

// PairCount returns d(d-1)/2.
func PairCount(d int) int {
	return d * (d - 1) / 2
}

// Enumerate returns all unordered feature pairs of d features in canonical
// order.
func Enumerate(d int) []Pair {
	pairs := make([]Pair, 0, PairCount(d))
	for j := 1; j < d; j++ {
		for i := 0; i < j; i++ {
			pairs = append(pairs, Pair{Partner: i, Index: j})
		}
	}
	return pairs
}

// IndexOf returns the linear index of the unordered pair {i, j}, i != j.
// The formula is independent of d: for i < j, k = j(j-1)/2 + i.
func IndexOf(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return j*(j-1)/2 + i
}
