package rankmerge

import "cmp"

// mergeInto merges two sorted ascending sequences a and b into dst and
// returns dst resliced to len(a)+len(b). dst must not alias a or b and must
// have capacity for the combined length; the caller owns all three buffers.
//
// Ties are broken left-biased: on equal heads the element from a is taken
// first. This keeps merge order deterministic across rounds, which the tests
// rely on.
func mergeInto[T cmp.Ordered](dst, a, b []T) []T {
	dst = dst[:len(a)+len(b)]

	var i, j, k int
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			dst[k] = a[i]
			i++
		} else {
			dst[k] = b[j]
			j++
		}
		k++
	}
	for i < len(a) {
		dst[k] = a[i]
		i++
		k++
	}
	for j < len(b) {
		dst[k] = b[j]
		j++
		k++
	}
	return dst
}
