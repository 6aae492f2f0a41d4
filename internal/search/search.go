// Package search implements binary search over sequences whose elements can be
// projected onto a float64, such as stop times by scheduled time or by
// distance along a block.
package search

import "time"

// Search returns an index into elements such that inserting an element with
// value target at that index keeps elements sorted with respect to value.
//
// elements must already be sorted by value. When an element's value equals
// target exactly, the index of that element is returned. With a run of equal
// values any index within the run may be returned.
func Search[T any](elements []T, target float64, value func(T) float64) int {
	lo, hi := 0, len(elements)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		v := value(elements[mid])
		switch {
		case target < v:
			hi = mid
		case target > v:
			lo = mid + 1
		default:
			return mid
		}
	}
	return lo
}

// SearchTimes is Search for elements projected onto a time.Time. Times are
// compared at full resolution.
func SearchTimes[T any](elements []T, target time.Time, value func(T) time.Time) int {
	lo, hi := 0, len(elements)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch c := target.Compare(value(elements[mid])); {
		case c < 0:
			hi = mid
		case c > 0:
			lo = mid + 1
		default:
			return mid
		}
	}
	return lo
}
