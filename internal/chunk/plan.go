// Package chunk copies a single large file as N concurrent range copies.
// Each worker owns its own read and write descriptors and addresses its
// range with positional I/O, so no cursor is shared between workers.
package chunk

// Range is one worker's byte range: [Offset, Offset+Length).
type Range struct {
	Offset int64
	Length int64
}

// End returns the exclusive end offset of the range.
func (r Range) End() int64 { return r.Offset + r.Length }

// Plan divides [0, size) into at most workers disjoint ranges. The ranges
// never overlap or gap, and the last range absorbs the division remainder.
// A zero size yields an empty plan; workers is clamped to at least 1 and
// to no more than size.
func Plan(size int64, workers int) []Range {
	if size <= 0 {
		return nil
	}
	n := int64(workers)
	if n < 1 {
		n = 1
	}
	if n > size {
		n = size
	}

	per := size / n
	ranges := make([]Range, 0, n)
	for i := int64(0); i < n; i++ {
		r := Range{Offset: i * per, Length: per}
		if i == n-1 {
			r.Length = size - r.Offset
		}
		ranges = append(ranges, r)
	}
	return ranges
}
