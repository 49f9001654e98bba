// internal/discovery/sizerange.go
package discovery

import "fmt"

// SizeRange is one numeric partition of the repository size search space,
// in kilobytes. Max < 0 means the range is open-ended.
type SizeRange struct {
	Min int
	Max int
}

func (r SizeRange) String() string {
	if r.Max < 0 {
		return fmt.Sprintf(">=%d", r.Min)
	}
	return fmt.Sprintf("%d..%d", r.Min, r.Max)
}

// Qualifier renders the range as a search qualifier.
func (r SizeRange) Qualifier() string {
	if r.Max < 0 {
		return fmt.Sprintf("size:>=%d", r.Min)
	}
	return fmt.Sprintf("size:%d..%d", r.Min, r.Max)
}

// band describes a region of the size axis with its own window width and
// stride. Overlapping windows (stride < width) keep cells under the search
// result cap at the cost of some duplicate hits, which dedup absorbs.
type band struct {
	upTo   int
	width  int
	stride int
}

var bands = []band{
	{upTo: 1000, width: 200, stride: 150},
	{upTo: 3000, width: 500, stride: 250},
	{upTo: 5000, width: 1000, stride: 500},
	{upTo: 10000, width: 2000, stride: 1000},
	{upTo: 15000, width: 5000, stride: 5000},
}

// SizeRanges returns the deterministic, monotonically increasing sequence of
// size partitions the targeted strategy crawls, ending with an open range
// that covers everything past the last band.
func SizeRanges() []SizeRange {
	var out []SizeRange
	from := 0
	for _, b := range bands {
		for from < b.upTo {
			out = append(out, SizeRange{Min: from, Max: from + b.width - 1})
			from += b.stride
		}
		from = b.upTo
	}
	out = append(out, SizeRange{Min: from, Max: -1})
	return out
}
