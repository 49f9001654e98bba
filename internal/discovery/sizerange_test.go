// internal/discovery/sizerange_test.go
package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeRanges_FirstBand(t *testing.T) {
	ranges := SizeRanges()

	want := []string{"0..199", "150..349", "300..499", "450..649", "600..799", "750..949", "900..1099"}
	require.GreaterOrEqual(t, len(ranges), len(want))
	for i, expected := range want {
		assert.Equal(t, expected, ranges[i].String())
	}
	// The next band starts exactly at its boundary.
	assert.Equal(t, "1000..1499", ranges[len(want)].String())
}

func TestSizeRanges_Deterministic(t *testing.T) {
	assert.Equal(t, SizeRanges(), SizeRanges())
}

func TestSizeRanges_MonotonicallyIncreasing(t *testing.T) {
	ranges := SizeRanges()
	for i := 1; i < len(ranges); i++ {
		assert.Greater(t, ranges[i].Min, ranges[i-1].Min,
			"range %d (%s) must start after range %d (%s)", i, ranges[i], i-1, ranges[i-1])
	}
}

func TestSizeRanges_CoversThroughOpenEnd(t *testing.T) {
	ranges := SizeRanges()

	last := ranges[len(ranges)-1]
	assert.Equal(t, 15000, last.Min)
	assert.Equal(t, -1, last.Max)
	assert.Equal(t, "size:>=15000", last.Qualifier())

	// No gaps: every range begins at or before the previous range's end.
	for i := 1; i < len(ranges); i++ {
		prev := ranges[i-1]
		if prev.Max < 0 {
			continue
		}
		assert.LessOrEqual(t, ranges[i].Min, prev.Max+1,
			"gap between %s and %s", prev, ranges[i])
	}
}

func TestSizeRange_Qualifier(t *testing.T) {
	assert.Equal(t, "size:0..199", SizeRange{Min: 0, Max: 199}.Qualifier())
	assert.Equal(t, "size:>=15000", SizeRange{Min: 15000, Max: -1}.Qualifier())
}
