package buffer

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lr(start, n int) LineRange {
	return LineRange{StartLine: start, NLines: n}
}

func TestAddMergesTouchingRanges(t *testing.T) {
	fr := FileRanges{}.Add(lr(1, 10)).Add(lr(11, 5))
	assert.Equal(t, []LineRange{lr(1, 15)}, fr.Ranges())
}

func TestSubtractSplitsRange(t *testing.T) {
	fr := NewFileRanges(lr(1, 20)).Subtract(lr(6, 5))
	assert.Equal(t, []LineRange{lr(1, 5), lr(11, 10)}, fr.Ranges())
}

func TestAddCases(t *testing.T) {
	tests := []struct {
		name string
		in   []LineRange
		want []LineRange
	}{
		{"disjoint stays apart", []LineRange{lr(20, 5), lr(1, 5)}, []LineRange{lr(1, 5), lr(20, 5)}},
		{"gap of one line", []LineRange{lr(1, 5), lr(7, 3)}, []LineRange{lr(1, 5), lr(7, 3)}},
		{"overlap", []LineRange{lr(1, 10), lr(5, 10)}, []LineRange{lr(1, 14)}},
		{"contained", []LineRange{lr(1, 10), lr(3, 2)}, []LineRange{lr(1, 10)}},
		{"bridges two", []LineRange{lr(1, 5), lr(10, 5), lr(6, 4)}, []LineRange{lr(1, 14)}},
		{"zero length ignored", []LineRange{lr(4, 0)}, []LineRange{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFileRanges(tt.in...).Ranges())
		})
	}
}

func TestAddDoesNotMutateReceiver(t *testing.T) {
	base := NewFileRanges(lr(1, 5), lr(20, 5))
	_ = base.Add(lr(6, 14))
	_ = base.Subtract(lr(2, 2))
	assert.Equal(t, []LineRange{lr(1, 5), lr(20, 5)}, base.Ranges())
}

func assertNormalized(t *testing.T, fr FileRanges) {
	t.Helper()
	ranges := fr.Ranges()
	for i, r := range ranges {
		require.Positive(t, r.NLines)
		if i > 0 {
			require.Less(t, ranges[i-1].End(), r.StartLine, "ranges %v", ranges)
		}
	}
}

func TestRandomSequencesStayNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var fr FileRanges
		covered := map[int]bool{}
		for op := 0; op < 30; op++ {
			r := lr(rng.Intn(100)+1, rng.Intn(15))
			if rng.Intn(3) == 0 {
				fr = fr.Subtract(r)
				for l := r.StartLine; l < r.End(); l++ {
					delete(covered, l)
				}
			} else {
				fr = fr.Add(r)
				for l := r.StartLine; l < r.End(); l++ {
					covered[l] = true
				}
			}
			assertNormalized(t, fr)
			require.Equal(t, len(covered), fr.Total())
		}
	}
}

func TestCovers(t *testing.T) {
	fr := NewFileRanges(lr(1, 10), lr(20, 5))
	assert.True(t, fr.Covers(1, 11))
	assert.True(t, fr.Covers(11, 11), "insertion directly after a range")
	assert.True(t, fr.Covers(22, 24))
	assert.False(t, fr.Covers(9, 21))
	assert.False(t, fr.Covers(15, 15))
}

func TestSplice(t *testing.T) {
	tests := []struct {
		name          string
		in            []LineRange
		start, end, n int
		want          []LineRange
	}{
		{"grow inside", []LineRange{lr(1, 10), lr(20, 5)}, 3, 5, 4, []LineRange{lr(1, 12), lr(22, 5)}},
		{"shrink inside", []LineRange{lr(1, 10), lr(20, 5)}, 3, 8, 1, []LineRange{lr(1, 6), lr(16, 5)}},
		{"insert mid range", []LineRange{lr(1, 10)}, 5, 5, 2, []LineRange{lr(1, 12)}},
		{"insert at range start", []LineRange{lr(5, 6)}, 5, 5, 2, []LineRange{lr(5, 8)}},
		{"append after range", []LineRange{lr(1, 10)}, 11, 11, 3, []LineRange{lr(1, 13)}},
		{"delete all", []LineRange{lr(4, 3), lr(10, 2)}, 4, 7, 0, []LineRange{lr(7, 2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewFileRanges(tt.in...).splice(tt.start, tt.end, tt.n)
			assert.Equal(t, tt.want, got.Ranges())
		})
	}
}

func TestFileRangesJSON(t *testing.T) {
	data, err := json.Marshal(NewFileRanges(lr(5, 2), lr(1, 3)))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"start_line":1,"n_lines":3},{"start_line":5,"n_lines":2}]`, string(data))

	var fr FileRanges
	require.NoError(t, json.Unmarshal([]byte(`[{"start_line":4,"n_lines":2},{"start_line":1,"n_lines":3}]`), &fr))
	assert.Equal(t, []LineRange{lr(1, 5)}, fr.Ranges())
}
