// Package buffer tracks which line ranges of which files are open to the
// model, enforces the open-line budget, and applies validated multi-range
// edits to the backing files.
package buffer

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LineRange is a run of n lines beginning at a 1-indexed start line.
type LineRange struct {
	StartLine int `json:"start_line"`
	NLines    int `json:"n_lines"`
}

// End returns the first line after the range.
func (r LineRange) End() int {
	return r.StartLine + r.NLines
}

func (r LineRange) String() string {
	return fmt.Sprintf("%d-%d", r.StartLine, r.End()-1)
}

// FileRanges is the open set of one file: sorted ranges where every range
// ends strictly before the next begins (touching ranges are merged).
// Values are immutable; Add and Subtract return new sets.
type FileRanges struct {
	ranges []LineRange
}

// NewFileRanges builds a normalized set from arbitrary ranges.
func NewFileRanges(ranges ...LineRange) FileRanges {
	var fr FileRanges
	for _, r := range ranges {
		fr = fr.Add(r)
	}
	return fr
}

// Ranges returns a copy of the ranges in order.
func (f FileRanges) Ranges() []LineRange {
	out := make([]LineRange, len(f.ranges))
	copy(out, f.ranges)
	return out
}

// Len returns the number of disjoint ranges.
func (f FileRanges) Len() int {
	return len(f.ranges)
}

// Total returns the number of open lines.
func (f FileRanges) Total() int {
	total := 0
	for _, r := range f.ranges {
		total += r.NLines
	}
	return total
}

// Empty reports whether no line is open.
func (f FileRanges) Empty() bool {
	return len(f.ranges) == 0
}

// Add inserts r and merges it with every range it overlaps or touches.
func (f FileRanges) Add(r LineRange) FileRanges {
	if r.NLines <= 0 {
		return f
	}
	ranges := make([]LineRange, 0, len(f.ranges)+1)
	ranges = append(ranges, f.ranges...)

	idx := sort.Search(len(ranges), func(i int) bool {
		return r.StartLine < ranges[i].StartLine
	})
	ranges = append(ranges, LineRange{})
	copy(ranges[idx+1:], ranges[idx:])
	ranges[idx] = r

	merged := ranges[:1]
	for _, next := range ranges[1:] {
		last := &merged[len(merged)-1]
		if last.End() >= next.StartLine {
			if next.End() > last.End() {
				last.NLines = next.End() - last.StartLine
			}
			continue
		}
		merged = append(merged, next)
	}
	return FileRanges{ranges: merged}
}

// Subtract removes r, splitting ranges that straddle it.
func (f FileRanges) Subtract(r LineRange) FileRanges {
	if r.NLines <= 0 {
		return f
	}
	out := make([]LineRange, 0, len(f.ranges)+1)
	for _, existing := range f.ranges {
		if r.StartLine >= existing.End() || r.End() <= existing.StartLine {
			out = append(out, existing)
			continue
		}
		if r.StartLine > existing.StartLine {
			out = append(out, LineRange{StartLine: existing.StartLine, NLines: r.StartLine - existing.StartLine})
		}
		if r.End() < existing.End() {
			out = append(out, LineRange{StartLine: r.End(), NLines: existing.End() - r.End()})
		}
	}
	return FileRanges{ranges: out}
}

// Covers reports whether [start, end) lies inside one open range. An empty
// span (start == end) is covered when it sits inside or directly after a range.
func (f FileRanges) Covers(start, end int) bool {
	for _, r := range f.ranges {
		if r.StartLine <= start && end <= r.End() {
			return true
		}
	}
	return false
}

// splice remaps the set after [start, end) was replaced by newLen lines:
// the span becomes [start, start+newLen) and later ranges shift by the delta.
func (f FileRanges) splice(start, end, newLen int) FileRanges {
	delta := newLen - (end - start)

	var out FileRanges
	for _, r := range f.ranges {
		switch {
		case r.End() <= start:
			out = out.Add(r)
		case r.StartLine >= end:
			out = out.Add(LineRange{StartLine: r.StartLine + delta, NLines: r.NLines})
		default:
			if r.StartLine < start {
				out = out.Add(LineRange{StartLine: r.StartLine, NLines: start - r.StartLine})
			}
			if r.End() > end {
				out = out.Add(LineRange{StartLine: end + delta, NLines: r.End() - end})
			}
		}
	}
	return out.Add(LineRange{StartLine: start, NLines: newLen})
}

// MarshalJSON encodes the set as a list of ranges.
func (f FileRanges) MarshalJSON() ([]byte, error) {
	if f.ranges == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.ranges)
}

// UnmarshalJSON decodes and normalizes a list of ranges.
func (f *FileRanges) UnmarshalJSON(data []byte) error {
	var ranges []LineRange
	if err := json.Unmarshal(data, &ranges); err != nil {
		return err
	}
	*f = NewFileRanges(ranges...)
	return nil
}
