package buffer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"programmer/pkg/exec"
	"programmer/pkg/logx"
)

// Budget defaults.
const (
	DefaultMaxOpenSize   = 1500
	DefaultOpenChunkSize = 500
)

// Replacement replaces lines [StartLine, RemoveUpToLine) with NewLines,
// provided the live file still holds ExpectedPriorLines there.
type Replacement struct {
	ExpectedPriorLines []string `json:"expected_prior_lines"`
	NewLines           []string `json:"new_lines"`
	StartLine          int      `json:"start_line"`
	RemoveUpToLine     int      `json:"remove_up_to_line"`
}

func (r Replacement) span() LineRange {
	return LineRange{StartLine: r.StartLine, NLines: r.RemoveUpToLine - r.StartLine}
}

// EditResult describes an applied edit for the audit journal.
type EditResult struct {
	Path         string `json:"path"`
	Patch        string `json:"patch"`
	Replacements int    `json:"replacements"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	LineDelta    int    `json:"line_delta"`
}

// Editor applies buffer operations under an open-line budget.
type Editor struct {
	logger        *logx.Logger
	MaxOpenSize   int
	OpenChunkSize int
}

// NewEditor creates an Editor; non-positive sizes fall back to the defaults.
func NewEditor(maxOpenSize, openChunkSize int) *Editor {
	if maxOpenSize <= 0 {
		maxOpenSize = DefaultMaxOpenSize
	}
	if openChunkSize <= 0 {
		openChunkSize = DefaultOpenChunkSize
	}
	return &Editor{
		logger:        logx.NewLogger("buffer"),
		MaxOpenSize:   maxOpenSize,
		OpenChunkSize: openChunkSize,
	}
}

// splitLines splits content on "\n"; a trailing newline yields a final empty line.
func splitLines(content string) []string {
	return strings.Split(content, "\n")
}

func readLines(ctx context.Context, ex exec.Executor, path string) ([]string, error) {
	content, err := ex.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, exec.ErrFileNotFound) {
			return nil, &FileNotFoundError{Path: path}
		}
		return nil, err
	}
	return splitLines(content), nil
}

// OpenFile opens a chunk of path starting at startLine and merges it into
// the file's open set. On error the returned State is the input state.
func (e *Editor) OpenFile(ctx context.Context, ex exec.Executor, state State, path string, startLine int) (State, error) {
	lines, err := readLines(ctx, ex, path)
	if err != nil {
		return state, err
	}
	lineCount := len(lines)
	if startLine < 1 || startLine > lineCount {
		return state, &BoundsError{Path: path, StartLine: startLine, LineCount: lineCount}
	}

	current, _ := state.Get(path)
	chunk := LineRange{StartLine: startLine, NLines: min(e.OpenChunkSize, lineCount-startLine+1)}
	next := current.Add(chunk)

	requested := state.Total() + next.Total() - current.Total()
	if requested > e.MaxOpenSize {
		return state, &BudgetExceededError{Requested: requested, Max: e.MaxOpenSize}
	}

	logx.Debug(ctx, "buffer", "opened %s lines %s (%d open)", path, chunk, requested)
	return state.With(path, next), nil
}

// CloseFileRange removes a range from the open set of path. Closing lines
// that are not open is a no-op.
func (e *Editor) CloseFileRange(state State, path string, startLine, nLines int) State {
	current, ok := state.Get(path)
	if !ok {
		return state
	}
	return state.With(path, current.Subtract(LineRange{StartLine: startLine, NLines: nLines}))
}

// ReplaceFileLines validates every replacement against the open set and
// the live file, then applies them all in one write. Any failure leaves
// both the file and the state untouched.
func (e *Editor) ReplaceFileLines(ctx context.Context, ex exec.Executor, state State, path string,
	replacements []Replacement) (State, EditResult, error) {
	ranges, ok := state.Get(path)
	if !ok {
		return state, EditResult{}, &FileNotOpenError{Path: path}
	}
	if len(replacements) == 0 {
		return state, EditResult{}, &InvalidReplacementError{Path: path, Reason: "no replacements given"}
	}
	for _, r := range replacements {
		if r.StartLine < 1 || r.RemoveUpToLine < r.StartLine {
			return state, EditResult{}, &InvalidReplacementError{
				Path:   path,
				Reason: fmt.Sprintf("start_line %d and remove_up_to_line %d do not form a range", r.StartLine, r.RemoveUpToLine),
			}
		}
		if !ranges.Covers(r.StartLine, r.RemoveUpToLine) {
			return state, EditResult{}, &RangeNotOpenError{Path: path, StartLine: r.StartLine, EndLine: r.RemoveUpToLine}
		}
	}

	sorted := make([]Replacement, len(replacements))
	copy(sorted, replacements)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartLine < sorted[j].StartLine })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.RemoveUpToLine > cur.StartLine || prev.StartLine == cur.StartLine {
			return state, EditResult{}, &OverlappingReplacementError{Path: path, First: prev.span(), Second: cur.span()}
		}
	}

	lines, err := readLines(ctx, ex, path)
	if err != nil {
		return state, EditResult{}, err
	}
	delta := 0
	for _, r := range sorted {
		if r.RemoveUpToLine-1 > len(lines) ||
			!linesEqual(sliceLines(lines, r.StartLine, r.RemoveUpToLine), r.ExpectedPriorLines) {
			return state, EditResult{}, &ContentMismatchError{Path: path, StartLine: r.StartLine, EndLine: r.RemoveUpToLine}
		}
		delta += len(r.NewLines) - (r.RemoveUpToLine - r.StartLine)
	}
	if requested := state.Total() + delta; requested > e.MaxOpenSize {
		return state, EditResult{}, &BudgetExceededError{Requested: requested, Max: e.MaxOpenSize}
	}

	before := strings.Join(lines, "\n")
	updated := lines
	for i := len(sorted) - 1; i >= 0; i-- {
		r := sorted[i]
		spliced := make([]string, 0, len(updated)+len(r.NewLines))
		spliced = append(spliced, updated[:r.StartLine-1]...)
		spliced = append(spliced, r.NewLines...)
		spliced = append(spliced, updated[r.RemoveUpToLine-1:]...)
		updated = spliced
		ranges = ranges.splice(r.StartLine, r.RemoveUpToLine, len(r.NewLines))
	}
	after := strings.Join(updated, "\n")

	if err := ex.WriteFile(ctx, path, after); err != nil {
		return state, EditResult{}, fmt.Errorf("failed to write to file: %w", err)
	}

	result := diffResult(path, before, after)
	result.Replacements = len(sorted)
	result.LineDelta = delta
	logx.Debug(ctx, "buffer", "edited %s: %d replacements, %+d lines", path, len(sorted), delta)
	return state.With(path, ranges), result, nil
}

// sliceLines returns lines [start, end) clamped to the file.
func sliceLines(lines []string, start, end int) []string {
	lo := min(start-1, len(lines))
	hi := min(end-1, len(lines))
	if lo < 0 || hi < lo {
		return nil
	}
	return lines[lo:hi]
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diffResult(path, before, after string) EditResult {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lineArray)

	result := EditResult{Path: path}
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			result.LinesAdded += n
		case diffmatchpatch.DiffDelete:
			result.LinesRemoved += n
		case diffmatchpatch.DiffEqual:
		}
	}
	result.Patch = dmp.PatchToText(dmp.PatchMake(before, diffs))
	return result
}
