package buffer

import (
	"fmt"

	"programmer/pkg/exec"
)

// Buffer errors are recoverable: their text is shown to the model so it can
// correct itself.

// FileNotFoundError reports a path that does not exist in the workspace.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("File not found: %s", e.Path)
}

func (e *FileNotFoundError) Unwrap() error {
	return exec.ErrFileNotFound
}

// BoundsError reports a start line outside [1, line count].
type BoundsError struct {
	Path      string
	StartLine int
	LineCount int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("Start line %d is out of bounds for %s (which has %d lines).", e.StartLine, e.Path, e.LineCount)
}

// BudgetExceededError reports an operation that would open too many lines.
type BudgetExceededError struct {
	Requested int
	Max       int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("This request would result in %d open lines exceeding the maximum of %d lines. Close some ranges first.",
		e.Requested, e.Max)
}

// FileNotOpenError reports an edit to a file with no open ranges.
type FileNotOpenError struct {
	Path string
}

func (e *FileNotOpenError) Error() string {
	return fmt.Sprintf("File %s is not open. Open it with open_file before editing.", e.Path)
}

// RangeNotOpenError reports an edit outside the open ranges.
type RangeNotOpenError struct {
	Path      string
	StartLine int
	EndLine   int // exclusive
}

func (e *RangeNotOpenError) Error() string {
	if e.StartLine == e.EndLine {
		return fmt.Sprintf("Insertion point at line %d of %s is not within an open range.", e.StartLine, e.Path)
	}
	return fmt.Sprintf("Lines %d-%d of %s are not fully within an open range.", e.StartLine, e.EndLine-1, e.Path)
}

// OverlappingReplacementError reports two replacements touching the same lines.
type OverlappingReplacementError struct {
	Path   string
	First  LineRange
	Second LineRange
}

func (e *OverlappingReplacementError) Error() string {
	return fmt.Sprintf("Replacements for %s overlap: starting at line %d and at line %d.",
		e.Path, e.First.StartLine, e.Second.StartLine)
}

// ContentMismatchError reports that the live file no longer holds the lines
// the model last saw.
type ContentMismatchError struct {
	Path      string
	StartLine int
	EndLine   int // exclusive
}

func (e *ContentMismatchError) Error() string {
	return fmt.Sprintf("Lines %d-%d of %s have changed since they were last shown. Review the current buffer and retry.",
		e.StartLine, e.EndLine-1, e.Path)
}

// InvalidReplacementError reports a malformed replacement.
type InvalidReplacementError struct {
	Path   string
	Reason string
}

func (e *InvalidReplacementError) Error() string {
	return fmt.Sprintf("Invalid replacement for %s: %s", e.Path, e.Reason)
}
