package buffer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"programmer/pkg/exec"
)

// NoOpenFiles is the view shown when nothing is open.
const NoOpenFiles = "No files are currently open."

// BufferView is the live content of one open range.
type BufferView struct {
	Lines []string
	Range LineRange
}

// FileView is the live content of one open file.
type FileView struct {
	Path       string
	Missing    bool
	Buffers    []BufferView
	TotalLines int
}

// OpenFileInfo re-reads every open file and slices it by its open ranges.
// A file deleted since it was opened is reported as missing instead of failing.
func (e *Editor) OpenFileInfo(ctx context.Context, ex exec.Executor, state State) ([]FileView, error) {
	views := make([]FileView, 0, state.Len())
	for _, path := range state.Paths() {
		ranges, _ := state.Get(path)
		lines, err := readLines(ctx, ex, path)
		var notFound *FileNotFoundError
		if errors.As(err, &notFound) {
			views = append(views, FileView{Path: path, Missing: true})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read open file %s: %w", path, err)
		}
		view := FileView{Path: path, TotalLines: len(lines)}
		for _, r := range ranges.Ranges() {
			view.Buffers = append(view.Buffers, BufferView{Range: r, Lines: sliceLines(lines, r.StartLine, r.End())})
		}
		views = append(views, view)
	}
	return views, nil
}

// Render formats views as the line-numbered block placed in the prompt.
func Render(views []FileView) string {
	if len(views) == 0 {
		return NoOpenFiles
	}
	var sb strings.Builder
	sb.WriteString("The following file line ranges are currently open")
	for _, view := range views {
		fmt.Fprintf(&sb, "\n<file %s>", view.Path)
		if view.Missing {
			sb.WriteString("\n<file_info missing=true />\n</file>")
			continue
		}
		fmt.Fprintf(&sb, "\n<file_info total_lines=%d />", view.TotalLines)
		for _, buf := range view.Buffers {
			sb.WriteString("\n<buffer>")
			for i, line := range buf.Lines {
				fmt.Fprintf(&sb, "\n%d: %s", buf.Range.StartLine+i, line)
			}
			sb.WriteString("\n</buffer>")
		}
		sb.WriteString("\n</file>")
	}
	return sb.String()
}
