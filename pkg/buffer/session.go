package buffer

import (
	"context"
	"slices"

	"programmer/pkg/exec"
)

// Edit is a replacement as the model states it: only the new lines. The
// expected prior lines come from what the model was last shown.
type Edit struct {
	Lines          []string `json:"lines"`
	StartLine      int      `json:"start_line"`
	RemoveUpToLine int      `json:"remove_up_to_line"`
}

// Session is the mutable buffer context of one step. It threads State
// through editor calls, remembers the line content the model has been
// shown, and journals applied edits. A Session is not safe for concurrent use.
type Session struct {
	editor  *Editor
	ex      exec.Executor
	seen    map[string]map[int]string
	state   State
	journal []EditResult
}

// NewSession starts a step with the given state.
func NewSession(editor *Editor, ex exec.Executor, state State) *Session {
	return &Session{
		editor: editor,
		ex:     ex,
		state:  state,
		seen:   make(map[string]map[int]string),
	}
}

// State returns the current buffer state.
func (s *Session) State() State {
	return s.state
}

// Executor returns the execution context edits go through.
func (s *Session) Executor() exec.Executor {
	return s.ex
}

// Journal returns the edits applied so far.
func (s *Session) Journal() []EditResult {
	out := make([]EditResult, len(s.journal))
	copy(out, s.journal)
	return out
}

// View renders the open ranges from live content and records it as seen.
func (s *Session) View(ctx context.Context) (string, error) {
	views, err := s.editor.OpenFileInfo(ctx, s.ex, s.state)
	if err != nil {
		return "", err
	}
	for _, view := range views {
		s.remember(view)
	}
	return Render(views), nil
}

// Open opens a chunk of path and records its content as seen.
func (s *Session) Open(ctx context.Context, path string, startLine int) error {
	next, err := s.editor.OpenFile(ctx, s.ex, s.state, path, startLine)
	if err != nil {
		return err
	}
	s.state = next
	s.rememberOpened(ctx, path)
	return nil
}

// Close closes a range of path.
func (s *Session) Close(path string, startLine, nLines int) {
	s.state = s.editor.CloseFileRange(s.state, path, startLine, nLines)
}

// Replace applies edits to path, checking each against the lines the model
// last saw there.
func (s *Session) Replace(ctx context.Context, path string, edits []Edit) (EditResult, error) {
	if _, ok := s.state.Get(path); !ok {
		return EditResult{}, &FileNotOpenError{Path: path}
	}
	seen := s.seen[path]
	replacements := make([]Replacement, 0, len(edits))
	for _, edit := range edits {
		r := Replacement{StartLine: edit.StartLine, RemoveUpToLine: edit.RemoveUpToLine, NewLines: edit.Lines}
		for line := edit.StartLine; line < edit.RemoveUpToLine; line++ {
			content, ok := seen[line]
			if !ok {
				return EditResult{}, &RangeNotOpenError{Path: path, StartLine: edit.StartLine, EndLine: edit.RemoveUpToLine}
			}
			r.ExpectedPriorLines = append(r.ExpectedPriorLines, content)
		}
		replacements = append(replacements, r)
	}

	next, result, err := s.editor.ReplaceFileLines(ctx, s.ex, s.state, path, replacements)
	if err != nil {
		return EditResult{}, err
	}
	s.state = next
	s.journal = append(s.journal, result)
	s.shiftSeen(path, replacements)
	return result, nil
}

// rememberOpened records the live content of newly opened lines of path.
// Lines already seen keep the content the model was shown, so an external
// change to them is still caught by Replace.
func (s *Session) rememberOpened(ctx context.Context, path string) {
	ranges, _ := s.state.Get(path)
	views, err := s.editor.OpenFileInfo(ctx, s.ex, State{}.With(path, ranges))
	if err != nil {
		s.editor.logger.Warn("failed to read opened lines of %s: %v", path, err)
		return
	}
	seen := s.seen[path]
	if seen == nil {
		seen = make(map[int]string)
		s.seen[path] = seen
	}
	for _, view := range views {
		for _, buf := range view.Buffers {
			for i, line := range buf.Lines {
				if _, ok := seen[buf.Range.StartLine+i]; !ok {
					seen[buf.Range.StartLine+i] = line
				}
			}
		}
	}
}

// shiftSeen applies replacements to the seen lines of path: replaced spans
// take the new lines and later lines move by the line delta.
func (s *Session) shiftSeen(path string, replacements []Replacement) {
	sorted := slices.Clone(replacements)
	slices.SortFunc(sorted, func(a, b Replacement) int { return a.StartLine - b.StartLine })

	old := s.seen[path]
	next := make(map[int]string, len(old))
	for line, content := range old {
		delta, replaced := 0, false
		for _, r := range sorted {
			if line >= r.StartLine && line < r.RemoveUpToLine {
				replaced = true
				break
			}
			if r.RemoveUpToLine <= line {
				delta += len(r.NewLines) - (r.RemoveUpToLine - r.StartLine)
			}
		}
		if !replaced {
			next[line+delta] = content
		}
	}
	delta := 0
	for _, r := range sorted {
		for i, line := range r.NewLines {
			next[r.StartLine+delta+i] = line
		}
		delta += len(r.NewLines) - (r.RemoveUpToLine - r.StartLine)
	}
	s.seen[path] = next
}

func (s *Session) remember(view FileView) {
	if view.Missing {
		delete(s.seen, view.Path)
		return
	}
	lines := make(map[int]string)
	for _, buf := range view.Buffers {
		for i, line := range buf.Lines {
			lines[buf.Range.StartLine+i] = line
		}
	}
	s.seen[view.Path] = lines
}
