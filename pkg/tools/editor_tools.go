package tools

import (
	"context"
	"fmt"

	"programmer/pkg/buffer"
	"programmer/pkg/llm"
)

// Tool names.
const (
	ToolOpenFile         = "open_file"
	ToolCloseFileRange   = "close_file_range"
	ToolReplaceFileLines = "replace_file_lines"
	ToolRunCommand       = "run_command"
	ToolListFiles        = "list_files"
	ToolViewImage        = "view_image"
)

const success = "success"

// EditorTools returns the buffer tools bound to sess.
func EditorTools(sess *buffer.Session) []Tool {
	return []Tool{
		&openFileTool{sess: sess},
		&closeFileRangeTool{sess: sess},
		&replaceFileLinesTool{sess: sess},
	}
}

type openFileTool struct {
	sess *buffer.Session
}

func (t *openFileTool) Definition() Definition {
	return Define(ToolOpenFile,
		"Open a chunk of a file so its lines appear in the open buffers shown with each turn. "+
			"Open lines count against a fixed budget; close ranges you no longer need.").
		String("path", "Path of the file, relative to the working directory.", Required).
		Integer("start_line", "First line to open, 1-indexed.", Required).
		Build()
}

func (t *openFileTool) Exec(ctx context.Context, args map[string]any) (Result, error) {
	path, err := StringArg(args, "path")
	if err != nil {
		return Result{}, err
	}
	startLine, err := IntArg(args, "start_line")
	if err != nil {
		return Result{}, err
	}
	if err := t.sess.Open(ctx, path, startLine); err != nil {
		return Result{}, err
	}
	return Text(success), nil
}

type closeFileRangeTool struct {
	sess *buffer.Session
}

func (t *closeFileRangeTool) Definition() Definition {
	return Define(ToolCloseFileRange, "Close a range of open lines in a file, freeing budget.").
		String("path", "Path of the file.", Required).
		Integer("start_line", "First line to close, 1-indexed.", Required).
		Integer("n_lines", "Number of lines to close.", Required).
		Build()
}

func (t *closeFileRangeTool) Exec(_ context.Context, args map[string]any) (Result, error) {
	path, err := StringArg(args, "path")
	if err != nil {
		return Result{}, err
	}
	startLine, err := IntArg(args, "start_line")
	if err != nil {
		return Result{}, err
	}
	nLines, err := IntArg(args, "n_lines")
	if err != nil {
		return Result{}, err
	}
	t.sess.Close(path, startLine, nLines)
	return Text(success), nil
}

type replaceFileLinesTool struct {
	sess *buffer.Session
}

func (t *replaceFileLinesTool) Definition() Definition {
	replacement := ObjectProp("One replacement.", map[string]*llm.Schema{
		"start_line":        IntegerProp("First line to replace, 1-indexed."),
		"remove_up_to_line": IntegerProp("Line to stop removing at, exclusive. Equal to start_line to insert without removing."),
		"lines":             {Type: "array", Description: "New lines to put in place of the removed ones.", Items: StringProp("A line without its newline.")},
	}, "start_line", "remove_up_to_line", "lines")

	return Define(ToolReplaceFileLines,
		"Replace line ranges of an open file in one atomic edit. Every range must lie within open lines, "+
			"ranges must not overlap, and line numbers refer to the file as last shown to you.").
		String("path", "Path of the file.", Required).
		Array("replacements", "Replacements to apply together.", replacement, Required).
		Build()
}

func (t *replaceFileLinesTool) Exec(ctx context.Context, args map[string]any) (Result, error) {
	path, err := StringArg(args, "path")
	if err != nil {
		return Result{}, err
	}
	items, err := ObjectListArg(args, "replacements")
	if err != nil {
		return Result{}, err
	}
	edits := make([]buffer.Edit, 0, len(items))
	for i, item := range items {
		start, err := IntArg(item, "start_line")
		if err != nil {
			return Result{}, fmt.Errorf("replacements[%d]: %w", i, err)
		}
		end, err := IntArg(item, "remove_up_to_line")
		if err != nil {
			return Result{}, fmt.Errorf("replacements[%d]: %w", i, err)
		}
		lines, err := LinesArg(item, "lines")
		if err != nil {
			return Result{}, fmt.Errorf("replacements[%d]: %w", i, err)
		}
		edits = append(edits, buffer.Edit{StartLine: start, RemoveUpToLine: end, Lines: lines})
	}
	if _, err := t.sess.Replace(ctx, path, edits); err != nil {
		return Result{}, err
	}
	return Text(success), nil
}
