package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"programmer/pkg/exec"
	"programmer/pkg/llm"
)

type listFilesTool struct {
	ex exec.Executor
}

// NewListFilesTool lists directory entries through ex.
func NewListFilesTool(ex exec.Executor) Tool {
	return &listFilesTool{ex: ex}
}

func (t *listFilesTool) Definition() Definition {
	return Define(ToolListFiles,
		"List the entries of a directory as a JSON array. Directories end with a slash.").
		String("path", "Directory to list, relative to the working directory. Defaults to the working directory.", Optional).
		Build()
}

func (t *listFilesTool) Exec(ctx context.Context, args map[string]any) (Result, error) {
	dir, err := StringArgOr(args, "path", ".")
	if err != nil {
		return Result{}, err
	}
	names, err := t.ex.ListDir(ctx, dir)
	if err != nil {
		return Result{}, err
	}
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode listing: %w", err)
	}
	return Text(Truncate(string(data))), nil
}

// supportedImages maps accepted extensions to their media types.
//
//nolint:gochecknoglobals // lookup table
var supportedImages = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

type viewImageTool struct {
	ex exec.Executor
}

// NewViewImageTool attaches images to the conversation through ex.
func NewViewImageTool(ex exec.Executor) Tool {
	return &viewImageTool{ex: ex}
}

func (t *viewImageTool) Definition() Definition {
	return Define(ToolViewImage,
		"View a .png or .jpg image. The image is attached in the next message.").
		String("path", "Path of the image file.", Required).
		Build()
}

func (t *viewImageTool) Exec(ctx context.Context, args map[string]any) (Result, error) {
	path, err := StringArg(args, "path")
	if err != nil {
		return Result{}, err
	}
	mediaType, ok := supportedImages[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Result{}, fmt.Errorf("only .jpg, .jpeg and .png files are supported")
	}
	data, err := t.ex.ReadBinary(ctx, path)
	if err != nil {
		return Result{}, err
	}
	if detected := mimetype.Detect(data); !detected.Is(mediaType) {
		return Result{}, fmt.Errorf("%s has extension of %s but contains %s", path, mediaType, detected.String())
	}
	msg := llm.NewImageMessage("", llm.DataURL(mediaType, data))
	return Result{Content: success, Secondary: &msg}, nil
}

// BaseTools returns the tools that need only an executor.
func BaseTools(ex exec.Executor) []Tool {
	return []Tool{
		NewRunCommandTool(ex),
		NewListFilesTool(ex),
		NewViewImageTool(ex),
	}
}
