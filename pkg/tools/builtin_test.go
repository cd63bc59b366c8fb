package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/buffer"
	"programmer/pkg/exec"
	"programmer/pkg/llm"
)

func setup(t *testing.T, files map[string]string) (*exec.LocalExec, *buffer.Session, *Registry) {
	t.Helper()
	ex, err := exec.NewLocalExec(t.TempDir(), 0)
	require.NoError(t, err)
	for name, content := range files {
		path := filepath.Join(ex.Dir(), name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	sess := buffer.NewSession(buffer.NewEditor(100, 50), ex, buffer.NewState())
	reg := NewRegistry().MustRegister(BaseTools(ex)...).MustRegister(EditorTools(sess)...)
	return ex, sess, reg
}

func dispatchText(t *testing.T, reg *Registry, name, args string) string {
	t.Helper()
	msgs := reg.Dispatch(context.Background(), llm.Call("call", name, args))
	require.NotEmpty(t, msgs)
	return msgs[0].Content
}

func TestEditorToolsRoundTrip(t *testing.T) {
	ex, sess, reg := setup(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})

	assert.Equal(t, "success", dispatchText(t, reg, ToolOpenFile, `{"path":"main.go","start_line":1}`))
	assert.Equal(t, 4, sess.State().Total())

	out := dispatchText(t, reg, ToolReplaceFileLines, `{"path":"main.go","replacements":[
		{"start_line":3,"remove_up_to_line":4,"lines":["func main() {","\tprintln(1)","}"]}
	]}`)
	assert.Equal(t, "success", out)
	data, err := os.ReadFile(filepath.Join(ex.Dir(), "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(1)\n}\n", string(data))
	assert.Len(t, sess.Journal(), 1)

	assert.Equal(t, "success", dispatchText(t, reg, ToolCloseFileRange, `{"path":"main.go","start_line":1,"n_lines":100}`))
	assert.Zero(t, sess.State().Len())
}

func TestEditorToolErrorsAreText(t *testing.T) {
	_, _, reg := setup(t, map[string]string{"a.txt": "x"})

	assert.Contains(t, dispatchText(t, reg, ToolOpenFile, `{"path":"missing.txt","start_line":1}`), "not found")
	assert.True(t, strings.HasPrefix(dispatchText(t, reg, ToolOpenFile, `{"path":"a.txt","start_line":9}`), "error: Start line 9"))
	assert.Contains(t, dispatchText(t, reg, ToolOpenFile, `{"path":"a.txt","start_line":1.5}`), "must be an integer")
	assert.Contains(t, dispatchText(t, reg, ToolReplaceFileLines, `{"path":"a.txt","replacements":[{"start_line":1,"remove_up_to_line":2,"lines":[]}]}`),
		"is not open")
	assert.Contains(t, dispatchText(t, reg, ToolReplaceFileLines, `{"path":"a.txt","replacements":[{"remove_up_to_line":2}]}`),
		`replacements[0]: argument "start_line" is required`)
}

func TestRunCommand(t *testing.T) {
	_, _, reg := setup(t, nil)
	out := dispatchText(t, reg, ToolRunCommand, `{"command":"echo out; echo err >&2; exit 4"}`)
	assert.Equal(t, "Exit code: 4\nSTDOUT\nout\nSTDERR\nerr\n", out)

	out = dispatchText(t, reg, ToolRunCommand, `{"command":"true"}`)
	assert.Equal(t, "Exit code: 0\n", out)
}

func TestFormatCommandResult(t *testing.T) {
	merged := FormatCommandResult(exec.Result{Merged: true, Output: "  both  \n", ExitCode: 1})
	assert.Equal(t, "Exit code: 1\nOUTPUT\nboth\n", merged)

	long := FormatCommandResult(exec.Result{Stdout: strings.Repeat("a", LengthLimit+50)})
	assert.Contains(t, long, truncationNotice)
	assert.Less(t, len(long), LengthLimit+100)
}

func TestListFiles(t *testing.T) {
	_, _, reg := setup(t, map[string]string{"b.txt": "", "src/a.go": ""})
	assert.Equal(t, `["b.txt","src/"]`, dispatchText(t, reg, ToolListFiles, `{}`))
	assert.Equal(t, `["a.go"]`, dispatchText(t, reg, ToolListFiles, `{"path":"src"}`))
	assert.Contains(t, dispatchText(t, reg, ToolListFiles, `{"path":"nope"}`), "not found")
}

func TestViewImage(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"
	_, _, reg := setup(t, map[string]string{"shot.png": png, "fake.png": "not an image", "doc.gif": "GIF89a"})

	msgs := reg.Dispatch(context.Background(), llm.Call("c1", ToolViewImage, `{"path":"shot.png"}`))
	require.Len(t, msgs, 2)
	assert.Equal(t, "success", msgs[0].Content)
	require.Len(t, msgs[1].Parts, 1)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Parts[0].ImageURL.URL, "data:image/png;base64,iVBORw0KGgo"))

	assert.Contains(t, dispatchText(t, reg, ToolViewImage, `{"path":"doc.gif"}`), "only .jpg, .jpeg and .png")
	assert.Contains(t, dispatchText(t, reg, ToolViewImage, `{"path":"fake.png"}`), "contains text/plain")
}
