package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/config"
	"programmer/pkg/llm"
	"programmer/pkg/metrics"
	"programmer/pkg/persistence"
)

// useScripted makes every session talk to a fresh scripted client built by
// replies.
func useScripted(t *testing.T, replies func() []llm.ScriptedReply) {
	t.Helper()
	orig := newClient
	newClient = func(*config.Config) (llm.Client, error) {
		return llm.NewScriptedClient(replies()...), nil
	}
	t.Cleanup(func() { newClient = orig })
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := "model:\n  name: gpt-4o-2024-08-06\n" +
		"snapshot:\n  disabled: true\n" +
		"persistence:\n  db_path: " + filepath.Join(dir, "sessions.db") + "\n" +
		"metrics:\n  textfile_path: " + filepath.Join(dir, "programmer.prom") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunWritesFileAndRecordsSession(t *testing.T) {
	dir := t.TempDir()
	work := t.TempDir()
	cfgPath := writeConfig(t, dir)
	useScripted(t, func() []llm.ScriptedReply {
		return []llm.ScriptedReply{
			llm.Reply("", llm.Call("c1", "run_command", `{"command":"printf ok > result.txt"}`)),
			llm.Reply("Wrote result.txt."),
		}
	})

	out, err := execute(t, "", "run", "--config", cfgPath, "--workdir", work, "--prompt", "create result.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote result.txt.")

	data, err := os.ReadFile(filepath.Join(work, "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))

	prom, err := os.ReadFile(filepath.Join(dir, "programmer.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "programmer_steps_total")

	out, err = execute(t, "", "sessions", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "create result.txt")
}

func TestRunReadsPromptFromStdin(t *testing.T) {
	dir := t.TempDir()
	useScripted(t, func() []llm.ScriptedReply { return []llm.ScriptedReply{llm.Reply("Nothing to do.")} })

	out, err := execute(t, "say hello\n", "run", "--config", writeConfig(t, dir), "--workdir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do.")

	_, err = execute(t, "  \n", "run", "--config", writeConfig(t, dir), "--workdir", t.TempDir())
	assert.ErrorContains(t, err, "no task given")
}

func TestRestoreRequiresSnapshots(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	_, err := execute(t, "", "restore", "--config", cfgPath, "unknown-session")
	assert.ErrorContains(t, err, "has no recorded steps")

	_, err = execute(t, "", "restore", "--config", cfgPath, `{"snapshot_info":{"commit":"abc"}}`)
	assert.Error(t, err)
}

func TestLoadBatchFile(t *testing.T) {
	dir := t.TempDir()
	write := func(content string) string {
		path := filepath.Join(dir, "tasks.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	f, err := loadBatchFile(write("concurrency: 3\ntasks:\n  - prompt: one\n  - name: two\n    prompt: two\n    model: claude-sonnet-4-20250514\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.Concurrency)
	require.Len(t, f.Tasks, 2)
	assert.Equal(t, "task-1", f.Tasks[0].Name)
	assert.Equal(t, "claude-sonnet-4-20250514", f.Tasks[1].Model)

	_, err = loadBatchFile(write("tasks: []\n"))
	assert.ErrorContains(t, err, "no tasks")
	_, err = loadBatchFile(write("tasks:\n  - name: a\n    prompt: x\n  - name: a\n    prompt: y\n"))
	assert.ErrorContains(t, err, "duplicate task name")
	_, err = loadBatchFile(write("tasks:\n  - name: a\n"))
	assert.ErrorContains(t, err, "has no prompt")
}

func TestBatchRunsTasksIndependently(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	workA, workB := t.TempDir(), t.TempDir()
	useScripted(t, func() []llm.ScriptedReply {
		return []llm.ScriptedReply{
			llm.Reply("", llm.Call("c1", "run_command", `{"command":"touch done"}`)),
			llm.Reply("Done."),
		}
	})
	tasks := "tasks:\n" +
		"  - name: a\n    prompt: touch a file\n    workdir: " + workA + "\n" +
		"  - name: b\n    prompt: touch a file\n    workdir: " + workB + "\n" +
		"  - name: bad\n    prompt: x\n    model: no-such-model\n"
	tasksPath := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(tasksPath, []byte(tasks), 0o644))

	out, err := execute(t, "", "batch", "--config", cfgPath, tasksPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad:")
	assert.Contains(t, out, "✓ a")
	assert.Contains(t, out, "✓ b")
	assert.FileExists(t, filepath.Join(workA, "done"))
	assert.FileExists(t, filepath.Join(workB, "done"))
}

func TestTaskConfigDoesNotShareState(t *testing.T) {
	base := config.Default()
	base.Debug.Domains = []string{"agent"}
	cfg := taskConfig(base, BatchTask{WorkDir: "/tmp/x", Model: "claude-sonnet-4-20250514"})
	cfg.Debug.Domains[0] = "changed"

	assert.Equal(t, "agent", base.Debug.Domains[0])
	assert.Equal(t, "/tmp/x", cfg.Executor.WorkDir)
	provider, err := cfg.Provider()
	require.NoError(t, err)
	assert.Equal(t, config.ProviderAnthropic, provider)
}

func TestPrintSessions(t *testing.T) {
	var out bytes.Buffer
	list := []persistence.Session{
		{SessionID: "s1", Status: "completed", StepCount: 3, Model: "m", Task: "first line\nsecond line"},
		{SessionID: "s2", Status: "failed", Model: "m", Task: strings.Repeat("x", 80)},
	}
	require.NoError(t, printSessions(&out, list, map[string]*metrics.SessionUsage{"s1": {PromptTokens: 1200}}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TOKENS")
	assert.Contains(t, lines[1], "first line")
	assert.NotContains(t, lines[1], "second line")
	assert.Contains(t, lines[1], "1200")
	assert.Contains(t, lines[2], strings.Repeat("x", 47)+"...")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "-"))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", summarize("short", 10))
	assert.Equal(t, "abcdefg...", summarize("abcdefghijklmnop", 10))
}

func TestLanesSerializeSharedWorkspaces(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	shared, other := t.TempDir(), t.TempDir()
	repo := t.TempDir()
	out, err := exec.Command("git", "init", "-q", repo).CombinedOutput()
	require.NoError(t, err, string(out))
	for _, sub := range []string{"svc-a", "svc-b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(repo, sub), 0o755))
	}

	a := &app{cfg: config.Default()}
	lanes := a.lanes(context.Background(), []BatchTask{
		{Name: "one", WorkDir: shared},
		{Name: "two", WorkDir: shared + "/."},
		{Name: "three", WorkDir: filepath.Join(repo, "svc-a")},
		{Name: "four", WorkDir: filepath.Join(repo, "svc-b")},
		{Name: "five", WorkDir: other},
	})
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, lanes)
}

func TestBatchSharedWorkdirRunsSequentially(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	work := t.TempDir()
	useScripted(t, func() []llm.ScriptedReply {
		return []llm.ScriptedReply{
			llm.Reply("", llm.Call("c1", "run_command", `{"command":"test ! -e busy && touch busy && sleep 0.2 && rm busy && echo ran >> log"}`)),
			llm.Reply("Done."),
		}
	})
	tasks := "concurrency: 2\ntasks:\n" +
		"  - name: a\n    prompt: append\n    workdir: " + work + "\n" +
		"  - name: b\n    prompt: append\n    workdir: " + work + "\n"
	tasksPath := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(tasksPath, []byte(tasks), 0o644))

	_, err := execute(t, "", "batch", "--config", cfgPath, tasksPath)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(work, "log"))
	require.NoError(t, err)
	assert.Equal(t, "ran\nran\n", string(data))
}
