package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/buffer"
	"programmer/pkg/exec"
	"programmer/pkg/llm"
	"programmer/pkg/snapshot"
	"programmer/pkg/tools"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSnapshots struct {
	err      error
	messages []string
}

func (r *recordingSnapshots) StartSession(context.Context, string) error { return nil }
func (r *recordingSnapshots) Close() error                               { return nil }

func (r *recordingSnapshots) Snapshot(_ context.Context, message string) (snapshot.Key, error) {
	r.messages = append(r.messages, message)
	if r.err != nil {
		return snapshot.Key{}, r.err
	}
	return snapshot.Key{Provider: snapshot.ProviderGit, Info: snapshot.Info{Commit: strings.Repeat("a", len(r.messages))}}, nil
}

type charCounter struct{}

func (charCounter) CountMessages(msgs []llm.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Text())
	}
	return n
}

func workspace(t *testing.T, files map[string]string) *exec.LocalExec {
	t.Helper()
	ex, err := exec.NewLocalExec(t.TempDir(), 0)
	require.NoError(t, err)
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(ex.Dir(), name), []byte(content), 0o644))
	}
	return ex
}

func TestRunStopsWhenModelAsksForNoTools(t *testing.T) {
	client := llm.NewScriptedClient(llm.Reply("all done"))
	a := New(client, workspace(t, nil))

	res, err := a.Run(context.Background(), NewState(llm.NewUserMessage("say hi")), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StopDone, res.Reason)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 2, res.State.History.Len())
	assert.Equal(t, PhaseDone, a.Phase())

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, buffer.NoOpenFiles, msgs[1].Text())
	assert.Equal(t, "say hi", msgs[2].Text())
	assert.InDelta(t, 0.7, reqs[0].Temperature, 1e-9)
	assert.Len(t, reqs[0].Tools, 6)
}

func TestStepsEditThroughBuffers(t *testing.T) {
	ex := workspace(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	client := llm.NewScriptedClient(
		llm.Reply("", llm.Call("c1", tools.ToolOpenFile, `{"path":"main.go","start_line":1}`)),
		llm.Reply("", llm.Call("c2", tools.ToolReplaceFileLines,
			`{"path":"main.go","replacements":[{"start_line":3,"remove_up_to_line":4,"lines":["func main() { println(1) }"]}]}`)),
		llm.Reply("edited"),
	)
	snaps := &recordingSnapshots{}
	var records []StepRecord
	a := New(client, ex,
		WithSnapshots(snaps),
		WithSessionID("s1"),
		WithTokenCounter(charCounter{}),
		WithObserver(StepObserverFunc(func(_ context.Context, rec StepRecord) error {
			records = append(records, rec)
			return nil
		})),
	)

	res, err := a.Run(context.Background(), NewState(llm.NewUserMessage("add a print")), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Steps)

	data, err := os.ReadFile(filepath.Join(ex.Dir(), "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() { println(1) }\n", string(data))

	reqs := client.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].Messages[1].Text(), "3: func main() {}")
	assert.Contains(t, reqs[2].Messages[1].Text(), "3: func main() { println(1) }")

	require.Len(t, records, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{records[0].Index, records[1].Index, records[2].Index})
	require.Len(t, records[1].Tools, 1)
	assert.Equal(t, tools.StatusOK, records[1].Tools[0].Status)
	require.Len(t, records[1].Edits, 1)
	assert.Equal(t, 0, records[1].Edits[0].LineDelta)
	assert.Positive(t, records[0].PromptTokens)

	assert.Equal(t, []string{
		snapshot.CommitMessage("s1", 1),
		snapshot.CommitMessage("s1", 2),
		snapshot.CommitMessage("s1", 3),
	}, snaps.messages)
	assert.Equal(t, "aaa", res.State.Snapshot.Info.Commit)
	assert.Equal(t, 4, res.State.Buffers.Total())
}

func TestToolCallsRunInOrderAndErrorsBecomeText(t *testing.T) {
	ex := workspace(t, nil)
	client := llm.NewScriptedClient(
		llm.Reply("working",
			llm.Call("a", tools.ToolRunCommand, `{"command":"echo one > log.txt"}`),
			llm.Call("b", "no_such_tool", `{}`),
			llm.Call("c", tools.ToolRunCommand, `{"command":"echo two >> log.txt; cat log.txt"}`),
		),
		llm.Reply("done"),
	)
	res, err := New(client, ex).Run(context.Background(), NewState(llm.NewUserMessage("go")), 0)
	require.NoError(t, err)

	msgs := res.State.History.Messages()
	require.Len(t, msgs, 6)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, llm.RoleTool, msgs[2+i].Role)
		assert.Equal(t, id, msgs[2+i].ToolCallID)
	}
	assert.Contains(t, msgs[3].Content, `tool "no_such_tool" not found`)
	assert.Equal(t, "Exit code: 0\nSTDOUT\none\ntwo\n", msgs[4].Content)
}

func TestRunStopsAtTimeLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	replies := make([]llm.ScriptedReply, 10)
	for i := range replies {
		replies[i] = llm.Reply("", llm.Call("c", tools.ToolRunCommand, `{"command":"true"}`))
	}
	a := New(llm.NewScriptedClient(replies...), workspace(t, nil),
		WithClock(clock.Now),
		WithObserver(StepObserverFunc(func(context.Context, StepRecord) error {
			clock.Advance(time.Minute)
			return nil
		})),
	)

	res, err := a.Run(context.Background(), NewState(llm.NewUserMessage("loop")), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StopTimeLimit, res.Reason)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 2*time.Minute, res.Elapsed)
	assert.Equal(t, PhaseTimeLimitExceeded, a.Phase())
}

func TestModelErrorPropagates(t *testing.T) {
	cause := llm.NewError(llm.ErrorTypeRateLimit, "slow down")
	client := llm.NewScriptedClient(
		llm.Reply("", llm.Call("c", tools.ToolRunCommand, `{"command":"true"}`)),
		llm.ScriptedReply{Err: cause},
	)
	res, err := New(client, workspace(t, nil)).Run(context.Background(), NewState(llm.NewUserMessage("x")), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model call failed")
	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrorTypeRateLimit, llmErr.Type)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 3, res.State.History.Len())
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := llm.NewScriptedClient(llm.Reply("never"))
	res, err := New(client, workspace(t, nil)).Run(ctx, NewState(), 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Steps)
	assert.Empty(t, client.Requests())
}

func TestSnapshotFailureKeepsPreviousKey(t *testing.T) {
	prev := snapshot.Key{Provider: snapshot.ProviderGit, Info: snapshot.Info{Commit: "prev"}}
	a := New(llm.NewScriptedClient(llm.Reply("ok")), workspace(t, nil),
		WithSnapshots(&recordingSnapshots{err: errors.New("disk full")}))

	next, err := a.Step(context.Background(), NewState(llm.NewUserMessage("x")).WithSnapshot(prev))
	require.NoError(t, err)
	assert.Equal(t, prev, next.Snapshot)
}

func TestStateIsPersistentAndSerializable(t *testing.T) {
	base := NewState(llm.NewUserMessage("task"))
	withBuf := base.WithBuffers(base.Buffers.With("a.go", buffer.NewFileRanges(buffer.LineRange{StartLine: 1, NLines: 5})))
	grown := withBuf.Append(llm.NewAssistantMessage("ok", nil))

	assert.Equal(t, 1, base.History.Len())
	assert.Zero(t, base.Buffers.Total())
	assert.Equal(t, 2, grown.History.Len())
	assert.True(t, grown.Done())
	assert.Equal(t, 1, grown.StepCount())

	data, err := json.Marshal(grown.WithSnapshot(snapshot.Key{Provider: snapshot.ProviderNoop}))
	require.NoError(t, err)
	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.Contains(t, string(data), `"env_id":"noop"`)
	assert.Contains(t, string(data), `"open_files"`)
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "base\n\nextra", SystemPrompt(" base ", "", "extra\n"))
}
