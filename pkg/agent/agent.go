// Package agent implements the turn engine: a step sends the conversation
// and open buffers to the model, executes the tools it asks for and
// snapshots the workspace; a run repeats steps until the model stops asking.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"programmer/pkg/buffer"
	"programmer/pkg/exec"
	"programmer/pkg/llm"
	"programmer/pkg/logx"
	"programmer/pkg/snapshot"
	"programmer/pkg/tools"
)

// Phase is where the turn engine currently is.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAwaitingModel
	PhaseExecutingTools
	PhaseSnapshotting
	PhaseDone
	PhaseTimeLimitExceeded
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingModel:
		return "awaiting_model"
	case PhaseExecutingTools:
		return "executing_tools"
	case PhaseSnapshotting:
		return "snapshotting"
	case PhaseDone:
		return "done"
	case PhaseTimeLimitExceeded:
		return "time_limit_exceeded"
	default:
		return "idle"
	}
}

// StopReason says why a run ended normally.
type StopReason string

const (
	StopDone      StopReason = "done"
	StopTimeLimit StopReason = "time_limit_exceeded"
)

// RunResult is the outcome of Run.
type RunResult struct {
	State   State
	Reason  StopReason
	Steps   int
	Elapsed time.Duration
}

// StepRecord describes one completed step for observers.
type StepRecord struct {
	Started       time.Time
	State         State
	Message       llm.Message
	SessionID     string
	Model         string
	Tools         []tools.Outcome
	Edits         []buffer.EditResult
	Snapshot      snapshot.Key
	Index         int
	PromptTokens  int
	Duration      time.Duration
	ModelDuration time.Duration
}

// StepObserver is notified after every step. An observer error is logged
// and does not stop the run.
type StepObserver interface {
	ObserveStep(ctx context.Context, rec StepRecord) error
}

// StepObserverFunc adapts a function to StepObserver.
type StepObserverFunc func(ctx context.Context, rec StepRecord) error

// ObserveStep implements StepObserver.
func (f StepObserverFunc) ObserveStep(ctx context.Context, rec StepRecord) error {
	return f(ctx, rec)
}

// TokenCounter estimates the prompt size of a request.
type TokenCounter interface {
	CountMessages(msgs []llm.Message) int
}

// Agent runs steps against one model and one execution context.
type Agent struct {
	client      llm.Client
	ex          exec.Executor
	snapshots   snapshot.Provider
	editor      *buffer.Editor
	counter     TokenCounter
	logger      *logx.Logger
	now         func() time.Time
	onDelta     func(string)
	observers   []StepObserver
	extraTools  []tools.Tool
	prompt      string
	sessionID   string
	temperature float64
	maxTokens   int
	phase       atomic.Int32
}

// Option configures an Agent.
type Option func(*Agent)

// WithSnapshots sets the provider used after every step. The default records nothing.
func WithSnapshots(p snapshot.Provider) Option {
	return func(a *Agent) { a.snapshots = p }
}

// WithEditor sets the buffer editor and thereby its size limits.
func WithEditor(e *buffer.Editor) Option {
	return func(a *Agent) { a.editor = e }
}

// WithObserver adds a step observer.
func WithObserver(o StepObserver) Option {
	return func(a *Agent) { a.observers = append(a.observers, o) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(a *Agent) { a.prompt = p }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxTokens caps the length of each reply.
func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithSessionID labels snapshots and step records.
func WithSessionID(id string) Option {
	return func(a *Agent) { a.sessionID = id }
}

// WithOnDelta streams assistant text as it arrives.
func WithOnDelta(fn func(string)) Option {
	return func(a *Agent) { a.onDelta = fn }
}

// WithTokenCounter enables prompt token accounting in step records.
func WithTokenCounter(c TokenCounter) Option {
	return func(a *Agent) { a.counter = c }
}

// WithTools makes additional tools available alongside the built-in ones.
func WithTools(t ...tools.Tool) Option {
	return func(a *Agent) { a.extraTools = append(a.extraTools, t...) }
}

// New creates an agent. The executor is used for every tool and is not
// released by the agent.
func New(client llm.Client, ex exec.Executor, opts ...Option) *Agent {
	a := &Agent{
		client:      client,
		ex:          ex,
		snapshots:   snapshot.NoopProvider{},
		editor:      buffer.NewEditor(buffer.DefaultMaxOpenSize, buffer.DefaultOpenChunkSize),
		logger:      logx.NewLogger("agent"),
		now:         time.Now,
		prompt:      DefaultSystemPrompt,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sessionID != "" {
		a.logger = logx.NewLogger("agent-" + a.sessionID)
	}
	return a
}

// Phase returns the current phase. It is safe to call from any goroutine.
func (a *Agent) Phase() Phase {
	return Phase(a.phase.Load())
}

func (a *Agent) setPhase(p Phase) {
	a.phase.Store(int32(p))
}

// registry builds the tools for one step, with the editor tools bound to sess.
func (a *Agent) registry(sess *buffer.Session) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	all := append(tools.BaseTools(a.ex), tools.EditorTools(sess)...)
	all = append(all, a.extraTools...)
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Step performs one turn and returns the next state. Tool failures are fed
// back to the model as text; only a failed model call or an unusable buffer
// view returns an error, in which case state is left as it was.
func (a *Agent) Step(ctx context.Context, state State) (State, error) {
	started := a.now()
	index := state.StepCount() + 1

	sess := buffer.NewSession(a.editor, a.ex, state.Buffers)
	reg, err := a.registry(sess)
	if err != nil {
		return state, fmt.Errorf("invalid tool set: %w", err)
	}
	view, err := sess.View(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to render open buffers: %w", err)
	}

	msgs := make([]llm.Message, 0, state.History.Len()+2)
	msgs = append(msgs, llm.NewSystemMessage(a.prompt), llm.NewUserMessage(view))
	msgs = append(msgs, state.History.Messages()...)

	promptTokens := 0
	if a.counter != nil {
		promptTokens = a.counter.CountMessages(msgs)
	}

	a.setPhase(PhaseAwaitingModel)
	a.logger.Info("🔄 Step %d: calling model '%s' with %d messages, %d tools",
		index, a.client.Model(), len(msgs), len(reg.Names()))
	modelStart := a.now()
	reply, err := a.client.Complete(ctx, llm.CompletionRequest{
		Messages:    msgs,
		Tools:       reg.Schemas(),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		OnDelta:     a.onDelta,
	})
	modelDuration := a.now().Sub(modelStart)
	if err != nil {
		a.setPhase(PhaseIdle)
		a.logger.Error("❌ Model call failed after %.3gs: %v", modelDuration.Seconds(), err)
		return state, fmt.Errorf("model call failed: %w", err)
	}
	reply.Role = llm.RoleAssistant
	a.logger.Info("✅ Model replied in %.3gs: %d chars, %d tool calls",
		modelDuration.Seconds(), len(reply.Content), len(reply.ToolCalls))

	history := state.History.Append(reply)
	outcomes := make([]tools.Outcome, 0, len(reply.ToolCalls))
	if len(reply.ToolCalls) > 0 {
		a.setPhase(PhaseExecutingTools)
		for _, call := range reply.ToolCalls {
			out := reg.Invoke(ctx, call)
			if out.Status == tools.StatusOK {
				a.logger.Info("Tool %s completed in %.3fs", out.Tool, out.Duration.Seconds())
			} else {
				a.logger.Warn("Tool %s: %s: %v", out.Tool, out.Status, out.Err)
			}
			outcomes = append(outcomes, out)
			history = history.Append(out.Messages...)
		}
	}

	next := state.WithHistory(history).WithBuffers(sess.State())

	a.setPhase(PhaseSnapshotting)
	key, err := a.snapshots.Snapshot(ctx, snapshot.CommitMessage(a.sessionID, index))
	if err != nil {
		a.logger.Warn("⚠️  Snapshot after step %d failed, keeping %s: %v", index, state.Snapshot, err)
	} else {
		next = next.WithSnapshot(key)
	}

	if next.Done() {
		a.setPhase(PhaseDone)
	} else {
		a.setPhase(PhaseAwaitingModel)
	}

	rec := StepRecord{
		Started:       started,
		State:         next,
		Message:       reply,
		SessionID:     a.sessionID,
		Model:         a.client.Model(),
		Tools:         outcomes,
		Edits:         sess.Journal(),
		Snapshot:      next.Snapshot,
		Index:         index,
		PromptTokens:  promptTokens,
		Duration:      a.now().Sub(started),
		ModelDuration: modelDuration,
	}
	for _, o := range a.observers {
		if err := o.ObserveStep(ctx, rec); err != nil {
			a.logger.Warn("Step observer failed: %v", err)
		}
	}
	return next, nil
}

// Run steps until the model replies without tool calls or, when maxRuntime
// is positive, until more than maxRuntime has elapsed. The limit is checked
// between steps, so a step in progress always completes. On error the
// result holds the last good state.
func (a *Agent) Run(ctx context.Context, state State, maxRuntime time.Duration) (RunResult, error) {
	start := a.now()
	res := RunResult{State: state}
	for {
		if err := ctx.Err(); err != nil {
			res.Elapsed = a.now().Sub(start)
			a.setPhase(PhaseIdle)
			return res, err
		}
		next, err := a.Step(ctx, res.State)
		res.Elapsed = a.now().Sub(start)
		if err != nil {
			return res, err
		}
		res.State = next
		res.Steps++

		if next.Done() {
			res.Reason = StopDone
			a.logger.Info("🏁 Run finished after %d steps in %s", res.Steps, res.Elapsed.Round(time.Millisecond))
			return res, nil
		}
		if maxRuntime > 0 && res.Elapsed > maxRuntime {
			res.Reason = StopTimeLimit
			a.setPhase(PhaseTimeLimitExceeded)
			a.logger.Warn("⏱️  Time limit %s exceeded after %d steps", maxRuntime, res.Steps)
			return res, nil
		}
	}
}
