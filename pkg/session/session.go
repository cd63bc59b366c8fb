// Package session owns the long-lived resources of an agent session: the
// execution context, the snapshot branch and the stored trace. It alternates
// agent runs with user input.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"programmer/pkg/agent"
	"programmer/pkg/buffer"
	"programmer/pkg/config"
	"programmer/pkg/exec"
	"programmer/pkg/llm"
	"programmer/pkg/logx"
	"programmer/pkg/metrics"
	"programmer/pkg/persistence"
	"programmer/pkg/snapshot"
)

// Options are the collaborators of a session. Only Config and Client are
// required.
type Options struct {
	Config   *config.Config
	Client   llm.Client
	Store    *persistence.Store
	Recorder *metrics.Recorder
	Counter  agent.TokenCounter
	// Output receives streamed assistant text. Nil discards it.
	Output io.Writer
	// Executor overrides the executor built from Config.Executor.
	Executor exec.Executor
}

// Session is a running agent session.
type Session struct {
	opts   Options
	ex     exec.Executor
	snaps  snapshot.Provider
	agent  *agent.Agent
	logger *logx.Logger
	id     string
	status string
	state  agent.State
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()[:8]
}

// Start opens a new session. The caller must Close it.
func Start(ctx context.Context, opts Options, task string) (*Session, error) {
	s, err := open(ctx, opts, NewID())
	if err != nil {
		return nil, err
	}
	if opts.Store != nil {
		cfgJSON, _ := json.Marshal(opts.Config)
		if err := opts.Store.CreateSession(ctx, &persistence.Session{
			SessionID:  s.id,
			Model:      opts.Client.Model(),
			WorkDir:    s.ex.ResolvePath("."),
			Task:       task,
			ConfigJSON: string(cfgJSON),
		}); err != nil {
			return nil, multierror.Append(err, s.release(ctx))
		}
	}
	s.state = agent.NewState()
	s.logger.Info("🚀 Started session %s with %s (%s executor)", s.id, opts.Client.Model(), s.ex.Name())
	return s, nil
}

// Resume reopens a stored session with its latest state.
func Resume(ctx context.Context, opts Options, sessionID string) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("resuming requires persistence")
	}
	stored, err := opts.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !stored.Resumable() {
		return nil, fmt.Errorf("session %s is still active", sessionID)
	}
	state, err := opts.Store.LoadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s, err := open(ctx, opts, sessionID)
	if err != nil {
		return nil, err
	}
	if err := opts.Store.UpdateSessionStatus(ctx, sessionID, persistence.SessionStatusActive); err != nil {
		return nil, multierror.Append(err, s.release(ctx))
	}
	s.state = state
	s.logger.Info("🔁 Resumed session %s at step %d", sessionID, state.StepCount())
	return s, nil
}

// With runs fn in a new session and closes it on every exit path.
func With(ctx context.Context, opts Options, task string, fn func(*Session) error) (err error) {
	s, err := Start(ctx, opts, task)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()
	return fn(s)
}

func open(ctx context.Context, opts Options, id string) (*Session, error) {
	if opts.Config == nil || opts.Client == nil {
		return nil, fmt.Errorf("session requires a config and a model client")
	}
	cfg := opts.Config
	logger := logx.NewLogger("session-" + id)

	ex := opts.Executor
	if ex == nil {
		var err error
		if ex, err = exec.New(ctx, &cfg.Executor); err != nil {
			return nil, fmt.Errorf("failed to create executor: %w", err)
		}
	}

	var snaps snapshot.Provider = snapshot.NoopProvider{}
	if ex.Name() == exec.ExecutorTypeLocal {
		snaps = snapshot.Detect(ctx, ex.ResolvePath("."), !cfg.Snapshot.Disabled,
			snapshot.WithBranchPrefix(cfg.Snapshot.BranchPrefix))
	}
	s := &Session{opts: opts, ex: ex, snaps: snaps, logger: logger, id: id, status: persistence.SessionStatusActive}
	if err := snaps.StartSession(ctx, id); err != nil {
		return nil, multierror.Append(fmt.Errorf("failed to start snapshots: %w", err), s.release(ctx))
	}

	prompt, err := systemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, multierror.Append(err, s.release(ctx))
	}
	agentOpts := []agent.Option{
		agent.WithSessionID(id),
		agent.WithSnapshots(snaps),
		agent.WithEditor(buffer.NewEditor(cfg.Buffer.MaxOpenSize, cfg.Buffer.OpenChunkSize)),
		agent.WithTemperature(cfg.Model.Temperature),
		agent.WithMaxTokens(cfg.Model.MaxTokens),
		agent.WithSystemPrompt(prompt),
	}
	if opts.Store != nil {
		agentOpts = append(agentOpts, agent.WithObserver(opts.Store))
	}
	if opts.Recorder != nil {
		agentOpts = append(agentOpts, agent.WithObserver(opts.Recorder))
	}
	if opts.Counter != nil {
		agentOpts = append(agentOpts, agent.WithTokenCounter(opts.Counter))
	}
	if opts.Output != nil {
		out := opts.Output
		agentOpts = append(agentOpts, agent.WithOnDelta(func(d string) { _, _ = io.WriteString(out, d) }))
	}
	s.agent = agent.New(opts.Client, ex, agentOpts...)
	return s, nil
}

func systemPrompt(path string) (string, error) {
	if path == "" {
		return agent.DefaultSystemPrompt, nil
	}
	extra, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt file: %w", err)
	}
	return agent.SystemPrompt(agent.DefaultSystemPrompt, string(extra)), nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the latest agent state.
func (s *Session) State() agent.State { return s.state }

// Status returns the session status as stored.
func (s *Session) Status() string { return s.status }

// Executor returns the session's execution context.
func (s *Session) Executor() exec.Executor { return s.ex }

// Run adds message as a user turn and runs the agent until it stops. The
// session keeps the last good state when the run fails.
func (s *Session) Run(ctx context.Context, message string) (agent.RunResult, error) {
	state := s.state
	if strings.TrimSpace(message) != "" {
		state = state.Append(llm.NewUserMessage(message))
	}
	if state.History.Len() == 0 {
		return agent.RunResult{State: state}, fmt.Errorf("nothing to run: the session has no messages")
	}
	if state.Done() {
		return agent.RunResult{State: state, Reason: agent.StopDone}, nil
	}

	if s.opts.Recorder != nil {
		s.opts.Recorder.RunStarted()
	}
	res, err := s.agent.Run(ctx, state, s.opts.Config.Agent.MaxRuntime())
	if s.opts.Recorder != nil {
		s.opts.Recorder.RunFinished(s.opts.Client.Model(), res.Reason, err)
	}
	s.state = res.State
	s.setStatus(ctx, statusFor(res, err))
	if err != nil {
		return res, err
	}
	s.logger.Info("Run ended (%s) after %d steps", res.Reason, res.Steps)
	return res, nil
}

func statusFor(res agent.RunResult, err error) string {
	switch {
	case err == nil && res.Reason == agent.StopTimeLimit:
		return persistence.SessionStatusTimeLimit
	case err == nil:
		return persistence.SessionStatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return persistence.SessionStatusInterrupted
	default:
		return persistence.SessionStatusFailed
	}
}

func (s *Session) setStatus(ctx context.Context, status string) {
	s.status = status
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.SaveState(context.WithoutCancel(ctx), s.id, s.state); err != nil {
		s.logger.Warn("Failed to save state: %v", err)
	}
	if err := s.opts.Store.UpdateSessionStatus(context.WithoutCancel(ctx), s.id, status); err != nil {
		s.logger.Warn("Failed to update session status: %v", err)
	}
}

// Input supplies the next user message. It returns io.EOF when the user is
// done.
type Input func(ctx context.Context) (string, error)

// Loop runs first, then keeps asking in for the next message and running it
// until in returns io.EOF or an empty message. Each run that ends by time
// limit also hands control back to the user.
func (s *Session) Loop(ctx context.Context, first string, in Input) error {
	message := first
	for {
		if _, err := s.Run(ctx, message); err != nil {
			return err
		}
		if in == nil {
			return nil
		}
		next, err := in(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(next) == "" {
			return nil
		}
		message = next
	}
}

// Close releases the snapshot provider and executor and finalizes the
// stored status. All failures are reported together.
func (s *Session) Close(ctx context.Context) error {
	if s.status == persistence.SessionStatusActive {
		s.setStatus(ctx, persistence.SessionStatusInterrupted)
	}
	err := s.release(ctx)
	if err != nil {
		s.logger.Error("Session %s closed with errors: %v", s.id, err)
	} else {
		s.logger.Info("Session %s closed (%s)", s.id, s.status)
	}
	return err
}

func (s *Session) release(ctx context.Context) error {
	var result *multierror.Error
	if s.snaps != nil {
		if err := s.snaps.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close snapshots: %w", err))
		}
	}
	if s.ex != nil && s.opts.Executor == nil {
		if err := s.ex.Close(context.WithoutCancel(ctx)); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to release %s executor: %w", s.ex.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
