package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"programmer/pkg/agent"
	"programmer/pkg/config"
	"programmer/pkg/git"
	"programmer/pkg/session"
)

// BatchTask is one independent task of a batch file.
type BatchTask struct {
	Name    string `yaml:"name"`
	Prompt  string `yaml:"prompt"`
	WorkDir string `yaml:"workdir,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// BatchFile is the YAML document read by the batch command.
type BatchFile struct {
	Tasks       []BatchTask `yaml:"tasks"`
	Concurrency int         `yaml:"concurrency,omitempty"`
}

// BatchResult is the outcome of one task.
type BatchResult struct {
	Err       error
	Task      string
	SessionID string
	Reason    agent.StopReason
	Steps     int
}

func loadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var f BatchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("batch file %s has no tasks", path)
	}
	seen := make(map[string]bool, len(f.Tasks))
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("task-%d", i+1)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = true
		if t.Prompt == "" {
			return nil, fmt.Errorf("task %q has no prompt", t.Name)
		}
	}
	return &f, nil
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch TASKS.yaml",
		Short: "Run independent tasks concurrently",
		Long: `Run every task of a YAML file in its own session. Each task may set its
own working directory and model:

  concurrency: 2
  tasks:
    - name: fix-lint
      prompt: Fix the lint errors reported by make lint.
      workdir: ./service-a
    - name: docs
      prompt: Document the public functions of pkg/api.
      model: claude-sonnet-4-20250514`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	file, err := loadBatchFile(args[0])
	if err != nil {
		return err
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.startMetrics(ctx); err != nil {
		return err
	}

	limit := a.cfg.Batch.Concurrency
	if file.Concurrency > 0 {
		limit = file.Concurrency
	}
	results := a.runBatch(ctx, file.Tasks, limit)

	var failed *multierror.Error
	for _, r := range results {
		if r.Err != nil {
			failed = multierror.Append(failed, fmt.Errorf("%s: %w", r.Task, r.Err))
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s (session %s): %v\n", r.Task, r.SessionID, r.Err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (session %s): %s after %d steps\n", r.Task, r.SessionID, r.Reason, r.Steps)
	}
	return failed.ErrorOrNil()
}

// runBatch runs tasks with at most limit sessions at a time. Tasks that
// share a local working directory or git work tree run one after another
// in the same lane. A failing task does not stop the others.
func (a *app) runBatch(ctx context.Context, tasks []BatchTask, limit int) []BatchResult {
	results := make([]BatchResult, len(tasks))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(limit)
	for _, lane := range a.lanes(ctx, tasks) {
		if len(lane) > 1 {
			names := make([]string, len(lane))
			for i, idx := range lane {
				names[i] = tasks[idx].Name
			}
			a.logger.Info("Tasks %v share a workspace and run one after another", names)
		}
		g.Go(func() error {
			for _, idx := range lane {
				res := a.runTask(ctx, tasks[idx])
				mu.Lock()
				results[idx] = res
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// lanes groups task indexes so that no two groups touch the same local
// directory or git work tree. Remote tasks each own a sandbox and get a
// lane of their own.
func (a *app) lanes(ctx context.Context, tasks []BatchTask) [][]int {
	parent := make([]int, len(tasks))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	runner := git.NewDefaultRunner()
	owner := make(map[string]int)
	for i := range tasks {
		for _, key := range workspaceKeys(ctx, runner, taskConfig(a.cfg, tasks[i])) {
			if j, ok := owner[key]; ok {
				parent[find(i)] = find(j)
				continue
			}
			owner[key] = i
		}
	}

	var out [][]int
	laneOf := make(map[int]int)
	for i := range tasks {
		root := find(i)
		if l, ok := laneOf[root]; ok {
			out[l] = append(out[l], i)
			continue
		}
		laneOf[root] = len(out)
		out = append(out, []int{i})
	}
	return out
}

// workspaceKeys names what a local task writes to: its absolute working
// directory and, inside a repository, the work tree root that snapshots
// commit.
func workspaceKeys(ctx context.Context, runner git.Runner, cfg *config.Config) []string {
	if cfg.Executor.Type == config.ExecutorRemote {
		return nil
	}
	dir := cfg.Executor.WorkDir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	keys := []string{"dir:" + abs}
	if root, ok := git.IsRepo(ctx, runner, abs); ok {
		keys = append(keys, "repo:"+filepath.Clean(root))
	}
	return keys
}

func (a *app) runTask(ctx context.Context, task BatchTask) BatchResult {
	res := BatchResult{Task: task.Name}
	cfg := taskConfig(a.cfg, task)
	if err := cfg.Validate(); err != nil {
		res.Err = err
		return res
	}
	opts, err := a.sessionOptions(cfg, io.Discard)
	if err != nil {
		res.Err = err
		return res
	}
	a.logger.Info("▶️  Starting task %s", task.Name)
	res.Err = session.With(ctx, opts, task.Prompt, func(s *session.Session) error {
		res.SessionID = s.ID()
		run, err := s.Run(ctx, task.Prompt)
		res.Reason = run.Reason
		res.Steps = run.Steps
		return err
	})
	return res
}

// taskConfig copies base with the task's overrides applied.
func taskConfig(base *config.Config, task BatchTask) *config.Config {
	cfg := *base
	cfg.Debug.Domains = append([]string(nil), base.Debug.Domains...)
	if task.WorkDir != "" {
		cfg.Executor.WorkDir = task.WorkDir
	}
	if task.Model != "" {
		cfg.Model.Name = task.Model
		cfg.Model.Provider = ""
	}
	return &cfg
}
