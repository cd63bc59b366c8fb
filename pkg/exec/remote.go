package exec

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"programmer/pkg/logx"
)

const bodyStubLimit = 512

// RemoteExec drives a sandbox container through the container server's
// HTTP API. Paths are resolved against the container working directory.
type RemoteExec struct {
	client      *http.Client
	logger      *logx.Logger
	baseURL     string
	workDir     string
	containerID string
	mu          sync.Mutex
}

// RemoteOption customizes a RemoteExec.
type RemoteOption func(*RemoteExec)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *RemoteExec) { r.client = client }
}

// WithTimeout bounds each request to the container server.
func WithTimeout(timeout time.Duration) RemoteOption {
	return func(r *RemoteExec) {
		if timeout > 0 {
			r.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithContainerID attaches to an already running container instead of starting one.
func WithContainerID(id string) RemoteOption {
	return func(r *RemoteExec) { r.containerID = id }
}

// NewRemoteExec creates an executor for the container server at baseURL.
func NewRemoteExec(baseURL, workDir string, opts ...RemoteOption) *RemoteExec {
	if workDir == "" {
		workDir = "/"
	}
	r := &RemoteExec{
		client:  &http.Client{Timeout: 2 * time.Minute},
		logger:  logx.NewLogger("remote-exec"),
		baseURL: strings.TrimRight(baseURL, "/"),
		workDir: workDir,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StatusError is returned for non-2xx responses from the container server.
type StatusError struct {
	Endpoint   string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("container server %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

type startRequest struct {
	ImageID string `json:"image_id"`
}

type startResponse struct {
	ContainerID string `json:"container_id"`
}

type stopRequest struct {
	ContainerID string `json:"container_id"`
	Delete      bool   `json:"delete"`
}

type runRequest struct {
	ContainerID string `json:"container_id"`
	WorkDir     string `json:"workdir"`
	Command     string `json:"command"`
}

type runResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

type writeFileRequest struct {
	ContainerID string `json:"container_id"`
	FilePath    string `json:"file_path"`
	FileContent string `json:"file_content"`
}

type readFileRequest struct {
	ContainerID string `json:"container_id"`
	FilePath    string `json:"file_path"`
}

type readFileResponse struct {
	FileContent string `json:"file_content"`
}

// Start launches a container from imageID.
func (r *RemoteExec) Start(ctx context.Context, imageID string) error {
	var resp startResponse
	if err := r.post(ctx, "/container/start", startRequest{ImageID: imageID}, &resp); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	if resp.ContainerID == "" {
		return fmt.Errorf("failed to start container: server returned no container_id")
	}
	r.mu.Lock()
	r.containerID = resp.ContainerID
	r.mu.Unlock()
	r.logger.Info("Started container %s from %s", resp.ContainerID, imageID)
	return nil
}

// ContainerID returns the attached container, or "" before Start.
func (r *RemoteExec) ContainerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containerID
}

// Name returns the executor type name.
func (r *RemoteExec) Name() ExecutorType {
	return ExecutorTypeRemote
}

// ResolvePath joins relative paths onto the container working directory.
func (r *RemoteExec) ResolvePath(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(r.workDir, p)
}

// ReadFile reads a file from the container.
func (r *RemoteExec) ReadFile(ctx context.Context, p string) (string, error) {
	id, err := r.requireContainer()
	if err != nil {
		return "", err
	}
	var resp readFileResponse
	err = r.post(ctx, "/container/read_file", readFileRequest{ContainerID: id, FilePath: r.ResolvePath(p)}, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%s: %w", p, ErrFileNotFound)
		}
		return "", fmt.Errorf("failed to read file %s: %w", p, err)
	}
	return resp.FileContent, nil
}

// ReadBinary fetches raw bytes by base64-encoding them inside the container,
// since read_file only carries text.
func (r *RemoteExec) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	res, err := r.RunCommand(ctx, "base64 -w0 "+shellQuote(r.ResolvePath(p)))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s: %w", p, ErrFileNotFound)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(res.Output))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return data, nil
}

// WriteFile writes a file inside the container.
func (r *RemoteExec) WriteFile(ctx context.Context, p, content string) error {
	id, err := r.requireContainer()
	if err != nil {
		return err
	}
	req := writeFileRequest{ContainerID: id, FilePath: r.ResolvePath(p), FileContent: content}
	if err := r.post(ctx, "/container/write_file", req, nil); err != nil {
		return fmt.Errorf("failed to write file %s: %w", p, err)
	}
	return nil
}

// ListDir lists a directory inside the container.
func (r *RemoteExec) ListDir(ctx context.Context, p string) ([]string, error) {
	res, err := r.RunCommand(ctx, "ls -1Ap "+shellQuote(r.ResolvePath(p)))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s: %w", p, ErrFileNotFound)
	}
	var names []string
	for _, line := range strings.Split(res.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RunCommand runs command through bash in the container. The server merges
// stdout and stderr, so only Output is set.
func (r *RemoteExec) RunCommand(ctx context.Context, command string) (Result, error) {
	id, err := r.requireContainer()
	if err != nil {
		return Result{}, err
	}
	startTime := time.Now()
	req := runRequest{ContainerID: id, WorkDir: r.workDir, Command: "bash -c " + shellQuote(command)}
	var resp runResponse
	if err := r.post(ctx, "/container/run", req, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to run command: %w", err)
	}
	return Result{
		Output:       resp.Output,
		ExitCode:     resp.ExitCode,
		Merged:       true,
		Duration:     time.Since(startTime),
		ExecutorUsed: string(r.Name()),
	}, nil
}

// Close stops and deletes the container. Closing twice is harmless.
func (r *RemoteExec) Close(ctx context.Context) error {
	r.mu.Lock()
	id := r.containerID
	r.containerID = ""
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := r.post(ctx, "/container/stop", stopRequest{ContainerID: id, Delete: true}, nil); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	r.logger.Info("Stopped container %s", id)
	return nil
}

func (r *RemoteExec) requireContainer() (string, error) {
	id := r.ContainerID()
	if id == "" {
		return "", fmt.Errorf("remote executor has no running container")
	}
	return id, nil
}

func (r *RemoteExec) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logx.Debug(ctx, "exec", "POST %s", endpoint)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		stub := string(data)
		if len(stub) > bodyStubLimit {
			stub = stub[:bodyStubLimit] + "..."
		}
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: stub}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
