package taskwarrior

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Runner executes the task binary with args, feeding it stdin.
type Runner func(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error)

// ExecRunner runs the real `task` binary with hooks disabled.
func ExecRunner(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	args = append([]string{"rc.hooks=0", "rc.confirmation=0"}, args...)
	cmd := exec.CommandContext(ctx, "task", args...)
	cmd.Stdin = stdin

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("taskwarrior command failed: exit code %d, %s, stderr: %s",
				exitErr.ExitCode(), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("taskwarrior command failed: %w", err)
	}
	return output, nil
}

type Client struct {
	run Runner
}

// NewClient returns a client using run, or ExecRunner when run is nil.
func NewClient(run Runner) *Client {
	if run == nil {
		run = ExecRunner
	}
	return &Client{run: run}
}

// Export returns the tasks matching filter together with their raw JSON,
// keyed by UUID, so unknown attributes survive a later Import.
func (c *Client) Export(ctx context.Context, filter ...string) ([]Task, map[string]map[string]any, error) {
	args := append(append([]string{}, filter...), "export")
	output, err := c.run(ctx, nil, args...)
	if err != nil {
		return nil, nil, err
	}

	var tasks []Task
	if err := json.Unmarshal(output, &tasks); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal taskwarrior output: %w", err)
	}
	var raws []map[string]any
	if err := json.Unmarshal(output, &raws); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal taskwarrior output: %w", err)
	}
	byUUID := make(map[string]map[string]any, len(raws))
	for _, r := range raws {
		if id, ok := r["uuid"].(string); ok {
			byUUID[id] = r
		}
	}
	return tasks, byUUID, nil
}

// Import creates or replaces tasks by UUID.
func (c *Client) Import(ctx context.Context, tasks ...map[string]any) error {
	payload, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to encode tasks for import: %w", err)
	}
	_, err = c.run(ctx, bytes.NewReader(payload), "import")
	return err
}
