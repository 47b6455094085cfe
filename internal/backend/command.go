package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/turboswarm/internal/exec"
)

// CommandConfig configures an external automation command, typically a
// browser driver. The command receives the task ID and prompt as its last
// two arguments and prints its result on stdout. Exit code 75 marks a
// temporary failure.
type CommandConfig struct {
	Command string
	Args    []string
	WorkDir string
}

// Command executes requests by running an external program.
type Command struct {
	cfg    CommandConfig
	runner exec.CommandRunner
}

// NewCommand creates a command backend. A nil runner uses the os/exec runner.
func NewCommand(cfg CommandConfig, runner exec.CommandRunner) (*Command, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: no automation command configured", ErrBackendUnavailable)
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &Command{cfg: cfg, runner: runner}, nil
}

// Name implements Backend.
func (c *Command) Name() string {
	return "command:" + c.cfg.Command
}

// Execute implements Backend.
func (c *Command) Execute(ctx context.Context, req *Request) (*Response, error) {
	args := append([]string(nil), c.cfg.Args...)
	taskID := ""
	if req.Task != nil {
		taskID = req.Task.ID
	}
	args = append(args, taskID, req.Prompt)

	out, err := c.runner.Run(ctx, c.cfg.WorkDir, c.cfg.Command, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.cfg.Command, err, strings.TrimSpace(string(out)))
	}
	return &Response{Text: strings.TrimSpace(string(out))}, nil
}
