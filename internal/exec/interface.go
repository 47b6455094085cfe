// Package exec runs external automation programs on behalf of agents.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// Backends depend on it so tests can substitute scripted output.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// LookPath resolves a program name against PATH.
	LookPath(name string) (string, error)
}
