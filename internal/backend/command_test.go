package backend

import (
	"context"
	"errors"
	osexec "os/exec"
	"testing"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

type fakeRunner struct {
	name string
	args []string
	out  []byte
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	return f.out, f.err
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return f.Run(ctx, workDir, "sh", "-c", command)
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func TestNewCommandRequiresCommand(t *testing.T) {
	if _, err := NewCommand(CommandConfig{}, &fakeRunner{}); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestCommandExecute(t *testing.T) {
	runner := &fakeRunner{out: []byte("  clicked checkout\n")}
	c, err := NewCommand(CommandConfig{Command: "browse", Args: []string{"--headless"}}, runner)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Execute(context.Background(), &Request{
		Role:   models.RoleBrowser,
		Task:   &models.Task{ID: "t9"},
		Prompt: "open the checkout page",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "clicked checkout" {
		t.Errorf("Text = %q", resp.Text)
	}
	if runner.name != "browse" || len(runner.args) != 3 || runner.args[1] != "t9" || runner.args[2] != "open the checkout page" {
		t.Errorf("unexpected invocation: %s %v", runner.name, runner.args)
	}
}

func TestCommandExitCodes(t *testing.T) {
	// A real process is the only way to get an *exec.ExitError.
	tempFail := osexec.Command("sh", "-c", "exit 75").Run()
	hardFail := osexec.Command("sh", "-c", "exit 2").Run()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"temporary failure", tempFail, Transient},
		{"hard failure", hardFail, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewCommand(CommandConfig{Command: "browse"}, &fakeRunner{err: tt.err, out: []byte("boom")})
			_, err := c.Execute(context.Background(), &Request{Task: &models.Task{ID: "t"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}
