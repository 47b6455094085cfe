package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner("TURBOSWARM_TEST_VALUE=hello")
	out, err := r.RunShell(context.Background(), t.TempDir(), "echo $TURBOSWARM_TEST_VALUE; pwd")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 || lines[0] != "hello" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRunCancelled(t *testing.T) {
	r := NewRunner()
	r.GracePeriod = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := r.Run(ctx, "", "sleep", "10"); err == nil {
		t.Fatal("expected cancelled command to fail")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not stop the command promptly")
	}
}

func TestLookPath(t *testing.T) {
	r := NewRunner()
	if _, err := r.LookPath("sh"); err != nil {
		t.Errorf("sh should be on PATH: %v", err)
	}
	if _, err := r.LookPath("definitely-not-a-turboswarm-binary"); err == nil {
		t.Error("expected error for missing binary")
	}
}
