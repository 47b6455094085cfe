package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Restore a checkpointed session and run it to completion",
	Long: `Load a session from the store, respawn its agents and continue its task
graph. Tasks that were in flight when the session was checkpointed run
again. A paused session is resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&runTUI, "tui", false, "Watch the session in the terminal UI")
	resumeCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Use the simulated backend for every agent")
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runTUI {
		originalOutput := log.Writer()
		log.SetOutput(io.Discard)
		defer log.SetOutput(originalOutput)
	}

	env, err := newEnvironment(ctx, cfg, runDryRun)
	if err != nil {
		return err
	}
	defer env.close(context.Background())
	if env.store == nil {
		return fmt.Errorf("resume needs a session store; store.driver is %q", cfg.Store.Driver)
	}

	if err := env.manager.RestoreSession(ctx, id); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	report, err := env.manager.GetStatus(id)
	if err != nil {
		return err
	}
	if report.Status.Terminal() {
		printSummary(report)
		return nil
	}
	if report.Status == models.SessionPaused {
		if err := env.manager.ResumeSession(ctx, id); err != nil {
			return err
		}
	}
	if !runTUI {
		remaining := report.TasksTotal - report.Metrics.TasksCompleted - report.Metrics.TasksFailed
		printStatus("✓", fmt.Sprintf("Session %s restored: %d agents, %d tasks remaining", id, report.AgentCount, remaining), color.FgGreen)
	}
	return watch(ctx, env, id, cfg.TUI.RefreshRate)
}
