package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
	"github.com/ShayCichocki/turboswarm/internal/tui"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

var (
	runTUI     bool
	runDryRun  bool
	runUserID  string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <job.yaml>",
	Short: "Run a job file to completion",
	Long: `Create a session from a job file, submit its tasks and watch it until every
task has settled.

A job file holds the project spec, optional seed values for the shared
state space, and the task graph:

  user_id: alice
  spec:
    name: landing-page
    replication_count: 1
    parallelization: batch10
    estimated_complexity: medium
    cost_budget: 5
  state:
    input/brief: "A landing page for a coffee shop"
  tasks:
    - id: plan
      role: planner
      title: Outline the page
    - id: build
      role: coder
      depends_on: [plan]
      inputs: [input/brief]

With --dry-run every agent uses the simulated backend and no API keys are
needed. Interrupting a run checkpoints the session so it can be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Watch the session in the terminal UI")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Use the simulated backend for every agent")
	runCmd.Flags().StringVar(&runUserID, "user", "", "User ID (overrides the job file)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
}

// jobFile is the YAML document accepted by run.
type jobFile struct {
	UserID string             `yaml:"user_id"`
	Spec   models.ProjectSpec `yaml:"spec"`
	State  map[string]string  `yaml:"state"`
	Tasks  []*models.Task     `yaml:"tasks"`
}

// loadJobFile reads and decodes a job file, rejecting unknown fields.
func loadJobFile(path string) (*jobFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()
	return decodeJob(f)
}

func decodeJob(r io.Reader) (*jobFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var job jobFile
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if len(job.Tasks) == 0 {
		return nil, errors.New("job file has no tasks")
	}
	if job.UserID == "" {
		job.UserID = os.Getenv("USER")
	}
	if job.UserID == "" {
		job.UserID = "local"
	}
	return &job, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	job, err := loadJobFile(args[0])
	if err != nil {
		return err
	}
	if runUserID != "" {
		job.UserID = runUserID
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	if runTUI {
		// Log output corrupts the alt screen.
		originalOutput := log.Writer()
		log.SetOutput(io.Discard)
		defer log.SetOutput(originalOutput)
	}

	env, err := newEnvironment(ctx, cfg, runDryRun)
	if err != nil {
		return err
	}
	defer env.close(context.Background())
	for _, w := range env.warnings {
		printStatus("⚠", w, color.FgYellow)
	}

	id, err := submitJob(ctx, env.manager, job)
	if err != nil {
		return err
	}
	if !runTUI {
		report, err := env.manager.GetStatus(id)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Session %s: %d agents, %d tasks", id, report.AgentCount, report.TasksTotal), color.FgGreen)
	}

	return watch(ctx, env, id, cfg.TUI.RefreshRate)
}

// submitJob creates the session, seeds its state and enqueues the task
// graph. A rejected graph destroys the session.
func submitJob(ctx context.Context, m *orchestrator.SessionManager, job *jobFile) (string, error) {
	id, err := m.CreateSession(ctx, job.UserID, job.Spec)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	for key, value := range job.State {
		if _, err := m.SetState(id, "", key, value); err != nil {
			_, _ = m.DestroySession(ctx, id)
			return "", fmt.Errorf("seed state %s: %w", key, err)
		}
	}
	if _, err := m.AddTasks(id, job.Tasks...); err != nil {
		_, _ = m.DestroySession(ctx, id)
		return "", fmt.Errorf("submit tasks: %w", err)
	}
	return id, nil
}

// watch follows a session until it settles, the user detaches or ctx ends,
// then prints the summary. A session that did not settle is checkpointed
// when the environment closes.
func watch(ctx context.Context, env *environment, id string, refresh time.Duration) error {
	var report *models.StatusReport
	var err error
	if runTUI {
		if report, err = tui.Watch(ctx, env.manager, id, refresh); err != nil {
			return err
		}
		if report == nil || !report.Status.Terminal() {
			report, err = env.manager.GetStatus(id)
		}
	} else {
		report, err = followEvents(ctx, env.manager, id)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if report == nil {
		if report, err = env.manager.GetStatus(id); err != nil {
			return err
		}
	}

	printSummary(report)
	in, out, calls := env.tokenUsage()
	if calls > 0 {
		fmt.Printf("  Tokens: %d in / %d out over %d calls\n", in, out, calls)
	}

	switch report.Status {
	case models.SessionCompleted:
		return nil
	case models.SessionFailed:
		return fmt.Errorf("session %s failed", id)
	default:
		if env.store != nil {
			printStatus("⚠", fmt.Sprintf("Session interrupted; resume with: turboswarm resume %s", id), color.FgYellow)
		} else {
			printStatus("⚠", "Session interrupted", color.FgYellow)
		}
		return ctx.Err()
	}
}

// followEvents prints task outcomes as they happen and returns the final
// report once the session settles.
func followEvents(ctx context.Context, m *orchestrator.SessionManager, id string) (*models.StatusReport, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := m.Subscribe(subCtx, id)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range events {
			printEvent(ev)
		}
	}()
	return m.Wait(ctx, id)
}

func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventTaskCompleted:
		printStatus("✓", fmt.Sprintf("%s completed by %s ($%.2f)", ev.TaskID, ev.AgentID, ev.Cost), color.FgGreen)
	case orchestrator.EventTaskFailed:
		printStatus("✗", fmt.Sprintf("%s failed: %s", ev.TaskID, ev.Error), color.FgRed)
	case orchestrator.EventTaskRequeued:
		printStatus("↻", fmt.Sprintf("%s requeued: %s", ev.TaskID, ev.Error), color.FgYellow)
	case orchestrator.EventSessionStatus:
		printStatus("•", fmt.Sprintf("session %s", ev.Status), color.FgCyan)
	}
}

func printSummary(r *models.StatusReport) {
	fmt.Println()
	fmt.Printf("Session %s: %s\n", r.SessionID, statusColor(r.Status).Sprint(r.Status))
	m := r.Metrics
	fmt.Printf("  Tasks: %d completed, %d failed, %d requeued of %d\n", m.TasksCompleted, m.TasksFailed, m.TasksRequeued, r.TasksTotal)
	fmt.Printf("  Agents: %d spawned, %d live\n", m.AgentsSpawned, r.AgentCount)
	fmt.Printf("  Cost: $%.2f", m.TotalCost)
	if r.BudgetExhausted {
		fmt.Printf(" %s", color.RedString("(budget exhausted)"))
	}
	fmt.Println()
	fmt.Printf("  Elapsed: %s\n", formatDuration(time.Duration(m.ElapsedSeconds*float64(time.Second))))
}

func statusColor(s models.SessionStatus) *color.Color {
	switch s {
	case models.SessionCompleted:
		return color.New(color.FgGreen, color.Bold)
	case models.SessionFailed:
		return color.New(color.FgRed, color.Bold)
	case models.SessionPaused:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
