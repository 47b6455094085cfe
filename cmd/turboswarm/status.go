package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/turboswarm/internal/config"
	"github.com/ShayCichocki/turboswarm/internal/state"
)

var (
	statusLimit int
	statusPurge time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show checkpointed sessions",
	Long: `List the sessions in the configured store, newest first. With a session ID,
show that session's checkpoint in detail.

--purge removes checkpoints older than the given age from the SQLite store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Maximum sessions to list")
	statusCmd.Flags().DurationVar(&statusPurge, "purge", 0, "Delete checkpoints older than this age (sqlite only)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.StoreNone {
		fmt.Println("No session store configured (store.driver: none).")
		return nil
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if statusPurge > 0 {
		db, ok := store.(*state.DB)
		if !ok {
			return fmt.Errorf("--purge is only supported by the sqlite store")
		}
		n, err := db.PurgeOlderThan(ctx, statusPurge)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Printf("Purged %d sessions older than %s\n", n, statusPurge)
	}

	if len(args) == 1 {
		snap, err := store.Load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load %s: %w", args[0], err)
		}
		displaySnapshot(snap)
		return nil
	}

	sessions, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions. Run 'turboswarm run <job.yaml>' to start one.")
		return nil
	}

	fmt.Println("Sessions:")
	for i, s := range sessions {
		if statusLimit > 0 && i >= statusLimit {
			fmt.Printf("  ... %d more\n", len(sessions)-i)
			break
		}
		fmt.Printf("  %s  %-12s %-10s saved %s ago\n",
			s.SessionID, s.Status, s.UserID, formatDuration(time.Since(s.SavedAt)))
	}
	return nil
}

func displaySnapshot(s *state.Snapshot) {
	fmt.Printf("Session: %s\n", s.SessionID)
	fmt.Printf("  User: %s\n", s.UserID)
	fmt.Printf("  Status: %s\n", statusColor(s.Status).Sprint(s.Status))
	fmt.Printf("  Spec: %s (replication %d, %s, %s)\n",
		s.Spec.Name, s.Spec.ReplicationCount, s.Spec.Parallelization, s.Spec.Complexity)
	fmt.Printf("  Plan: %d planner, %d coders, %d testers, %d browser\n",
		s.Plan.Planners, s.Plan.Coders, s.Plan.Testers, s.Plan.Browsers)
	fmt.Printf("  Created: %s ago\n", formatDuration(time.Since(s.CreatedAt)))

	counts := make(map[string]int)
	for _, t := range s.Tasks {
		counts[string(t.Status)]++
	}
	fmt.Printf("  Tasks: %d (", len(s.Tasks))
	first := true
	for _, st := range []string{"pending", "ready", "assigned", "completed", "failed"} {
		if counts[st] == 0 {
			continue
		}
		if !first {
			fmt.Print(", ")
		}
		fmt.Printf("%d %s", counts[st], st)
		first = false
	}
	fmt.Println(")")
	fmt.Printf("  State keys: %d\n", len(s.State))
	fmt.Printf("  Cost: $%.2f\n", s.Metrics.TotalCost)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
