package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/turboswarm/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "turboswarm",
	Short: "Agent swarm orchestration engine",
	Long: `Turbo Swarm sizes, spawns and coordinates swarms of AI agents.

A session is created from a project spec. The spec's replication count,
parallelization mode and complexity decide how many planner, coder, tester
and browser agents are spawned. Tasks submitted to the session form a
dependency graph; agents pull ready tasks, execute them against their model
backend and share results through the session's state space.

Commands:
  run      execute a job file and watch it to completion
  serve    expose the session manager over HTTP
  resume   restore a checkpointed session and run it to completion
  status   list checkpointed sessions`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .turboswarm.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads --config when given, else the merged user and project
// configuration.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
