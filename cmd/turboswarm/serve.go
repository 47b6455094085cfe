package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/turboswarm/internal/server"
)

var (
	serveAddr   string
	serveDryRun bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API over HTTP",
	Long: `Start the HTTP API. Sessions are created with POST /api/sessions, their
events stream over a websocket at /api/sessions/:id/events and Prometheus
metrics are exposed at /metrics.

On shutdown every live session is destroyed, which checkpoints it to the
configured store.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Use the simulated backend for every agent")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cfg, serveDryRun)
	if err != nil {
		return err
	}
	defer env.close(context.Background())
	for _, w := range env.warnings {
		printStatus("⚠", w, color.FgYellow)
	}
	log.Printf("[turboswarm] store=%s bus=%s", cfg.Store.Driver, cfg.Bus.Driver)

	return server.New(env.manager).Run(ctx, addr)
}
