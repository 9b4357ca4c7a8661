package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mina-studio/internal/infra/api"
	"mina-studio/internal/infra/sched"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP bridge",
	Long: `Runs the local bridge so that UIs share one action guard, one credits
cache and one upload pipeline. Progress is available as an event stream
when the client asks for text/event-stream.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveAddr != "" {
		a.cfg.Server.Addr = serveAddr
	}

	// ---- Credits refresher ----
	refresher := sched.NewCreditsRefresher(a.ledger, a.cfg.Credits.RefreshInterval, a.log)
	go refresher.Start(ctx)

	srv := api.NewServer(a.facade, a.cfg.Server, a.cfg.Uploads.MaxBytes, a.log)
	err = srv.ListenAndServe(ctx)
	a.log.Info().Msg("shutdown complete")
	return err
}
