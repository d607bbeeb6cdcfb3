package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/dashboard"
	"github.com/kpfarm/farmbook/internal/identity"
	"github.com/kpfarm/farmbook/internal/metrics"
	"github.com/kpfarm/farmbook/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Keep the farm book in sync and serve the live dashboard (foreground)",
	Long: `Run the sync loop in the foreground.

serve watches the session file written by 'farmbook login' and 'farmbook
logout', switching between local and cloud storage as it changes, and keeps
the in-memory farm book current with changes made on other devices.

A WebSocket dashboard is served alongside:
  ws://<addr>/ws      stats and notice messages
  http://<addr>/api/stats
  http://<addr>/metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Dashboard.Addr
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		reg := metrics.New()
		server := dashboard.NewServer(&dashboard.Config{
			Addr:    addr,
			Metrics: reg.Handler(),
			Logger:  logOut.Logger("dashboard"),
		})
		handler := dashboard.NewHandler(server, logOut.Logger("dashboard"))

		a, err := openApp(ctx, cfg, appOptions{notifier: handler, metrics: reg})
		if err != nil {
			return err
		}
		defer func() {
			if err := a.close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}()

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() { _ = server.Stop() }()
		handler.Attach(a.orch)

		fmt.Printf("%s farmbook is running\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Local file: %s\n", a.local.Path())
		fmt.Printf("   Session:    %s\n", cfg.SessionPath())
		fmt.Printf("   Dashboard:  http://%s\n", server.Addr())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if a.remote == nil {
			<-ctx.Done()
		} else {
			src := identity.NewFileSource(cfg.SessionPath(), logOut.Logger("identity"))
			if err := a.orch.Run(ctx, src); err != nil {
				return err
			}
		}

		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "dashboard listen address (default from config, 127.0.0.1:7420)")
	rootCmd.AddCommand(serveCmd)
}
