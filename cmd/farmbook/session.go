package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/config"
	"github.com/kpfarm/farmbook/internal/identity"
	"github.com/kpfarm/farmbook/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login <user-id>",
	GroupID: "sync",
	Short:   "Store records in the cloud for a user",
	Long: `Log in as a user of the configured cloud store.

Records made while logged out are merged into the user's cloud records once,
and from then on every change is written to the cloud. A running
'farmbook serve' follows the login.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Remote.Driver == config.DriverNone || cfg.Remote.Driver == "" {
			return fmt.Errorf("no cloud store configured (set remote.driver to redis or postgres)")
		}
		uid := strings.TrimSpace(args[0])
		if uid == "" {
			return fmt.Errorf("user id must not be empty")
		}
		if err := identity.WriteSession(cfg.SessionPath(), uid); err != nil {
			return err
		}

		err := withApp(cmd.Context(), func(a *app) error {
			s := a.orch.State()
			fmt.Printf("%s Logged in as %s (%d transactions, %d tasks in the cloud)\n",
				ui.RenderPass("✓"), uid, len(s.Transactions), len(s.Tasks))
			return nil
		})
		if err != nil {
			_ = identity.RemoveSession(cfg.SessionPath())
			return fmt.Errorf("login failed: %w", err)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Go back to local storage",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := identity.ReadSession(cfg.SessionPath())
		if err != nil {
			return err
		}
		if uid == "" {
			fmt.Println(ui.RenderMuted("Not logged in"))
			return nil
		}
		if err := identity.RemoveSession(cfg.SessionPath()); err != nil {
			return err
		}
		fmt.Printf("%s Logged out %s; new records stay on this device\n", ui.RenderPass("✓"), uid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show storage and sync status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			s := a.orch.State()

			user := ui.RenderMuted("not logged in")
			if uid := a.orch.UID(); uid != "" {
				user = ui.RenderAccent(uid)
			}
			saved := ui.RenderMuted("never")
			if t, err := a.local.UpdatedAt(ctx); err == nil && !t.IsZero() {
				saved = t.Local().Format("2006-01-02 15:04:05")
			}
			driver := cfg.Remote.Driver
			if driver == "" {
				driver = config.DriverNone
			}

			fmt.Println(ui.Panel("farmbook status",
				fmt.Sprintf("User:          %s", user),
				fmt.Sprintf("Storage:       %s", a.orch.Backend()),
				fmt.Sprintf("Cloud driver:  %s", driver),
				fmt.Sprintf("Local file:    %s", a.local.Path()),
				fmt.Sprintf("Local saved:   %s", saved),
				fmt.Sprintf("Transactions:  %d", len(s.Transactions)),
				fmt.Sprintf("Tasks:         %d", len(s.Tasks)),
			))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}
