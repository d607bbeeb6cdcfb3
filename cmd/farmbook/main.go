// Command farmbook keeps the income, expense and task records of a livestock
// farm, locally or synced to a cloud store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/config"
	"github.com/kpfarm/farmbook/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logOut *logging.Output
)

var rootCmd = &cobra.Command{
	Use:   "farmbook",
	Short: "Farm finance and task records for dairy and poultry enterprises",
	Long: `farmbook records income, expenses and farm tasks for dairy and poultry
enterprises.

Records are stored in a local SQLite database. After 'farmbook login' they are
stored in the configured cloud store instead, and anything recorded while
logged out is merged into the cloud on the next login.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logOut = logging.Setup(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Quiet:      !verbose && !cfg.Log.Verbose,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/farmbook/farmbook.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log sync activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
