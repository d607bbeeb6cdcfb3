package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/loadtest"
	"github.com/kpfarm/farmbook/internal/localstore/sqlite"
	"github.com/kpfarm/farmbook/internal/syncer"
	"github.com/kpfarm/farmbook/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Measure write and read latency against a scratch farm book",
	Long: `Run concurrent writers and readers against a throwaway SQLite farm book.

Each writer dispatches generated transactions and tasks through the same
orchestrator the other commands use, while readers recompute enterprise
totals. When the writers finish, the command waits for every queued write to
reach the store and checks that each record is present exactly once.

Your own farm book is never touched.

Examples:
  # Default run (8 writers x 100 records, 4 readers)
  farmbook loadtest

  # Heavier run, machine readable
  farmbook loadtest --writers 32 --ops 250 --json
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loadtest.DefaultOptions()
		opts.Writers, _ = cmd.Flags().GetInt("writers")
		opts.OpsPerWriter, _ = cmd.Flags().GetInt("ops")
		opts.Readers, _ = cmd.Flags().GetInt("readers")
		opts.Seed, _ = cmd.Flags().GetInt64("seed")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if opts.Writers <= 0 || opts.OpsPerWriter <= 0 {
			return fmt.Errorf("--writers and --ops must be positive")
		}
		if opts.Readers < 0 {
			return fmt.Errorf("--readers must not be negative")
		}

		dir, err := os.MkdirTemp("", "farmbook-loadtest-")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)

		store, err := sqlite.Open(filepath.Join(dir, "loadtest.db"), cfg.Slot)
		if err != nil {
			return err
		}
		defer store.Close()

		orch, err := syncer.NewWithConfig(store, nil, &syncer.Config{
			Logger:   logOut.Logger("loadtest"),
			Notifier: syncer.NotifierFunc(printNotice),
		})
		if err != nil {
			return err
		}
		defer orch.Close()
		if err := orch.Start(cmd.Context()); err != nil {
			return err
		}

		if !jsonOutput {
			fmt.Printf("%s Running %d writers x %d records with %d readers...\n\n",
				ui.RenderAccent("⏱"), opts.Writers, opts.OpsPerWriter, opts.Readers)
		}
		res, err := loadtest.Run(cmd.Context(), orch, opts)
		if err != nil {
			return fmt.Errorf("load test failed: %w", err)
		}
		saved, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}
		if mem := orch.State(); len(saved.Transactions) != len(mem.Transactions) || len(saved.Tasks) != len(mem.Tasks) {
			return fmt.Errorf("store holds %d transactions and %d tasks, memory holds %d and %d",
				len(saved.Transactions), len(saved.Tasks), len(mem.Transactions), len(mem.Tasks))
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		res.Fprint(os.Stdout)
		fmt.Printf("\n%s Every record reached the store exactly once\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	def := loadtest.DefaultOptions()
	loadtestCmd.Flags().Int("writers", def.Writers, "number of concurrent writers")
	loadtestCmd.Flags().Int("ops", def.OpsPerWriter, "records dispatched per writer")
	loadtestCmd.Flags().Int("readers", def.Readers, "number of concurrent readers")
	loadtestCmd.Flags().Int64("seed", def.Seed, "seed for generated records")
	loadtestCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(loadtestCmd)
}
