package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/backup"
	"github.com/kpfarm/farmbook/internal/state"
	"github.com/kpfarm/farmbook/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "maint",
	Short:   "Export and restore the whole farm book",
	Long: `Export and restore the whole farm book as a JSON file.

A restore replaces every transaction, task and setting with the backup's
contents. Backups can also be kept in S3 (see the backup section of the
config file).

Examples:
  farmbook backup export                 # farmbook-backup-YYYY-MM-DD.json
  farmbook backup export - > copy.json
  farmbook backup restore copy.json
  farmbook backup push
  farmbook backup pull                   # newest backup in the bucket`,
}

var backupExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write a backup file (\"-\" for stdout)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := backup.FileName(time.Now())
		if len(args) == 1 {
			path = args[0]
		}
		return withApp(cmd.Context(), func(a *app) error {
			data, err := backup.Export(a.orch.State())
			if err != nil {
				return err
			}
			if path == "-" {
				_, err := os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			fmt.Printf("%s Backup written to %s\n", ui.RenderPass("✓"), path)
			return nil
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the farm book with a backup file (\"-\" for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		return restore(cmd.Context(), data)
	},
}

var backupPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload a backup to S3",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sink, err := openSink(ctx)
		if err != nil {
			return err
		}
		name := backup.FileName(time.Now())
		return withApp(ctx, func(a *app) error {
			data, err := backup.Export(a.orch.State())
			if err != nil {
				return err
			}
			if err := sink.Push(ctx, name, data); err != nil {
				return err
			}
			fmt.Printf("%s Backup uploaded as s3://%s/%s%s\n", ui.RenderPass("✓"), cfg.Backup.Bucket, cfg.Backup.Prefix, name)
			return nil
		})
	},
}

var backupPullCmd = &cobra.Command{
	Use:   "pull [name]",
	Short: "Restore a backup from S3 (default: the newest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sink, err := openSink(ctx)
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		data, err := sink.Pull(ctx, name)
		if err != nil {
			return err
		}
		return restore(ctx, data)
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "maint",
	Short:   "Export reports",
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write the transactions of one enterprise as a CSV report",
	Long: `Write the transactions of one enterprise as a CSV report named
<type>-report.csv, or to the file given with --output ("-" for stdout).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		et, err := enterpriseFlag(cmd, true)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = backup.ReportName(et)
		}

		return withApp(cmd.Context(), func(a *app) error {
			txs := a.orch.TransactionsFor(et)
			if len(txs) == 0 {
				fmt.Println(ui.RenderMuted(fmt.Sprintf("No %s transactions to export", et)))
				return nil
			}

			var w io.Writer = os.Stdout
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create report: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := backup.WriteCSV(w, txs); err != nil {
				return err
			}
			if out != "-" {
				fmt.Printf("%s %d transactions written to %s\n", ui.RenderPass("✓"), len(txs), out)
			}
			return nil
		})
	},
}

// restore validates data and replaces the state with it. A corrupt backup
// leaves the farm book untouched.
func restore(ctx context.Context, data []byte) error {
	snap, err := backup.Restore(data)
	if err != nil {
		if errors.Is(err, backup.ErrCorruptBackup) {
			return fmt.Errorf("restore failed: %w", err)
		}
		return err
	}
	return withApp(ctx, func(a *app) error {
		a.orch.Dispatch(state.ReplaceState{Snapshot: snap})
		s := a.orch.State()
		fmt.Printf("%s Restored %d transactions and %d tasks for %s\n", ui.RenderPass("✓"),
			len(s.Transactions), len(s.Tasks), s.Settings.FarmName)
		return nil
	})
}

func openSink(ctx context.Context) (*backup.S3Sink, error) {
	if cfg.Backup.Bucket == "" {
		return nil, fmt.Errorf("no backup bucket configured (set backup.bucket or FARMBOOK_BACKUP_BUCKET)")
	}
	return backup.NewS3Sink(ctx, backup.S3Config{
		Bucket:          cfg.Backup.Bucket,
		Region:          cfg.Backup.Region,
		Prefix:          cfg.Backup.Prefix,
		Endpoint:        cfg.Backup.Endpoint,
		PathStyle:       cfg.Backup.PathStyle,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: cfg.Backup.SecretAccessKey,
	})
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func init() {
	exportCSVCmd.Flags().StringP("enterprise", "e", "", "enterprise type: dairy or poultry")
	exportCSVCmd.Flags().StringP("output", "o", "", "output file (default <type>-report.csv)")
	_ = exportCSVCmd.MarkFlagRequired("enterprise")

	backupCmd.AddCommand(backupExportCmd, backupRestoreCmd, backupPushCmd, backupPullCmd)
	exportCmd.AddCommand(exportCSVCmd)
	rootCmd.AddCommand(backupCmd, exportCmd)
}

