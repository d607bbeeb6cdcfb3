package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
	"github.com/kpfarm/farmbook/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "records",
	Short:   "Schedule farm tasks",
	Long: `Add, list, complete and delete farm tasks.

Examples:
  farmbook task add "Vaccinate layers" -e poultry --date "next monday" --time 07:30 -p high
  farmbook task list --pending
  farmbook task done 5f1c...
  farmbook task reopen 5f1c...`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := schema.Task{
			ID:       schema.NewID(),
			Title:    args[0],
			Status:   schema.Pending,
			Priority: schema.Medium,
		}
		if err := applyTaskFlags(cmd, &t, true); err != nil {
			return err
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid task: %w", err)
		}

		return withApp(cmd.Context(), func(a *app) error {
			a.orch.Dispatch(state.AddTask{Task: t})
			fmt.Printf("%s Added task %q on %s (%s)\n", ui.RenderPass("✓"), t.Title, t.Date.Format("2006-01-02"), t.ID)
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.Flags().GetString("enterprise")
		var et schema.EnterpriseType
		if v != "" {
			var err error
			if et, err = schema.ParseEnterpriseType(v); err != nil {
				return err
			}
		}
		pending, _ := cmd.Flags().GetBool("pending")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(cmd.Context(), func(a *app) error {
			tasks := []schema.Task{}
			for _, t := range a.orch.TasksFor(et) {
				if !pending || t.Status == schema.Pending {
					tasks = append(tasks, t)
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println(ui.RenderMuted("No tasks"))
				return nil
			}

			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				when := t.Date.Format("2006-01-02")
				if !t.AnyTime() {
					when += " " + t.Time
				}
				status := ui.RenderWarn("○ pending")
				if t.Status == schema.Completed {
					status = ui.RenderPass("✓ done")
				}
				rows = append(rows, []string{when, t.Title, string(t.EnterpriseType), string(t.Priority), status, t.ID})
			}
			fmt.Println(ui.Table([]string{"WHEN", "TITLE", "TYPE", "PRIORITY", "STATUS", "ID"}, rows))
			return nil
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editTask(cmd, args[0], func(t *schema.Task) error {
			if cmd.Flags().Changed("title") {
				t.Title, _ = cmd.Flags().GetString("title")
			}
			return applyTaskFlags(cmd, t, false)
		})
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editTask(cmd, args[0], func(t *schema.Task) error {
			t.Status = schema.Completed
			return nil
		})
	},
}

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Mark a completed task pending again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editTask(cmd, args[0], func(t *schema.Task) error {
			t.Status = schema.Pending
			return nil
		})
	},
}

var taskToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip a task between pending and completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editTask(cmd, args[0], func(t *schema.Task) error {
			t.Toggle()
			return nil
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if _, ok := findTask(a.orch.State(), args[0]); !ok {
				return fmt.Errorf("task %s not found", args[0])
			}
			a.orch.Dispatch(state.DeleteTask{ID: args[0]})
			fmt.Printf("%s Deleted task %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

// editTask loads task id, applies fn and dispatches the update.
func editTask(cmd *cobra.Command, id string, fn func(*schema.Task) error) error {
	return withApp(cmd.Context(), func(a *app) error {
		t, ok := findTask(a.orch.State(), id)
		if !ok {
			return fmt.Errorf("task %s not found", id)
		}
		if err := fn(&t); err != nil {
			return err
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid task: %w", err)
		}
		a.orch.Dispatch(state.UpdateTask{Task: t})
		fmt.Printf("%s Updated task %q (%s)\n", ui.RenderPass("✓"), t.Title, t.Status)
		return nil
	})
}

// applyTaskFlags copies the set flags into t. With all, unset flags take
// their defaults too.
func applyTaskFlags(cmd *cobra.Command, t *schema.Task, all bool) error {
	flags := cmd.Flags()
	set := func(name string) bool { return all || flags.Changed(name) }

	if set("enterprise") {
		v, _ := flags.GetString("enterprise")
		et, err := schema.ParseEnterpriseType(v)
		if err != nil {
			return err
		}
		t.EnterpriseType = et
	}
	if set("date") {
		v, _ := flags.GetString("date")
		d, err := ui.ParseDate(v, time.Now())
		if err != nil {
			return err
		}
		t.Date = d
	}
	if set("time") {
		t.Time, _ = flags.GetString("time")
	}
	if set("description") {
		t.Description, _ = flags.GetString("description")
	}
	if set("priority") {
		v, _ := flags.GetString("priority")
		p, err := schema.ParsePriority(v)
		if err != nil {
			return err
		}
		t.Priority = p
	}
	if set("reminder") {
		t.Reminder, _ = flags.GetBool("reminder")
	}
	return nil
}

func findTask(s schema.State, id string) (schema.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return schema.Task{}, false
}

func init() {
	for _, c := range []*cobra.Command{taskAddCmd, taskUpdateCmd} {
		c.Flags().StringP("enterprise", "e", "general", "enterprise type: dairy, poultry or general")
		c.Flags().String("date", "", "day as YYYY-MM-DD or e.g. \"tomorrow\" (default today)")
		c.Flags().String("time", "", "time of day as HH:MM (default any time)")
		c.Flags().StringP("description", "d", "", "details")
		c.Flags().StringP("priority", "p", "medium", "low, medium or high")
		c.Flags().Bool("reminder", false, "remind me before the task")
	}
	taskUpdateCmd.Flags().String("title", "", "new title")

	taskListCmd.Flags().StringP("enterprise", "e", "", "only this enterprise type")
	taskListCmd.Flags().Bool("pending", false, "only pending tasks")
	taskListCmd.Flags().Bool("json", false, "output JSON")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskUpdateCmd, taskDoneCmd, taskReopenCmd, taskToggleCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
