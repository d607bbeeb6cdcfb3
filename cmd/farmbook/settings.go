package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
	"github.com/kpfarm/farmbook/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "records",
	Short:   "Show or change farm settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show farm settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			fmt.Println(renderSettings(a.orch.Settings()))
			return nil
		})
	},
}

// settingsFlags maps flag names to settings JSON field names.
var settingsFlags = map[string]string{
	"farm-name": "farmName",
	"manager":   "managerName",
	"location":  "location",
	"currency":  "currency",
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change individual settings",
	Long: `Change individual settings. Fields that are not given keep their value.

Example:
  farmbook settings set --farm-name "Kiambu Dairy" --currency KSh`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]string{}
		for flag, field := range settingsFlags {
			if cmd.Flags().Changed(flag) {
				fields[field], _ = cmd.Flags().GetString(flag)
			}
		}
		if len(fields) == 0 {
			return fmt.Errorf("nothing to change (see --help for the settings flags)")
		}
		patch := schema.PatchFromFields(fields)

		return withApp(cmd.Context(), func(a *app) error {
			next := a.orch.Settings().Apply(patch)
			if err := next.Validate(); err != nil {
				return err
			}
			a.orch.Dispatch(state.UpdateSettings{Patch: *patch})
			fmt.Printf("%s Settings saved\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

var settingsEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit settings in an interactive form",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal(os.Stdin) {
			return fmt.Errorf("settings edit needs a terminal; use 'farmbook settings set' instead")
		}
		return withApp(cmd.Context(), func(a *app) error {
			edited, err := ui.EditSettings(a.orch.Settings())
			if errors.Is(err, ui.ErrAborted) {
				fmt.Println(ui.RenderMuted("No changes"))
				return nil
			}
			if err != nil {
				return err
			}
			a.orch.Dispatch(state.UpdateSettings{Patch: *edited.Patch()})
			fmt.Printf("%s Settings saved\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

func renderSettings(s schema.Settings) string {
	return ui.Panel("Farm settings",
		fmt.Sprintf("Farm:      %s", s.FarmName),
		fmt.Sprintf("Manager:   %s", s.ManagerName),
		fmt.Sprintf("Location:  %s", s.Location),
		fmt.Sprintf("Currency:  %s", s.Currency),
	)
}

func init() {
	settingsSetCmd.Flags().String("farm-name", "", "farm name")
	settingsSetCmd.Flags().String("manager", "", "manager name")
	settingsSetCmd.Flags().String("location", "", "farm location")
	settingsSetCmd.Flags().String("currency", "", "currency symbol, e.g. $ or KSh")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsEditCmd)
	rootCmd.AddCommand(settingsCmd)
}
