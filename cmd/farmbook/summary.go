package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/dashboard"
	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/ui"
)

var summaryCmd = &cobra.Command{
	Use:     "summary",
	GroupID: "records",
	Short:   "Show income, expenses and balance per enterprise",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		byCategory, _ := cmd.Flags().GetBool("categories")

		return withApp(cmd.Context(), func(a *app) error {
			s := a.orch.State()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(dashboard.ComputeStats(s, a.orch))
			}

			cur := s.Settings.Currency
			fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📊"), s.Settings.FarmName)
			for _, et := range schema.LivestockTypes {
				txs := a.orch.TransactionsFor(et)
				totals := schema.Sum(txs)
				balance := totals.Balance()
				rendered := cur + balance.StringFixed(2)
				if balance.IsNegative() {
					rendered = ui.RenderFail(rendered)
				} else {
					rendered = ui.RenderPass(rendered)
				}
				lines := []string{
					fmt.Sprintf("Income:    %s%s", cur, totals.Income.StringFixed(2)),
					fmt.Sprintf("Expenses:  %s%s", cur, totals.Expenses.StringFixed(2)),
					fmt.Sprintf("Balance:   %s", rendered),
					fmt.Sprintf("Records:   %d", totals.Count),
				}
				if byCategory && len(txs) > 0 {
					lines = append(lines, "", categoryTable(txs, cur))
				}
				fmt.Println(ui.Panel(string(et), lines...))
			}
			return nil
		})
	},
}

func categoryTable(txs []schema.Transaction, cur string) string {
	groups := schema.SumByCategory(txs)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		t := groups[name]
		rows = append(rows, []string{name, cur + t.Income.StringFixed(2), cur + t.Expenses.StringFixed(2)})
	}
	return ui.Table([]string{"CATEGORY", "INCOME", "EXPENSES"}, rows)
}

func init() {
	summaryCmd.Flags().Bool("json", false, "output JSON")
	summaryCmd.Flags().Bool("categories", false, "break totals down by category")
	rootCmd.AddCommand(summaryCmd)
}
