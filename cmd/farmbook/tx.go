package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
	"github.com/kpfarm/farmbook/internal/ui"
)

var txCmd = &cobra.Command{
	Use:     "tx",
	GroupID: "records",
	Short:   "Record income and expenses",
	Long: `Add, list, update and delete income and expense transactions.

Examples:
  farmbook tx add -e dairy -k income -c "Milk Sales" -a 120.50
  farmbook tx add -e poultry -k expense -c Feed -a 40 --date yesterday
  farmbook tx list -e dairy
  farmbook tx update 5f1c... --amount 125
  farmbook tx delete 5f1c...`,
}

var txAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a transaction",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tx := schema.Transaction{ID: schema.NewID()}
		if err := applyTxFlags(cmd, &tx, true); err != nil {
			return err
		}
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("invalid transaction: %w", err)
		}

		return withApp(cmd.Context(), func(a *app) error {
			a.orch.Dispatch(state.AddTransaction{Transaction: tx})
			fmt.Printf("%s Added %s %s of %s%s (%s)\n", ui.RenderPass("✓"),
				tx.EnterpriseType, tx.Direction, a.orch.Settings().Currency, tx.Amount.StringFixed(2), tx.ID)
			return nil
		})
	},
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		et, err := enterpriseFlag(cmd, false)
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(cmd.Context(), func(a *app) error {
			all := a.orch.State().Transactions
			if et != "" {
				all = a.orch.TransactionsFor(et)
			}
			var txs []schema.Transaction
			for _, tx := range all {
				if category == "" || tx.Category == category {
					txs = append(txs, tx)
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(nonNilTxs(txs))
			}
			if len(txs) == 0 {
				fmt.Println(ui.RenderMuted("No transactions recorded"))
				return nil
			}

			currency := a.orch.Settings().Currency
			rows := make([][]string, 0, len(txs))
			for _, tx := range txs {
				amount := currency + tx.Amount.StringFixed(2)
				if tx.Direction == schema.Expense {
					amount = "-" + amount
				}
				rows = append(rows, []string{
					tx.Date.Format("2006-01-02"), string(tx.EnterpriseType), tx.Category, amount, tx.Description, tx.ID,
				})
			}
			fmt.Println(ui.Table([]string{"DATE", "TYPE", "CATEGORY", "AMOUNT", "DESCRIPTION", "ID"}, rows))
			return nil
		})
	},
}

var txUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			tx, ok := findTransaction(a.orch.State(), args[0])
			if !ok {
				return fmt.Errorf("transaction %s not found", args[0])
			}
			if err := applyTxFlags(cmd, &tx, false); err != nil {
				return err
			}
			if err := tx.Validate(); err != nil {
				return fmt.Errorf("invalid transaction: %w", err)
			}
			a.orch.Dispatch(state.UpdateTransaction{Transaction: tx})
			fmt.Printf("%s Updated transaction %s\n", ui.RenderPass("✓"), tx.ID)
			return nil
		})
	},
}

var txDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if _, ok := findTransaction(a.orch.State(), args[0]); !ok {
				return fmt.Errorf("transaction %s not found", args[0])
			}
			a.orch.Dispatch(state.DeleteTransaction{ID: args[0]})
			fmt.Printf("%s Deleted transaction %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

// applyTxFlags copies the set flags into tx. With all, unset flags take
// their defaults too.
func applyTxFlags(cmd *cobra.Command, tx *schema.Transaction, all bool) error {
	flags := cmd.Flags()
	set := func(name string) bool { return all || flags.Changed(name) }

	if set("enterprise") {
		et, err := enterpriseFlag(cmd, true)
		if err != nil {
			return err
		}
		tx.EnterpriseType = et
	}
	if set("kind") {
		v, _ := flags.GetString("kind")
		d, err := schema.ParseDirection(v)
		if err != nil {
			return err
		}
		tx.Direction = d
	}
	if set("category") {
		tx.Category, _ = flags.GetString("category")
	}
	if set("amount") {
		v, _ := flags.GetString("amount")
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", v, err)
		}
		tx.Amount = amount
	}
	if set("date") {
		v, _ := flags.GetString("date")
		d, err := ui.ParseDate(v, time.Now())
		if err != nil {
			return err
		}
		tx.Date = d
	}
	if set("description") {
		tx.Description, _ = flags.GetString("description")
	}
	return nil
}

// enterpriseFlag reads --enterprise. Unless livestock is set, an empty value
// means every enterprise.
func enterpriseFlag(cmd *cobra.Command, livestock bool) (schema.EnterpriseType, error) {
	v, _ := cmd.Flags().GetString("enterprise")
	if v == "" && !livestock {
		return "", nil
	}
	et, err := schema.ParseEnterpriseType(v)
	if err != nil {
		return "", err
	}
	if livestock && !et.IsLivestock() {
		return "", fmt.Errorf("transactions belong to dairy or poultry (got %q)", v)
	}
	return et, nil
}

func findTransaction(s schema.State, id string) (schema.Transaction, bool) {
	for _, tx := range s.Transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return schema.Transaction{}, false
}

func nonNilTxs(txs []schema.Transaction) []schema.Transaction {
	if txs == nil {
		return []schema.Transaction{}
	}
	return txs
}

func init() {
	for _, c := range []*cobra.Command{txAddCmd, txUpdateCmd} {
		c.Flags().StringP("enterprise", "e", "", "enterprise type: dairy or poultry")
		c.Flags().StringP("kind", "k", "", "income or expense")
		c.Flags().StringP("category", "c", "", "category, e.g. \"Milk Sales\" or Feed")
		c.Flags().StringP("amount", "a", "", "amount, never negative")
		c.Flags().String("date", "", "date as YYYY-MM-DD or e.g. \"yesterday\" (default today)")
		c.Flags().StringP("description", "d", "", "free-form note")
	}
	_ = txAddCmd.MarkFlagRequired("enterprise")
	_ = txAddCmd.MarkFlagRequired("kind")
	_ = txAddCmd.MarkFlagRequired("category")
	_ = txAddCmd.MarkFlagRequired("amount")

	txListCmd.Flags().StringP("enterprise", "e", "", "only this enterprise type")
	txListCmd.Flags().StringP("category", "c", "", "only this category")
	txListCmd.Flags().Bool("json", false, "output JSON")

	txCmd.AddCommand(txAddCmd, txListCmd, txUpdateCmd, txDeleteCmd)
	rootCmd.AddCommand(txCmd)
}
