package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single income or expense entry.
//
// Amount is never negative; Direction carries the sign.
type Transaction struct {
	ID             string          `json:"id"`
	Date           time.Time       `json:"date"`
	EnterpriseType EnterpriseType  `json:"livestockType"`
	Direction      Direction       `json:"transactionType"`
	Category       string          `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
}

// Validate checks the edit boundary rules for a transaction.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if !t.EnterpriseType.IsLivestock() {
		return fmt.Errorf("enterprise type must be dairy or poultry (got %q)", t.EnterpriseType)
	}
	if t.Direction != Income && t.Direction != Expense {
		return fmt.Errorf("transaction type must be income or expense (got %q)", t.Direction)
	}
	if t.Category == "" {
		return fmt.Errorf("category is required")
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative (got %s)", t.Amount)
	}
	return nil
}

// Signed returns the amount with the direction applied: expenses are negative.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Direction == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Totals aggregates a set of transactions.
type Totals struct {
	Income   decimal.Decimal
	Expenses decimal.Decimal
	Count    int
}

// Balance returns income minus expenses.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expenses)
}

// Sum totals the given transactions.
func Sum(txs []Transaction) Totals {
	totals := Totals{Income: decimal.Zero, Expenses: decimal.Zero}
	for _, tx := range txs {
		switch tx.Direction {
		case Income:
			totals.Income = totals.Income.Add(tx.Amount)
		case Expense:
			totals.Expenses = totals.Expenses.Add(tx.Amount)
		}
		totals.Count++
	}
	return totals
}

// SumByCategory totals the given transactions per category.
func SumByCategory(txs []Transaction) map[string]Totals {
	groups := make(map[string][]Transaction)
	for _, tx := range txs {
		groups[tx.Category] = append(groups[tx.Category], tx)
	}
	out := make(map[string]Totals, len(groups))
	for category, group := range groups {
		out[category] = Sum(group)
	}
	return out
}
