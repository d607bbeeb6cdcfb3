package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kpfarm/farmbook/internal/schema"
)

// ErrEmptyReport is returned by WriteCSV when there is nothing to export.
var ErrEmptyReport = errors.New("no transactions to export")

// csvHeader lists the transaction JSON field names in column order.
var csvHeader = []string{"id", "date", "livestockType", "transactionType", "category", "amount", "description"}

// ReportName returns the report file name for an enterprise type.
func ReportName(et schema.EnterpriseType) string {
	return string(et) + "-report.csv"
}

// WriteCSV writes a report with one row per transaction.
//
// Every cell is the JSON encoding of its value, so strings keep their quotes
// and amounts are bare numbers. Rows are separated by "\n" with no trailing
// newline. The output is meant for spreadsheet import and is not RFC 4180.
func WriteCSV(w io.Writer, txs []schema.Transaction) error {
	if len(txs) == 0 {
		return ErrEmptyReport
	}

	rows := make([]string, 0, len(txs)+1)
	rows = append(rows, strings.Join(csvHeader, ","))
	for _, tx := range txs {
		cells := make([]string, 0, len(csvHeader))
		for _, v := range []interface{}{
			tx.ID,
			tx.Date,
			tx.EnterpriseType,
			tx.Direction,
			tx.Category,
			json.Number(tx.Amount.String()),
			tx.Description,
		} {
			cell, err := jsonCell(v)
			if err != nil {
				return fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
			}
			cells = append(cells, cell)
		}
		rows = append(rows, strings.Join(cells, ","))
	}

	if _, err := io.WriteString(w, strings.Join(rows, "\n")); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func jsonCell(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	cell := strings.TrimSuffix(buf.String(), "\n")
	if cell == "null" {
		return "", nil
	}
	return cell, nil
}
