// Package backup reads and writes portable copies of the farm state.
//
// A backup file is the indented JSON form of the whole state:
//
//	{
//	  "transactions": [...],
//	  "settings": {...},
//	  "tasks": [...]
//	}
//
// Restore accepts files written by older releases: any of the three keys may
// be missing or null and resolves to empty. A key holding the wrong JSON kind
// makes the whole file corrupt, and nothing is restored from it.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kpfarm/farmbook/internal/schema"
)

// ErrCorruptBackup is returned by Restore for data that is not a backup file.
var ErrCorruptBackup = errors.New("file is not a valid backup, it might be corrupted")

// FileName returns the conventional backup file name for the given day.
func FileName(t time.Time) string {
	return "farmbook-backup-" + t.Format("2006-01-02") + ".json"
}

// Export renders s as an indented backup document.
func Export(s schema.State) ([]byte, error) {
	doc := struct {
		Transactions []schema.Transaction `json:"transactions"`
		Settings     schema.Settings      `json:"settings"`
		Tasks        []schema.Task        `json:"tasks"`
	}{
		Transactions: nonNil(s.Transactions),
		Settings:     s.Settings,
		Tasks:        nonNil(s.Tasks),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup: %w", err)
	}
	return data, nil
}

// Restore parses a backup document into a snapshot suitable for a
// ReplaceState action. Tasks are returned as stored; the reducer migrates them.
func Restore(data []byte) (schema.Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return schema.Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptBackup, err)
	}
	if raw == nil {
		// top-level null
		return schema.Snapshot{}, ErrCorruptBackup
	}

	snap := schema.Snapshot{
		Transactions: []schema.Transaction{},
		Settings:     &schema.SettingsPatch{},
		Tasks:        []schema.Task{},
	}
	if err := decodePart(raw, "transactions", '[', &snap.Transactions); err != nil {
		return schema.Snapshot{}, err
	}
	if err := decodePart(raw, "settings", '{', snap.Settings); err != nil {
		return schema.Snapshot{}, err
	}
	if err := decodePart(raw, "tasks", '[', &snap.Tasks); err != nil {
		return schema.Snapshot{}, err
	}
	return snap, nil
}

// decodePart unmarshals raw[key] into dst when it is present and not null.
// kind is the required first byte of the value: '[' or '{'.
func decodePart(raw map[string]json.RawMessage, key string, kind byte, dst interface{}) error {
	v := bytes.TrimSpace(raw[key])
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil
	}
	if v[0] != kind {
		return fmt.Errorf("%w: %s has the wrong shape", ErrCorruptBackup, key)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptBackup, key, err)
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
