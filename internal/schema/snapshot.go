package schema

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the partial wire form of the application state. Nil parts are
// absent and resolve to defaults.
type Snapshot struct {
	Transactions []Transaction `json:"transactions"`
	Settings     *SettingsPatch `json:"settings,omitempty"`
	Tasks        []Task         `json:"tasks"`
}

// State is the resolved in-memory aggregate.
type State struct {
	Transactions []Transaction `json:"transactions"`
	Settings     Settings      `json:"settings"`
	Tasks        []Task        `json:"tasks"`
}

// DefaultState returns empty collections and default settings.
func DefaultState() State {
	return State{
		Transactions: []Transaction{},
		Settings:     DefaultSettings(),
		Tasks:        []Task{},
	}
}

// Snapshot converts s to its wire form with every settings field present.
func (s State) Snapshot() Snapshot {
	c := s.Clone()
	return Snapshot{
		Transactions: c.Transactions,
		Settings:     c.Settings.Patch(),
		Tasks:        c.Tasks,
	}
}

// Clone returns a copy of s that shares no slices with it.
func (s State) Clone() State {
	return State{
		Transactions: append([]Transaction{}, s.Transactions...),
		Settings:     s.Settings,
		Tasks:        append([]Task{}, s.Tasks...),
	}
}

// IsEmpty reports whether s holds no records and default settings.
func (s State) IsEmpty() bool {
	return len(s.Transactions) == 0 && len(s.Tasks) == 0 && s.Settings.IsDefault()
}

// DecodeSnapshot parses a stored JSON blob. An empty blob is an empty snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return snap, nil
}

// EncodeSnapshot renders snap as JSON.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}
