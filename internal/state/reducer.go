// Package state holds the pure reducer that maps (state, action) to the next
// state. It is the only code that shapes schema.State.
package state

import (
	"github.com/kpfarm/farmbook/internal/schema"
)

// Action is one of the closed set of mutations the reducer understands.
type Action interface {
	// Kind returns a stable name used for logging and metrics.
	Kind() string
	isAction()
}

// AddTransaction appends a transaction. Ids are not checked for uniqueness.
type AddTransaction struct{ Transaction schema.Transaction }

// UpdateTransaction replaces the first transaction with the same id.
type UpdateTransaction struct{ Transaction schema.Transaction }

// DeleteTransaction removes the transaction with the given id.
type DeleteTransaction struct{ ID string }

// AddTask appends a task. Ids are not checked for uniqueness.
type AddTask struct{ Task schema.Task }

// UpdateTask replaces the first task with the same id.
type UpdateTask struct{ Task schema.Task }

// DeleteTask removes the task with the given id.
type DeleteTask struct{ ID string }

// UpdateSettings shallow-merges the patch into the current settings.
type UpdateSettings struct{ Patch schema.SettingsPatch }

// ReplaceState swaps the whole state for a normalized copy of the snapshot.
type ReplaceState struct{ Snapshot schema.Snapshot }

func (AddTransaction) Kind() string    { return "add_transaction" }
func (UpdateTransaction) Kind() string { return "update_transaction" }
func (DeleteTransaction) Kind() string { return "delete_transaction" }
func (AddTask) Kind() string           { return "add_task" }
func (UpdateTask) Kind() string        { return "update_task" }
func (DeleteTask) Kind() string        { return "delete_task" }
func (UpdateSettings) Kind() string    { return "update_settings" }
func (ReplaceState) Kind() string      { return "replace_state" }

func (AddTransaction) isAction()    {}
func (UpdateTransaction) isAction() {}
func (DeleteTransaction) isAction() {}
func (AddTask) isAction()           {}
func (UpdateTask) isAction()        {}
func (DeleteTask) isAction()        {}
func (UpdateSettings) isAction()    {}
func (ReplaceState) isAction()      {}

// Reduce returns the state that results from applying action to s.
//
// Reduce never fails and never modifies the slices of s: every change builds
// new slices, so callers may keep old states around. Unknown and nil actions
// return s unchanged.
func Reduce(s schema.State, action Action) schema.State {
	switch a := action.(type) {
	case ReplaceState:
		return Normalize(a.Snapshot)

	case AddTransaction:
		s.Transactions = appendCopy(s.Transactions, a.Transaction)
		return s

	case UpdateTransaction:
		s.Transactions = replaceFirst(s.Transactions, a.Transaction, func(t schema.Transaction) string { return t.ID })
		return s

	case DeleteTransaction:
		s.Transactions = removeID(s.Transactions, a.ID, func(t schema.Transaction) string { return t.ID })
		return s

	case AddTask:
		s.Tasks = appendCopy(s.Tasks, a.Task)
		return s

	case UpdateTask:
		s.Tasks = replaceFirst(s.Tasks, a.Task, func(t schema.Task) string { return t.ID })
		return s

	case DeleteTask:
		s.Tasks = removeID(s.Tasks, a.ID, func(t schema.Task) string { return t.ID })
		return s

	case UpdateSettings:
		s.Settings = s.Settings.Apply(&a.Patch)
		return s
	}
	return s
}

// Normalize resolves a partial snapshot: settings fall back to defaults field by
// field, missing collections become empty and tasks are migrated.
func Normalize(snap schema.Snapshot) schema.State {
	txs := make([]schema.Transaction, len(snap.Transactions))
	copy(txs, snap.Transactions)
	return schema.State{
		Transactions: txs,
		Settings:     schema.DefaultSettings().Apply(snap.Settings),
		Tasks:        schema.MigrateTasks(snap.Tasks),
	}
}

func appendCopy[T any](items []T, item T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	return append(out, item)
}

func replaceFirst[T any](items []T, item T, id func(T) string) []T {
	want := id(item)
	for i := range items {
		if id(items[i]) == want {
			out := make([]T, len(items))
			copy(out, items)
			out[i] = item
			return out
		}
	}
	return items
}

func removeID[T any](items []T, target string, id func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if id(it) != target {
			out = append(out, it)
		}
	}
	return out
}
