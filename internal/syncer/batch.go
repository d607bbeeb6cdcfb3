package syncer

import (
	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
)

// BatchFor returns the remote writes that mirror applying action to prev.
//
// Every action maps to one batch:
//   - Add and Update set the entity document (Update is skipped when prev has
//     no entity with that id, matching the reducer's no-op)
//   - Delete removes the document
//   - UpdateSettings merges the present fields into the settings document
//   - ReplaceState deletes documents missing from the snapshot, sets every
//     incoming entity and merges the resolved settings
//
// A nil or empty batch means nothing needs to be written.
func BatchFor(prev schema.State, action state.Action) *remote.Batch {
	b := &remote.Batch{}

	switch a := action.(type) {
	case state.AddTransaction:
		b.SetTransaction(a.Transaction)

	case state.UpdateTransaction:
		if hasTransaction(prev.Transactions, a.Transaction.ID) {
			b.SetTransaction(a.Transaction)
		}

	case state.DeleteTransaction:
		b.DeleteTransaction(a.ID)

	case state.AddTask:
		b.SetTask(a.Task)

	case state.UpdateTask:
		if hasTask(prev.Tasks, a.Task.ID) {
			b.SetTask(a.Task)
		}

	case state.DeleteTask:
		b.DeleteTask(a.ID)

	case state.UpdateSettings:
		p := a.Patch
		b.MergeSettings(&p)

	case state.ReplaceState:
		next := state.Normalize(a.Snapshot)

		keepTx := make(map[string]bool, len(next.Transactions))
		for _, tx := range next.Transactions {
			keepTx[tx.ID] = true
		}
		for _, tx := range prev.Transactions {
			if !keepTx[tx.ID] {
				b.DeleteTransaction(tx.ID)
			}
		}
		keepTask := make(map[string]bool, len(next.Tasks))
		for _, t := range next.Tasks {
			keepTask[t.ID] = true
		}
		for _, t := range prev.Tasks {
			if !keepTask[t.ID] {
				b.DeleteTask(t.ID)
			}
		}

		for _, tx := range next.Transactions {
			b.SetTransaction(tx)
		}
		for _, t := range next.Tasks {
			b.SetTask(t)
		}
		b.MergeSettings(next.Settings.Patch())
	}

	return b
}

// MergeBatch returns the writes that copy local-only data into the remote
// snapshot: every local transaction and task whose id is absent remotely, and
// the local settings when they differ from the defaults. Entities present on
// both sides are left as the remote has them.
func MergeBatch(local, remoteSnap schema.Snapshot) *remote.Batch {
	b := &remote.Batch{}

	for _, tx := range local.Transactions {
		if !hasTransaction(remoteSnap.Transactions, tx.ID) {
			b.SetTransaction(tx)
		}
	}
	for _, t := range schema.MigrateTasks(local.Tasks) {
		if !hasTask(remoteSnap.Tasks, t.ID) {
			b.SetTask(t)
		}
	}

	// Untouched local defaults must not clobber remote settings.
	settings := schema.DefaultSettings().Apply(local.Settings)
	if !settings.IsDefault() {
		b.MergeSettings(settings.Patch())
	}
	return b
}

func hasTransaction(txs []schema.Transaction, id string) bool {
	for _, tx := range txs {
		if tx.ID == id {
			return true
		}
	}
	return false
}

func hasTask(tasks []schema.Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}
