package syncer

import (
	"github.com/kpfarm/farmbook/internal/schema"
)

// TransactionsFor returns the transactions of one enterprise type. It returns
// an empty slice until the state is hydrated, so callers never mistake an
// unloaded state for "no data".
func (o *Orchestrator) TransactionsFor(et schema.EnterpriseType) []schema.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := []schema.Transaction{}
	if !o.hydrated {
		return out
	}
	for _, tx := range o.st.Transactions {
		if tx.EnterpriseType == et {
			out = append(out, tx)
		}
	}
	return out
}

// TasksFor returns the tasks of one enterprise type; general matches only
// general tasks. An empty type returns every task. Like TransactionsFor it is
// empty before hydration.
func (o *Orchestrator) TasksFor(et schema.EnterpriseType) []schema.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := []schema.Task{}
	if !o.hydrated {
		return out
	}
	for _, t := range o.st.Tasks {
		if et == "" || t.EnterpriseType == et {
			out = append(out, t)
		}
	}
	return out
}

// Settings returns the resolved settings.
func (o *Orchestrator) Settings() schema.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Settings
}

// State returns a copy of the whole state.
func (o *Orchestrator) State() schema.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Clone()
}

// IsHydrated reports whether the state was loaded from its backend.
func (o *Orchestrator) IsHydrated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hydrated
}

// IsCloudSyncing reports whether a login merge is running.
func (o *Orchestrator) IsCloudSyncing() bool {
	return o.syncing.Load()
}

// UID returns the signed-in user, or "" when the local backend is active.
func (o *Orchestrator) UID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.uid
}

// Backend names the active backend: "local" or "remote".
func (o *Orchestrator) Backend() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.backend.name()
}

// PendingWrites returns the number of queued background jobs.
func (o *Orchestrator) PendingWrites() int {
	return o.writer.pending()
}

// RemoteChanges returns how many remote changes were received by live
// sessions, including empty ones.
func (o *Orchestrator) RemoteChanges() int64 {
	return o.changes.Load()
}
