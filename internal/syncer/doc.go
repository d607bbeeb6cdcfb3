// Package syncer keeps the in-memory farm state in sync with the local slot
// store and the remote document store.
//
// The Orchestrator is the only component that owns schema.State and the only
// one that starts backend I/O. Exactly one backend is active at a time:
//
//   - local: while no identity is present, every change saves the whole
//     resulting state to the local slot
//   - remote: while a user is signed in, every dispatched action commits one
//     atomic batch (see BatchFor) and remote snapshots flow back through a
//     subscription
//
// Login lifecycle
//
// On an absent→present identity transition the orchestrator queues a merge on
// its background writer: local records whose ids the remote store does not
// know are written, local settings are pushed only if they differ from the
// defaults, then the local slot is cleared. Subscriptions start only after the
// merge, and each session merges at most once.
//
// Logout closes the subscriptions synchronously and switches back to the
// local backend without reloading state.
//
// Errors
//
// Backend failures are never returned to Dispatch callers and never roll back
// the in-memory change. They are reported as a Notice on the configured
// Notifier.
//
// Example:
//
//	orch, err := syncer.New(localStore, remoteStore)
//	if err != nil {
//	    return err
//	}
//	defer orch.Close()
//
//	if err := orch.Start(ctx); err != nil {
//	    return err
//	}
//	orch.Dispatch(state.AddTask{Task: task})
//	_ = orch.Flush(ctx)
package syncer
