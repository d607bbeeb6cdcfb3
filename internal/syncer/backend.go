package syncer

import (
	"context"
	"fmt"

	"github.com/kpfarm/farmbook/internal/localstore"
	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
)

// backend persists the outcome of one dispatched action. Exactly one backend
// is active at a time; it is swapped on identity changes.
type backend interface {
	name() string
	persist(ctx context.Context, prev, next schema.State, action state.Action) error
}

// localBackend writes the resulting state as a whole, never the action.
type localBackend struct {
	store localstore.Store
}

func (localBackend) name() string { return "local" }

func (b localBackend) persist(ctx context.Context, _, next schema.State, _ state.Action) error {
	if err := b.store.Save(ctx, next.Snapshot()); err != nil {
		return fmt.Errorf("failed to save local state: %w", err)
	}
	return nil
}

// remoteBackend commits one batch per action for a single user.
type remoteBackend struct {
	uid   string
	store remote.DocumentStore
}

func (remoteBackend) name() string { return "remote" }

func (b remoteBackend) persist(ctx context.Context, prev, _ schema.State, action state.Action) error {
	batch := BatchFor(prev, action)
	if batch.Len() == 0 {
		return nil
	}
	if err := b.store.Commit(ctx, b.uid, batch); err != nil {
		return fmt.Errorf("failed to commit %s for %s: %w", action.Kind(), b.uid, err)
	}
	return nil
}
