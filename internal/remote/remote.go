// Package remote defines the per-user document store used while a user
// identity is present, together with an in-process implementation.
//
// Layout
//
// Every user owns one root document holding the settings fields directly and
// two collections under it:
//
//	users/{uid}                   settings fields (farmName, managerName, ...)
//	users/{uid}/transactions/{id} one document per transaction
//	users/{uid}/tasks/{id}        one document per task
//
// Writes are grouped in a Batch that commits atomically. Subscribers first
// receive the current contents of every collection, then a Change carrying the
// fresh contents of every collection a later commit touched.
//
// Implementations:
//
//   - Memory: in-process, used by tests
//   - redisstore: Redis hashes, MULTI/EXEC batches, pub/sub notifications
//   - pgstore: Postgres tables, transactional batches, LISTEN/NOTIFY
package remote

import (
	"context"
	"errors"
	"sort"

	"github.com/kpfarm/farmbook/internal/schema"
)

// ErrNoIdentity is returned when an operation is attempted without a user id.
var ErrNoIdentity = errors.New("remote store requires a user identity")

// Collection names a part of the per-user document tree.
type Collection string

const (
	SettingsDoc  Collection = "settings"
	Transactions Collection = "transactions"
	Tasks        Collection = "tasks"
)

// AllCollections lists every collection in notification order.
var AllCollections = []Collection{SettingsDoc, Transactions, Tasks}

// Change is one snapshot delivered by a subscription. Only the part named by
// Collection is populated.
type Change struct {
	Collection Collection
	Snapshot   schema.Snapshot
}

// Handler receives changes in delivery order. It runs on the subscription's
// own goroutine and must not call Subscription.Close.
type Handler func(Change)

// Subscription is a live change feed.
type Subscription interface {
	// Close stops the feed. After Close returns the handler is never called
	// again.
	Close() error
}

// DocumentStore is the remote backend contract.
type DocumentStore interface {
	// Snapshot reads the settings document and both collections.
	// Collections are ordered by id.
	Snapshot(ctx context.Context, uid string) (schema.Snapshot, error)

	// Commit applies every operation of b atomically. An empty batch is a
	// no-op.
	Commit(ctx context.Context, uid string, b *Batch) error

	// Subscribe delivers one Change per collection with its current contents,
	// then a Change for every collection touched by a later commit.
	Subscribe(ctx context.Context, uid string, h Handler) (Subscription, error)
}

// OpKind is the type of a batched write.
type OpKind int

const (
	OpSetTransaction OpKind = iota
	OpDeleteTransaction
	OpSetTask
	OpDeleteTask
	OpMergeSettings
)

// String returns a human-readable name of the operation.
func (k OpKind) String() string {
	switch k {
	case OpSetTransaction:
		return "set_transaction"
	case OpDeleteTransaction:
		return "delete_transaction"
	case OpSetTask:
		return "set_task"
	case OpDeleteTask:
		return "delete_task"
	case OpMergeSettings:
		return "merge_settings"
	default:
		return "unknown"
	}
}

// Collection returns the collection an operation of this kind writes.
func (k OpKind) Collection() Collection {
	switch k {
	case OpSetTransaction, OpDeleteTransaction:
		return Transactions
	case OpSetTask, OpDeleteTask:
		return Tasks
	default:
		return SettingsDoc
	}
}

// Op is a single write in a Batch.
type Op struct {
	Kind        OpKind
	ID          string
	Transaction schema.Transaction
	Task        schema.Task
	Settings    *schema.SettingsPatch
}

// Batch groups writes that commit together.
type Batch struct {
	Ops []Op
}

// SetTransaction upserts a transaction document.
func (b *Batch) SetTransaction(tx schema.Transaction) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpSetTransaction, ID: tx.ID, Transaction: tx})
	return b
}

// DeleteTransaction removes a transaction document.
func (b *Batch) DeleteTransaction(id string) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpDeleteTransaction, ID: id})
	return b
}

// SetTask upserts a task document.
func (b *Batch) SetTask(t schema.Task) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpSetTask, ID: t.ID, Task: t})
	return b
}

// DeleteTask removes a task document.
func (b *Batch) DeleteTask(id string) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpDeleteTask, ID: id})
	return b
}

// MergeSettings merges the present fields of p into the settings document.
func (b *Batch) MergeSettings(p *schema.SettingsPatch) *Batch {
	if p.IsEmpty() {
		return b
	}
	b.Ops = append(b.Ops, Op{Kind: OpMergeSettings, Settings: p})
	return b
}

// Len returns the number of operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Ops)
}

// Touched returns the collections written by the batch in AllCollections
// order.
func (b *Batch) Touched() []Collection {
	if b == nil {
		return nil
	}
	seen := map[Collection]bool{}
	for _, op := range b.Ops {
		seen[op.Kind.Collection()] = true
	}
	var out []Collection
	for _, c := range AllCollections {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// SortTransactions orders transactions by id, the document order of every
// store.
func SortTransactions(txs []schema.Transaction) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
}

// SortTasks orders tasks by id.
func SortTasks(tasks []schema.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
