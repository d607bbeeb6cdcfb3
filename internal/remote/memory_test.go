package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kpfarm/farmbook/internal/schema"
)

func sampleTx(id string) schema.Transaction {
	return schema.Transaction{
		ID:             id,
		Date:           time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		EnterpriseType: schema.Poultry,
		Direction:      schema.Expense,
		Category:       "Feed",
		Amount:         decimal.NewFromInt(30),
	}
}

// collect returns a handler that records changes and a function that waits for
// n of them.
func collect(t *testing.T) (Handler, func(n int) []Change) {
	t.Helper()

	var mu sync.Mutex
	var got []Change
	arrived := make(chan struct{}, 100)

	h := func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
		arrived <- struct{}{}
	}
	wait := func(n int) []Change {
		t.Helper()
		for i := 0; i < n; i++ {
			select {
			case <-arrived:
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for change %d of %d", i+1, n)
			}
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]Change(nil), got...)
	}
	return h, wait
}

func TestMemory_CommitAndSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	name := "Ridge Farm"
	b := (&Batch{}).
		SetTransaction(sampleTx("b")).
		SetTransaction(sampleTx("a")).
		SetTask(schema.Task{ID: "k1", Title: "Muck out"}).
		MergeSettings(&schema.SettingsPatch{FarmName: &name})

	if err := m.Commit(ctx, "u1", b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	snap, err := m.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Transactions) != 2 || snap.Transactions[0].ID != "a" {
		t.Fatalf("transactions not ordered by id: %+v", snap.Transactions)
	}
	if len(snap.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(snap.Tasks))
	}
	if snap.Settings == nil || *snap.Settings.FarmName != name || snap.Settings.Currency != nil {
		t.Fatalf("unexpected settings patch: %+v", snap.Settings)
	}

	// Other users are isolated.
	other, err := m.Snapshot(ctx, "u2")
	if err != nil {
		t.Fatalf("Snapshot(u2) error = %v", err)
	}
	if len(other.Transactions) != 0 || other.Settings != nil {
		t.Fatalf("u2 sees u1 data: %+v", other)
	}

	if err := m.Commit(ctx, "u1", (&Batch{}).DeleteTransaction("a").DeleteTask("k1")); err != nil {
		t.Fatalf("delete Commit() error = %v", err)
	}
	snap, _ = m.Snapshot(ctx, "u1")
	if len(snap.Transactions) != 1 || len(snap.Tasks) != 0 {
		t.Fatalf("deletes not applied: %+v", snap)
	}
	if m.Commits() != 2 {
		t.Fatalf("Commits() = %d, want 2", m.Commits())
	}
}

func TestMemory_RequiresIdentity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Snapshot(ctx, ""); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Snapshot error = %v", err)
	}
	if err := m.Commit(ctx, "", (&Batch{}).DeleteTask("x")); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Commit error = %v", err)
	}
	if _, err := m.Subscribe(ctx, "", func(Change) {}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Subscribe error = %v", err)
	}
}

func TestMemory_CommitError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("permission denied")
	m.SetCommitError(boom)

	err := m.Commit(ctx, "u1", (&Batch{}).SetTransaction(sampleTx("a")))
	if !errors.Is(err, boom) {
		t.Fatalf("Commit() error = %v, want %v", err, boom)
	}
	snap, _ := m.Snapshot(ctx, "u1")
	if len(snap.Transactions) != 0 {
		t.Fatal("failed batch was partially applied")
	}

	m.SetCommitError(nil)
	if err := m.Commit(ctx, "u1", (&Batch{}).SetTransaction(sampleTx("a"))); err != nil {
		t.Fatalf("Commit() after reset error = %v", err)
	}
}

func TestMemory_Subscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	h, wait := collect(t)

	sub, err := m.Subscribe(ctx, "u1", h)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	name := "Ridge"
	b := (&Batch{}).SetTransaction(sampleTx("a")).MergeSettings(&schema.SettingsPatch{FarmName: &name})
	if err := m.Commit(ctx, "u1", b); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	// A commit for another user is not delivered.
	if err := m.Commit(ctx, "u2", (&Batch{}).SetTask(schema.Task{ID: "z"})); err != nil {
		t.Fatalf("Commit(u2) error = %v", err)
	}

	changes := wait(5)
	for i, c := range AllCollections {
		if changes[i].Collection != c {
			t.Fatalf("initial change %d = %v, want %v", i, changes[i].Collection, c)
		}
	}
	if changes[0].Snapshot.Settings != nil || len(changes[1].Snapshot.Transactions) != 0 {
		t.Fatalf("initial changes should be empty: %+v", changes[:3])
	}
	if changes[3].Collection != SettingsDoc || changes[4].Collection != Transactions {
		t.Fatalf("unexpected change order: %v, %v", changes[3].Collection, changes[4].Collection)
	}
	if len(changes[4].Snapshot.Transactions) != 1 {
		t.Fatalf("transactions change carries %d docs", len(changes[4].Snapshot.Transactions))
	}
}

func TestMemory_NoCallbacksAfterClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var mu sync.Mutex
	closed := false
	violations := 0
	sub, err := m.Subscribe(ctx, "u1", func(Change) {
		mu.Lock()
		if closed {
			violations++
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		_ = m.Commit(ctx, "u1", (&Batch{}).SetTransaction(sampleTx("a")))
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	mu.Lock()
	closed = true
	mu.Unlock()

	for i := 0; i < 20; i++ {
		_ = m.Commit(ctx, "u1", (&Batch{}).SetTransaction(sampleTx("b")))
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if violations != 0 {
		t.Fatalf("handler ran %d times after Close", violations)
	}
	if m.Subscribers("u1") != 0 {
		t.Fatalf("subscription still registered")
	}
	// Close is idempotent.
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestBatch_Touched(t *testing.T) {
	var b Batch
	if b.Touched() != nil {
		t.Fatal("empty batch touches nothing")
	}
	b.SetTask(schema.Task{ID: "k"}).DeleteTransaction("t").MergeSettings(&schema.SettingsPatch{})
	got := b.Touched()
	if len(got) != 2 || got[0] != Transactions || got[1] != Tasks {
		t.Fatalf("Touched() = %v", got)
	}
	if b.Len() != 2 {
		t.Fatalf("empty settings patch should be skipped, Len() = %d", b.Len())
	}
	var nilBatch *Batch
	if nilBatch.Len() != 0 {
		t.Fatal("nil batch Len() should be 0")
	}
}

func TestOpKind_String(t *testing.T) {
	for k := OpSetTransaction; k <= OpMergeSettings; k++ {
		if k.String() == "unknown" {
			t.Fatalf("kind %d has no name", k)
		}
	}
	if OpKind(99).String() != "unknown" {
		t.Fatal("out-of-range kind should be unknown")
	}
}
