package loadtest

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kpfarm/farmbook/internal/localstore"
	"github.com/kpfarm/farmbook/internal/localstore/sqlite"
	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/syncer"
)

func setupOrchestrator(t *testing.T, local localstore.Store) *syncer.Orchestrator {
	t.Helper()

	o, err := syncer.NewWithConfig(local, nil, &syncer.Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return o
}

func TestGenerateTransactions(t *testing.T) {
	a := GenerateTransactions(50, 7)
	b := GenerateTransactions(50, 7)
	if len(a) != 50 {
		t.Fatalf("got %d transactions, want 50", len(a))
	}
	for i := range a {
		if err := a[i].Validate(); err != nil {
			t.Errorf("transaction %d invalid: %v", i, err)
		}
		if a[i].ID != b[i].ID || !a[i].Amount.Equal(b[i].Amount) || a[i].Category != b[i].Category {
			t.Errorf("transaction %d differs between runs with the same seed", i)
		}
	}
}

func TestGenerateTasks(t *testing.T) {
	tasks := GenerateTasks(30, 7)
	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			t.Errorf("task %d invalid: %v", i, err)
		}
	}
}

func TestRun_MemoryStore(t *testing.T) {
	local := localstore.NewMemory()
	o := setupOrchestrator(t, local)

	res, err := Run(context.Background(), o, Options{Writers: 4, OpsPerWriter: 20, Readers: 2, Seed: 1})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Transactions != 60 || res.Tasks != 20 {
		t.Errorf("wrote %d transactions and %d tasks, want 60 and 20", res.Transactions, res.Tasks)
	}
	if res.Dispatch.Count != 80 {
		t.Errorf("dispatch samples = %d, want 80", res.Dispatch.Count)
	}

	saved, err := local.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(saved.Transactions) != 60 || len(saved.Tasks) != 20 {
		t.Errorf("local store holds %d transactions and %d tasks", len(saved.Transactions), len(saved.Tasks))
	}
}

func TestRun_SQLiteKeepsExistingRecords(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "load.db"), "")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	o := setupOrchestrator(t, store)

	if _, err := Run(context.Background(), o, Options{Writers: 2, OpsPerWriter: 8, Seed: 1}); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	if _, err := Run(context.Background(), o, Options{Writers: 2, OpsPerWriter: 8, Seed: 2}); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if got := len(o.State().Transactions); got != 24 {
		t.Errorf("state holds %d transactions, want 24", got)
	}
}

func TestRun_RejectsEmptyOptions(t *testing.T) {
	o := setupOrchestrator(t, localstore.NewMemory())
	if _, err := Run(context.Background(), o, Options{}); err == nil {
		t.Fatal("Run() with zero writers should fail")
	}
}

func TestVerify(t *testing.T) {
	txs := GenerateTransactions(3, 1)
	before := schema.DefaultState()
	after := schema.DefaultState()
	after.Transactions = append(after.Transactions, txs...)

	if err := Verify(after, before, txs, nil); err != nil {
		t.Fatalf("Verify() = %v", err)
	}

	dup := after.Clone()
	dup.Transactions[2] = dup.Transactions[0]
	if err := Verify(dup, before, txs, nil); err == nil || !strings.Contains(err.Error(), "present 2 times") {
		t.Errorf("Verify() with duplicate = %v", err)
	}

	if err := Verify(before, before, txs, nil); err == nil {
		t.Error("Verify() with missing records should fail")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(ds)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("p50/p99 = %v/%v", s.P50, s.P99)
	}
	if s.Count != 100 {
		t.Errorf("count = %d", s.Count)
	}
	if (computeLatencyStats(nil) != LatencyStats{}) {
		t.Error("empty input should give zero stats")
	}
}
