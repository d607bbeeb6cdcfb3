package syncer

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kpfarm/farmbook/internal/identity"
	"github.com/kpfarm/farmbook/internal/localstore"
	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
)

// noticeLog collects notices for assertions.
type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) find(op string) (Notice, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notices {
		if n.Op == op {
			return n, true
		}
	}
	return Notice{}, false
}

// setupOrchestrator builds an orchestrator with a silent logger. It is closed
// when the test ends.
func setupOrchestrator(t *testing.T, local localstore.Store, rem remote.DocumentStore) (*Orchestrator, *noticeLog) {
	t.Helper()

	notices := &noticeLog{}
	o, err := NewWithConfig(local, rem, &Config{
		Logger:   log.New(io.Discard, "", 0),
		Notifier: notices,
	})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o, notices
}

func flush(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitSynced waits until the initial snapshot of every collection arrived.
func waitSynced(t *testing.T, o *Orchestrator) {
	t.Helper()
	waitFor(t, "initial remote snapshot", func() bool {
		return o.RemoteChanges() >= int64(len(remote.AllCollections))
	})
}

func tx(id string, et schema.EnterpriseType, amount int64) schema.Transaction {
	return schema.Transaction{
		ID:             id,
		Date:           time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		EnterpriseType: et,
		Direction:      schema.Income,
		Category:       "Milk Sales",
		Amount:         decimal.NewFromInt(amount),
	}
}

func task(id string, et schema.EnterpriseType) schema.Task {
	return schema.Task{
		ID:             id,
		Title:          "Task " + id,
		Date:           time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		EnterpriseType: et,
		Status:         schema.Pending,
		Priority:       schema.High,
	}
}

func seedLocal(t *testing.T, snap schema.Snapshot) *localstore.Memory {
	t.Helper()
	local := localstore.NewMemory()
	if err := local.Save(context.Background(), snap); err != nil {
		t.Fatalf("seed local store: %v", err)
	}
	return local
}

func ids(txs []schema.Transaction) map[string]int {
	out := map[string]int{}
	for _, x := range txs {
		out[x.ID]++
	}
	return out
}

func TestStart_HydratesFromLocal(t *testing.T) {
	legacy := task("k1", schema.General)
	legacy.Priority = ""
	local := seedLocal(t, schema.Snapshot{
		Transactions: []schema.Transaction{tx("d1", schema.Dairy, 10), tx("p1", schema.Poultry, 5)},
		Tasks:        []schema.Task{legacy},
	})
	o, _ := setupOrchestrator(t, local, nil)

	// Backing data exists but nothing is visible before hydration.
	if o.IsHydrated() {
		t.Fatal("hydrated before Start")
	}
	if got := o.TransactionsFor(schema.Dairy); got == nil || len(got) != 0 {
		t.Fatalf("TransactionsFor before hydration = %v, want empty", got)
	}
	if got := o.TasksFor(""); len(got) != 0 {
		t.Fatalf("TasksFor before hydration = %v, want empty", got)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !o.IsHydrated() {
		t.Fatal("not hydrated after Start")
	}

	dairy := o.TransactionsFor(schema.Dairy)
	if len(dairy) != 1 || dairy[0].ID != "d1" {
		t.Fatalf("TransactionsFor(dairy) = %+v", dairy)
	}
	for _, x := range dairy {
		if x.EnterpriseType == schema.Poultry {
			t.Fatal("dairy view returned a poultry transaction")
		}
	}

	tasks := o.TasksFor(schema.General)
	if len(tasks) != 1 || tasks[0].Priority != schema.Medium {
		t.Fatalf("migrated task = %+v", tasks)
	}
	if len(o.TasksFor(schema.Dairy)) != 0 {
		t.Fatal("general task returned for dairy")
	}
	if o.Settings() != schema.DefaultSettings() {
		t.Fatalf("Settings() = %+v, want defaults", o.Settings())
	}

	// Start is one-shot.
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("second Start() failed: %v", err)
	}
}

type brokenLocal struct{ localstore.Store }

func (brokenLocal) Load(context.Context) (schema.Snapshot, error) {
	return schema.Snapshot{}, errors.New("disk on fire")
}

func TestStart_LoadFailureHydratesDefaults(t *testing.T) {
	o, notices := setupOrchestrator(t, brokenLocal{localstore.NewMemory()}, nil)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !o.IsHydrated() || !o.State().IsEmpty() {
		t.Fatalf("expected hydrated empty state, got %+v", o.State())
	}
	n, ok := notices.find("hydrate")
	if !ok || n.Level != LevelWarn {
		t.Fatalf("missing hydrate warning, got %+v", n)
	}
}

func TestDispatch_LocalPersistence(t *testing.T) {
	local := localstore.NewMemory()
	o, _ := setupOrchestrator(t, local, nil)

	// Applied but not persisted before hydration.
	o.Dispatch(state.AddTransaction{Transaction: tx("early", schema.Dairy, 1)})
	flush(t, o)
	if local.Saves() != 0 {
		t.Fatalf("saved %d times before hydration", local.Saves())
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	o.Dispatch(state.AddTransaction{Transaction: tx("t1", schema.Dairy, 20)})
	o.Dispatch(state.AddTask{Task: task("k1", schema.Poultry)})
	name := "Hilltop"
	o.Dispatch(state.UpdateSettings{Patch: schema.SettingsPatch{FarmName: &name}})
	o.Dispatch(state.DeleteTask{ID: "k1"})
	flush(t, o)

	snap, err := local.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(snap.Transactions) != 1 || snap.Transactions[0].ID != "t1" {
		t.Fatalf("persisted transactions = %+v", snap.Transactions)
	}
	if len(snap.Tasks) != 0 {
		t.Fatalf("persisted tasks = %+v", snap.Tasks)
	}
	if snap.Settings == nil || *snap.Settings.FarmName != "Hilltop" || *snap.Settings.Currency != "$" {
		t.Fatalf("persisted settings = %+v", snap.Settings)
	}
	if local.Saves() != 4 {
		t.Fatalf("Saves() = %d, want one per action", local.Saves())
	}
	if o.Backend() != "local" {
		t.Fatalf("Backend() = %s", o.Backend())
	}
}

func TestDispatch_DuplicateAddKeepsBoth(t *testing.T) {
	o, _ := setupOrchestrator(t, localstore.NewMemory(), nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	x := tx("x", schema.Dairy, 50)
	o.Dispatch(state.AddTransaction{Transaction: x})
	o.Dispatch(state.AddTransaction{Transaction: x})

	if got := ids(o.TransactionsFor(schema.Dairy))["x"]; got != 2 {
		t.Fatalf("got %d entries with id x, want 2", got)
	}
}

func TestLogin_MergeScenario(t *testing.T) {
	ctx := context.Background()
	local := seedLocal(t, schema.Snapshot{
		Transactions: []schema.Transaction{
			tx("t1", schema.Dairy, 10),
			tx("t2", schema.Dairy, 20),
			tx("t3", schema.Poultry, 30),
		},
	})
	rem := remote.NewMemory()
	remoteT2 := tx("t2", schema.Poultry, 999)
	remoteT2.Category = "Egg Sales"
	if err := rem.Commit(ctx, "u1", (&remote.Batch{}).SetTransaction(remoteT2)); err != nil {
		t.Fatal(err)
	}

	o, _ := setupOrchestrator(t, local, rem)
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	flush(t, o)

	snap, err := rem.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	got := ids(snap.Transactions)
	if len(got) != 3 || got["t1"] != 1 || got["t2"] != 1 || got["t3"] != 1 {
		t.Fatalf("remote ids = %v, want t1 t2 t3", got)
	}
	for _, x := range snap.Transactions {
		if x.ID == "t2" && (x.Category != "Egg Sales" || !x.Amount.Equal(decimal.NewFromInt(999))) {
			t.Fatalf("remote t2 was overwritten: %+v", x)
		}
	}
	// No local settings customization, so nothing was pushed.
	if snap.Settings != nil {
		t.Fatalf("default local settings were pushed: %+v", snap.Settings)
	}

	if _, err := local.Load(ctx); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("local store not cleared, Load() error = %v", err)
	}

	// The subscription brings the merged remote view into memory.
	waitFor(t, "remote view", func() bool {
		for _, x := range o.State().Transactions {
			if x.ID == "t2" && x.Category == "Egg Sales" {
				return len(o.State().Transactions) == 3
			}
		}
		return false
	})
	if o.IsCloudSyncing() {
		t.Fatal("still syncing after merge")
	}
	if o.UID() != "u1" || o.Backend() != "remote" {
		t.Fatalf("UID()=%q Backend()=%q", o.UID(), o.Backend())
	}
}

func TestLogin_MergeExactlyOncePerTransition(t *testing.T) {
	ctx := context.Background()
	local := seedLocal(t, schema.Snapshot{
		Transactions: []schema.Transaction{tx("a", schema.Dairy, 1), tx("b", schema.Dairy, 2)},
		Tasks:        []schema.Task{task("k", schema.General)},
	})
	rem := remote.NewMemory()
	o, _ := setupOrchestrator(t, local, rem)
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// present → absent → present, twice.
	for round := 0; round < 2; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := o.Login(ctx, "u1"); err != nil {
					t.Errorf("Login() failed: %v", err)
				}
			}()
		}
		wg.Wait()
		flush(t, o)
		o.Logout()
		flush(t, o)
	}
	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)

	snap, err := rem.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	for id, n := range ids(snap.Transactions) {
		if n != 1 {
			t.Fatalf("remote holds %d copies of %s", n, id)
		}
	}
	if len(snap.Transactions) != 2 || len(snap.Tasks) != 1 {
		t.Fatalf("remote snapshot = %d tx, %d tasks", len(snap.Transactions), len(snap.Tasks))
	}
	// Only the first login had local data to merge.
	if rem.Commits() != 1 {
		t.Fatalf("remote commits = %d, want 1", rem.Commits())
	}
}

func TestLogin_LocalChangesWhileLoggedOutMergeNextTime(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	rem := remote.NewMemory()
	o, _ := setupOrchestrator(t, local, rem)
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	o.Dispatch(state.AddTransaction{Transaction: tx("cloud", schema.Dairy, 1)})
	flush(t, o)
	waitFor(t, "cloud tx", func() bool { return len(o.State().Transactions) == 1 })

	o.Logout()
	o.Dispatch(state.AddTransaction{Transaction: tx("offline", schema.Poultry, 2)})
	flush(t, o)

	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)

	snap, _ := rem.Snapshot(ctx, "u1")
	got := ids(snap.Transactions)
	if len(got) != 2 || got["cloud"] != 1 || got["offline"] != 1 {
		t.Fatalf("remote ids = %v", got)
	}
}

func TestLogin_SettingsHeuristic(t *testing.T) {
	ctx := context.Background()
	remoteName := "Remote Ranch"

	tests := []struct {
		name  string
		local *schema.SettingsPatch
		want  string
	}{
		{"defaults do not clobber remote", nil, remoteName},
		{"explicit defaults do not clobber remote", schema.DefaultSettings().Patch(), remoteName},
		{"customized local settings win", func() *schema.SettingsPatch {
			s := schema.DefaultSettings()
			s.FarmName = "Local Acres"
			return s.Patch()
		}(), "Local Acres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := seedLocal(t, schema.Snapshot{Settings: tt.local})
			rem := remote.NewMemory()
			if err := rem.Commit(ctx, "u1", (&remote.Batch{}).MergeSettings(&schema.SettingsPatch{FarmName: &remoteName})); err != nil {
				t.Fatal(err)
			}

			o, _ := setupOrchestrator(t, local, rem)
			if err := o.Login(ctx, "u1"); err != nil {
				t.Fatal(err)
			}
			flush(t, o)

			snap, _ := rem.Snapshot(ctx, "u1")
			if snap.Settings == nil || *snap.Settings.FarmName != tt.want {
				t.Fatalf("remote farm name = %+v, want %s", snap.Settings, tt.want)
			}
			waitFor(t, "settings applied", func() bool { return o.Settings().FarmName == tt.want })
		})
	}
}

func TestRemoteBackend_WritesBatches(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	rem := remote.NewMemory()
	o, _ := setupOrchestrator(t, local, rem)
	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)
	waitSynced(t, o)
	savesBefore := local.Saves()

	o.Dispatch(state.AddTransaction{Transaction: tx("t1", schema.Dairy, 10)})
	updated := tx("t1", schema.Dairy, 15)
	o.Dispatch(state.UpdateTransaction{Transaction: updated})
	o.Dispatch(state.AddTask{Task: task("k1", schema.Dairy)})
	o.Dispatch(state.DeleteTask{ID: "k1"})
	cur := "€"
	o.Dispatch(state.UpdateSettings{Patch: schema.SettingsPatch{Currency: &cur}})
	flush(t, o)

	snap, _ := rem.Snapshot(ctx, "u1")
	if len(snap.Transactions) != 1 || !snap.Transactions[0].Amount.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("remote transactions = %+v", snap.Transactions)
	}
	if len(snap.Tasks) != 0 {
		t.Fatalf("remote tasks = %+v", snap.Tasks)
	}
	if snap.Settings == nil || *snap.Settings.Currency != "€" || snap.Settings.FarmName != nil {
		t.Fatalf("remote settings = %+v", snap.Settings)
	}
	if local.Saves() != savesBefore {
		t.Fatal("local store written while logged in")
	}
}

func TestRemoteBackend_FailureKeepsOptimisticState(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	o, notices := setupOrchestrator(t, localstore.NewMemory(), rem)
	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)
	waitSynced(t, o)

	rem.SetCommitError(errors.New("permission denied"))
	o.Dispatch(state.AddTransaction{Transaction: tx("t1", schema.Dairy, 10)})
	flush(t, o)

	if len(o.TransactionsFor(schema.Dairy)) != 1 {
		t.Fatal("optimistic change was rolled back")
	}
	n, ok := notices.find("write:add_transaction")
	if !ok || n.Level != LevelWarn || n.Err == nil {
		t.Fatalf("missing write warning, got %+v", n)
	}
	snap, _ := rem.Snapshot(ctx, "u1")
	if len(snap.Transactions) != 0 {
		t.Fatal("failed write reached the remote store")
	}
}

func TestRemoteChanges_FromAnotherDevice(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	a, _ := setupOrchestrator(t, localstore.NewMemory(), rem)
	b, _ := setupOrchestrator(t, localstore.NewMemory(), rem)

	for _, o := range []*Orchestrator{a, b} {
		if err := o.Login(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		flush(t, o)
		waitSynced(t, o)
	}

	b.Dispatch(state.AddTask{Task: task("k1", schema.Poultry)})
	name := "Shared Farm"
	b.Dispatch(state.UpdateSettings{Patch: schema.SettingsPatch{FarmName: &name}})
	flush(t, b)

	waitFor(t, "task on device a", func() bool { return len(a.TasksFor(schema.Poultry)) == 1 })
	waitFor(t, "settings on device a", func() bool { return a.Settings().FarmName == name })

	if a.Settings().Currency != "$" {
		t.Fatalf("settings merge lost fields: %+v", a.Settings())
	}
}

func TestLogout_NoCallbacksAfterReturn(t *testing.T) {
	ctx := context.Background()
	local := localstore.NewMemory()
	rem := remote.NewMemory()
	o, _ := setupOrchestrator(t, local, rem)

	var mu sync.Mutex
	changes := 0
	o.OnChange(func(schema.State) {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)
	waitFor(t, "subscription", func() bool { return rem.Subscribers("u1") == 1 })

	o.Logout()
	if rem.Subscribers("u1") != 0 {
		t.Fatal("subscription still open after Logout")
	}
	mu.Lock()
	before := changes
	mu.Unlock()
	stateBefore := o.State()

	if err := rem.Commit(ctx, "u1", (&remote.Batch{}).SetTransaction(tx("late", schema.Dairy, 1))); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	after := changes
	mu.Unlock()
	if after != before {
		t.Fatalf("%d callbacks after Logout", after-before)
	}
	if len(o.State().Transactions) != len(stateBefore.Transactions) {
		t.Fatal("state changed after Logout")
	}

	// Local persistence resumes.
	if o.Backend() != "local" || o.UID() != "" {
		t.Fatalf("Backend()=%s UID()=%q", o.Backend(), o.UID())
	}
	o.Dispatch(state.AddTransaction{Transaction: tx("offline", schema.Dairy, 1)})
	flush(t, o)
	snap, err := local.Load(ctx)
	if err != nil || len(snap.Transactions) != 1 {
		t.Fatalf("local store after logout = %+v, %v", snap, err)
	}
}

// gatedStore blocks Snapshot until released and records commit order.
type gatedStore struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	commits []int
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Memory:  remote.NewMemory(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Snapshot(ctx context.Context, uid string) (schema.Snapshot, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Memory.Snapshot(ctx, uid)
}

func (g *gatedStore) Commit(ctx context.Context, uid string, b *remote.Batch) error {
	g.mu.Lock()
	g.commits = append(g.commits, b.Len())
	g.mu.Unlock()
	return g.Memory.Commit(ctx, uid, b)
}

func TestLogin_CloudSyncingAndWriteOrdering(t *testing.T) {
	ctx := context.Background()
	local := seedLocal(t, schema.Snapshot{
		Transactions: []schema.Transaction{tx("l1", schema.Dairy, 1), tx("l2", schema.Dairy, 2)},
	})
	rem := newGatedStore()
	o, _ := setupOrchestrator(t, local, rem)

	if err := o.Login(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rem.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("merge never started")
	}
	if !o.IsCloudSyncing() {
		t.Fatal("IsCloudSyncing() = false during merge")
	}

	// Dispatched during the merge: applied now, committed after it.
	o.Dispatch(state.AddTransaction{Transaction: tx("during", schema.Poultry, 3)})
	if len(o.TransactionsFor(schema.Poultry)) != 1 {
		t.Fatal("dispatch during merge not applied to memory")
	}
	if rem.Subscribers("u1") != 0 {
		t.Fatal("subscribed before merge finished")
	}

	close(rem.release)
	flush(t, o)

	if o.IsCloudSyncing() {
		t.Fatal("IsCloudSyncing() = true after merge")
	}
	rem.mu.Lock()
	commits := append([]int(nil), rem.commits...)
	rem.mu.Unlock()
	if len(commits) != 2 || commits[0] != 2 || commits[1] != 1 {
		t.Fatalf("commit sizes = %v, want merge [2] then write [1]", commits)
	}
	waitFor(t, "merged view", func() bool { return len(o.State().Transactions) == 3 })
}

func TestLogin_Errors(t *testing.T) {
	ctx := context.Background()

	o, _ := setupOrchestrator(t, localstore.NewMemory(), nil)
	if err := o.Login(ctx, "u1"); !errors.Is(err, ErrNoRemote) {
		t.Fatalf("Login without remote = %v", err)
	}

	o2, _ := setupOrchestrator(t, localstore.NewMemory(), remote.NewMemory())
	if err := o2.Login(ctx, ""); !errors.Is(err, remote.ErrNoIdentity) {
		t.Fatalf("Login with empty uid = %v", err)
	}

	_ = o2.Close()
	if err := o2.Login(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Login after Close = %v", err)
	}
	if err := o2.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close = %v", err)
	}
	if err := o2.Flush(ctx); err != nil {
		t.Fatalf("Flush after Close = %v", err)
	}
}

func TestLogin_SwitchUser(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	if err := rem.Commit(ctx, "bob", (&remote.Batch{}).SetTask(task("bob-task", schema.Dairy))); err != nil {
		t.Fatal(err)
	}
	o, _ := setupOrchestrator(t, localstore.NewMemory(), rem)

	if err := o.Login(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)
	if err := o.Login(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	flush(t, o)

	if rem.Subscribers("alice") != 0 {
		t.Fatal("alice's subscription survived the switch")
	}
	waitFor(t, "bob's tasks", func() bool { return len(o.TasksFor("")) == 1 })
}

func TestLogin_SwitchUserDropsPreviousRecords(t *testing.T) {
	ctx := context.Background()
	rem := remote.NewMemory()
	if err := rem.Commit(ctx, "alice", (&remote.Batch{}).SetTransaction(tx("a1", schema.Dairy, 10))); err != nil {
		t.Fatal(err)
	}
	o, _ := setupOrchestrator(t, localstore.NewMemory(), rem)

	if err := o.Login(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := o.WaitSynced(ctx); err != nil {
		t.Fatalf("WaitSynced() = %v", err)
	}
	if len(o.TransactionsFor(schema.Dairy)) != 1 {
		t.Fatal("alice's transaction not loaded")
	}

	var seen []schema.State
	var mu sync.Mutex
	o.OnChange(func(s schema.State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	if err := o.Login(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if got := o.State().Transactions; len(got) != 0 {
		t.Fatalf("alice's records still in memory after switching: %+v", got)
	}
	mu.Lock()
	if len(seen) == 0 || len(seen[0].Transactions) != 0 {
		t.Errorf("listeners not told about the reset: %d states", len(seen))
	}
	mu.Unlock()

	o.Dispatch(state.UpdateTransaction{Transaction: tx("a1", schema.Dairy, 99)})
	flush(t, o)

	bob, err := rem.Snapshot(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bob.Transactions) != 0 {
		t.Fatalf("bob's store received %+v", bob.Transactions)
	}
	alice, _ := rem.Snapshot(ctx, "alice")
	if len(alice.Transactions) != 1 || !alice.Transactions[0].Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("alice's store changed: %+v", alice.Transactions)
	}
}

func TestMergeOnce_ConcurrentCallsCommitOnce(t *testing.T) {
	ctx := context.Background()
	local := seedLocal(t, schema.Snapshot{
		Transactions: []schema.Transaction{tx("a", schema.Dairy, 1)},
	})
	rem := remote.NewMemory()
	o, _ := setupOrchestrator(t, local, rem)
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}

	sess := newSession("u1", 1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.mergeOnce(ctx, sess)
		}()
	}
	wg.Wait()

	if rem.Commits() != 1 {
		t.Fatalf("remote commits = %d, want 1", rem.Commits())
	}
	if o.IsCloudSyncing() {
		t.Fatal("still syncing after the merge returned")
	}
}

func TestRun_FollowsIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rem := remote.NewMemory()
	o, _ := setupOrchestrator(t, localstore.NewMemory(), rem)
	src := identity.NewManual("")

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, src) }()

	src.Set("u1")
	waitFor(t, "login", func() bool { return o.UID() == "u1" })
	flush(t, o)
	waitFor(t, "subscription", func() bool { return rem.Subscribers("u1") == 1 })

	src.Set("")
	waitFor(t, "logout", func() bool { return o.UID() == "" })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClose_DrainsWrites(t *testing.T) {
	local := localstore.NewMemory()
	notices := &noticeLog{}
	o, err := NewWithConfig(local, nil, &Config{Logger: log.New(io.Discard, "", 0), Notifier: notices})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		o.Dispatch(state.AddTask{Task: task(schema.NewID(), schema.General)})
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	snap, err := local.Load(context.Background())
	if err != nil || len(snap.Tasks) != 50 {
		t.Fatalf("after Close local holds %d tasks, err=%v", len(snap.Tasks), err)
	}
	if o.PendingWrites() != 0 {
		t.Fatalf("PendingWrites() = %d", o.PendingWrites())
	}
}

func TestNew_RequiresLocal(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil local store")
	}
}

// noFeedStore refuses subscriptions.
type noFeedStore struct{ *remote.Memory }

var errNoFeed = errors.New("change feed unavailable")

func (noFeedStore) Subscribe(context.Context, string, remote.Handler) (remote.Subscription, error) {
	return nil, errNoFeed
}

func TestWaitSynced(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("logged out", func(t *testing.T) {
		o, _ := setupOrchestrator(t, localstore.NewMemory(), remote.NewMemory())
		if err := o.WaitSynced(ctx); err != nil {
			t.Fatalf("WaitSynced() = %v", err)
		}
	})

	t.Run("remote contents applied", func(t *testing.T) {
		rem := remote.NewMemory()
		name := "Cloud Farm"
		seed := (&remote.Batch{}).
			SetTransaction(tx("r1", schema.Poultry, 3)).
			SetTask(task("k1", schema.General)).
			MergeSettings(&schema.SettingsPatch{FarmName: &name})
		if err := rem.Commit(ctx, "u1", seed); err != nil {
			t.Fatal(err)
		}

		o, _ := setupOrchestrator(t, localstore.NewMemory(), rem)
		if err := o.Login(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		if err := o.WaitSynced(ctx); err != nil {
			t.Fatalf("WaitSynced() = %v", err)
		}
		s := o.State()
		if len(s.Transactions) != 1 || len(s.Tasks) != 1 || s.Settings.FarmName != name {
			t.Fatalf("state after WaitSynced = %+v", s)
		}
	})

	t.Run("subscribe fails", func(t *testing.T) {
		o, notices := setupOrchestrator(t, localstore.NewMemory(), noFeedStore{remote.NewMemory()})
		if err := o.Login(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		if err := o.WaitSynced(ctx); !errors.Is(err, errNoFeed) {
			t.Fatalf("WaitSynced() = %v, want %v", err, errNoFeed)
		}
		if _, ok := notices.find("subscribe"); !ok {
			t.Fatal("no subscribe notice")
		}
	})

	t.Run("logout releases the session", func(t *testing.T) {
		rem := newGatedStore()
		o, _ := setupOrchestrator(t, localstore.NewMemory(), rem)
		defer close(rem.release)

		if err := o.Login(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		<-rem.entered

		o.mu.Lock()
		sess := o.session
		o.mu.Unlock()
		o.Logout()

		select {
		case <-sess.ready:
			if sess.readyErr == nil {
				t.Fatal("ended session reported as synced")
			}
		case <-ctx.Done():
			t.Fatal("session not released by Logout")
		}
		if err := o.WaitSynced(ctx); err != nil {
			t.Fatalf("WaitSynced() after Logout = %v", err)
		}
	})
}
