package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kpfarm/farmbook/internal/identity"
	"github.com/kpfarm/farmbook/internal/localstore"
	"github.com/kpfarm/farmbook/internal/metrics"
	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/state"
)

var (
	// ErrClosed is returned by operations on a closed Orchestrator.
	ErrClosed = errors.New("orchestrator is closed")

	// ErrNoRemote is returned by Login when no remote store is configured.
	ErrNoRemote = errors.New("no remote store configured")
)

// Config holds configuration for the orchestrator.
type Config struct {
	// Logger for sync activity
	Logger *log.Logger

	// Notifier receives user-facing notices. When nil they are only logged.
	Notifier Notifier

	// Metrics records counters and gauges. May be nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// session is one login, from an absent→present identity transition to the
// next logout.
type session struct {
	uid string
	gen uint64

	merged atomic.Bool

	// ready closes once every collection has been delivered, or when the
	// session fails or ends; readyErr is set before the close.
	ready     chan struct{}
	readyErr  error
	readyOnce sync.Once

	// Guarded by Orchestrator.mu.
	sub    remote.Subscription
	seen   map[remote.Collection]bool
	closed bool
}

func newSession(uid string, gen uint64) *session {
	return &session{
		uid:   uid,
		gen:   gen,
		ready: make(chan struct{}),
		seen:  make(map[remote.Collection]bool, len(remote.AllCollections)),
	}
}

func (s *session) markReady(err error) {
	s.readyOnce.Do(func() {
		s.readyErr = err
		close(s.ready)
	})
}

// Orchestrator owns the application state and every backend write.
//
// Dispatch applies an action synchronously and queues the persistence of the
// result on a single background writer, so backend writes happen in dispatch
// order and callers never wait for I/O.
type Orchestrator struct {
	local  localstore.Store
	remote remote.DocumentStore
	config *Config

	ctx    context.Context
	cancel context.CancelFunc
	writer *writer

	startMu sync.Mutex
	syncing atomic.Bool
	changes atomic.Int64

	mu        sync.Mutex
	st        schema.State
	hydrated  bool
	closed    bool
	backend   backend
	session   *session
	gen       uint64
	listeners []func(schema.State)
}

// New creates an orchestrator with default configuration.
//
// remoteStore may be nil, in which case Login always fails with ErrNoRemote.
// Call Start to hydrate from the local store and Close when done.
func New(local localstore.Store, remoteStore remote.DocumentStore) (*Orchestrator, error) {
	return NewWithConfig(local, remoteStore, DefaultConfig())
}

// NewWithConfig creates an orchestrator with custom configuration.
func NewWithConfig(local localstore.Store, remoteStore remote.DocumentStore, config *Config) (*Orchestrator, error) {
	if local == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		local:   local,
		remote:  remoteStore,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		writer:  newWriter(),
		st:      schema.DefaultState(),
		backend: localBackend{store: local},
	}
	o.writer.start(ctx)
	return o, nil
}

// Start hydrates the in-memory state from the local store. It runs once;
// later calls return immediately.
//
// A local store that cannot be read is reported as a notice and the state
// hydrates with defaults.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.hydrated {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	snap, err := localstore.LoadOrEmpty(ctx, o.local)
	if err != nil {
		o.notify(LevelWarn, "hydrate", "local data could not be read, starting empty", err)
		snap = schema.Snapshot{}
	}

	o.mu.Lock()
	next := o.applyLocked(state.ReplaceState{Snapshot: snap})
	o.hydrated = true
	listeners := o.listenersLocked()
	o.mu.Unlock()

	o.config.Metrics.SetHydrated(true)
	o.config.Logger.Printf("Hydrated from local store: %d transactions, %d tasks",
		len(next.Transactions), len(next.Tasks))
	emit(listeners, next)
	return nil
}

// Dispatch applies action to the in-memory state and queues its persistence
// on the active backend. It never blocks on I/O; backend failures become
// notices and the in-memory change is kept.
//
// Before hydration the change is applied but not persisted.
func (o *Orchestrator) Dispatch(action state.Action) {
	if action == nil {
		return
	}

	o.mu.Lock()
	prev := o.st
	next := o.applyLocked(action)
	if o.hydrated && !o.closed {
		b := o.backend
		o.writer.enqueue(func(ctx context.Context) {
			o.write(ctx, b, prev, next, action)
		})
	}
	listeners := o.listenersLocked()
	o.mu.Unlock()

	o.config.Metrics.Dispatched(action.Kind())
	emit(listeners, next)
}

func (o *Orchestrator) write(ctx context.Context, b backend, prev, next schema.State, action state.Action) {
	err := b.persist(ctx, prev, next, action)
	o.config.Metrics.BackendWrite(b.name(), err)
	if err != nil {
		o.notify(LevelWarn, "write:"+action.Kind(), "change kept locally but not saved", err)
	}
}

// Login switches to the remote backend for uid.
//
// On an absent→present transition (or a uid change) the local data is merged
// into the remote store once, on the background writer, and subscriptions
// start after the merge finished. A uid change also resets the in-memory
// state to defaults until the new user's records arrive. Repeated calls with the current uid are
// no-ops. Login returns without waiting for the merge; use Flush to wait.
func (o *Orchestrator) Login(ctx context.Context, uid string) error {
	if uid == "" {
		return remote.ErrNoIdentity
	}
	if o.remote == nil {
		return ErrNoRemote
	}
	if err := o.Start(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.session != nil && o.session.uid == uid {
		o.mu.Unlock()
		return nil
	}
	// Switching users directly drops the previous user's records so none of
	// them can be written into the new user's store.
	switched := o.session != nil
	old := o.detachLocked()
	var listeners []func(schema.State)
	var next schema.State
	if switched {
		next = o.applyLocked(state.ReplaceState{})
		listeners = o.listenersLocked()
	}

	o.gen++
	sess := newSession(uid, o.gen)
	o.session = sess
	o.backend = remoteBackend{uid: uid, store: o.remote}
	o.writer.enqueue(func(ctx context.Context) {
		o.runSession(ctx, sess)
	})
	o.mu.Unlock()

	closeSubscription(old)
	if switched {
		emit(listeners, next)
	}
	o.config.Metrics.SetLoggedIn(true)
	o.config.Logger.Printf("Logged in as %s", uid)
	return nil
}

// Logout closes every remote subscription and switches back to the local
// backend. No subscription callback affects the state after Logout returns.
// The in-memory state is kept as last observed.
func (o *Orchestrator) Logout() {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return
	}
	uid := o.session.uid
	sub := o.detachLocked()
	o.mu.Unlock()

	closeSubscription(sub)
	o.config.Metrics.SetLoggedIn(false)
	o.config.Logger.Printf("Logged out %s, persisting locally", uid)
}

// detachLocked ends the current session and returns its subscription, which
// the caller must close after releasing o.mu.
func (o *Orchestrator) detachLocked() remote.Subscription {
	sess := o.session
	if sess == nil {
		return nil
	}
	sess.closed = true
	sess.markReady(fmt.Errorf("session for %s ended before it synced", sess.uid))
	sub := sess.sub
	sess.sub = nil
	o.session = nil
	o.backend = localBackend{store: o.local}
	return sub
}

func closeSubscription(sub remote.Subscription) {
	if sub != nil {
		_ = sub.Close()
	}
}

// runSession merges local data and then subscribes. It runs on the writer so
// it is ordered with every write dispatched around the login.
func (o *Orchestrator) runSession(ctx context.Context, sess *session) {
	if !o.isCurrent(sess) {
		return
	}
	o.mergeOnce(ctx, sess)
	o.subscribe(sess)
}

func (o *Orchestrator) isCurrent(sess *session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session == sess && !sess.closed
}

// mergeOnce runs the login merge at most once per session. Each
// absent→present transition creates a new session, so every transition gets
// exactly one merge.
func (o *Orchestrator) mergeOnce(ctx context.Context, sess *session) {
	if !sess.merged.CompareAndSwap(false, true) {
		return
	}
	o.setSyncing(true)
	n, err := o.merge(ctx, sess.uid)
	o.setSyncing(false)

	o.config.Metrics.Merge(err)
	if err != nil {
		o.notify(LevelWarn, "merge", "local data was not merged into the cloud", err)
		return
	}
	if n > 0 {
		o.notify(LevelInfo, "merge", fmt.Sprintf("merged %d local changes into the cloud", n), nil)
	}
}

// merge copies local-only records into the remote store and clears the local
// store. The local store is left untouched when the commit fails, so the next
// login retries.
func (o *Orchestrator) merge(ctx context.Context, uid string) (int, error) {
	local, err := localstore.LoadOrEmpty(ctx, o.local)
	if err != nil {
		return 0, fmt.Errorf("failed to read local store: %w", err)
	}

	remoteSnap, err := o.remote.Snapshot(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to read remote snapshot: %w", err)
	}

	batch := MergeBatch(local, remoteSnap)
	if err := o.remote.Commit(ctx, uid, batch); err != nil {
		return 0, fmt.Errorf("failed to commit merge: %w", err)
	}

	if err := o.local.Clear(ctx); err != nil {
		return batch.Len(), fmt.Errorf("failed to clear local store: %w", err)
	}

	o.config.Logger.Printf("Merged %d local writes into %s", batch.Len(), uid)
	return batch.Len(), nil
}

func (o *Orchestrator) setSyncing(v bool) {
	o.syncing.Store(v)
	o.config.Metrics.SetCloudSyncing(v)
}

// subscribe starts the change feed for sess. The feed outlives this job, so
// it is bound to the orchestrator's lifetime rather than the job's context.
func (o *Orchestrator) subscribe(sess *session) {
	if !o.isCurrent(sess) {
		return
	}

	sub, err := o.remote.Subscribe(o.ctx, sess.uid, func(c remote.Change) {
		o.applyRemote(sess, c)
	})
	if err != nil {
		sess.markReady(err)
		o.notify(LevelError, "subscribe", "live updates are unavailable", err)
		return
	}

	o.mu.Lock()
	if sess.closed {
		o.mu.Unlock()
		closeSubscription(sub)
		return
	}
	sess.sub = sub
	o.mu.Unlock()
}

// applyRemote applies one snapshot delivered by the subscription of sess.
// Snapshots from a torn-down session are dropped.
func (o *Orchestrator) applyRemote(sess *session, c remote.Change) {
	o.mu.Lock()
	if o.session != sess || sess.closed {
		o.mu.Unlock()
		return
	}
	switch c.Collection {
	case remote.SettingsDoc, remote.Transactions, remote.Tasks:
	default:
		o.mu.Unlock()
		return
	}
	o.changes.Add(1)
	sess.seen[c.Collection] = true
	synced := len(sess.seen) == len(remote.AllCollections)

	var action state.Action
	switch c.Collection {
	case remote.SettingsDoc:
		if c.Snapshot.Settings.IsEmpty() {
			if synced {
				sess.markReady(nil)
			}
			o.mu.Unlock()
			return
		}
		action = state.UpdateSettings{Patch: *c.Snapshot.Settings}
	case remote.Transactions:
		snap := o.st.Snapshot()
		snap.Transactions = c.Snapshot.Transactions
		action = state.ReplaceState{Snapshot: snap}
	case remote.Tasks:
		snap := o.st.Snapshot()
		snap.Tasks = c.Snapshot.Tasks
		action = state.ReplaceState{Snapshot: snap}
	}

	next := o.applyLocked(action)
	if synced {
		sess.markReady(nil)
	}
	listeners := o.listenersLocked()
	o.mu.Unlock()

	o.config.Metrics.RemoteChange(string(c.Collection))
	emit(listeners, next)
}

// Run drives Login and Logout from src until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, src identity.Source) error {
	ids, err := src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch identity: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case uid, ok := <-ids:
			if !ok {
				return nil
			}
			if uid == "" {
				o.Logout()
				continue
			}
			if err := o.Login(ctx, uid); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				o.notify(LevelError, "login", "could not switch to cloud storage", err)
			}
		}
	}
}

// Flush waits until every write queued so far has been processed.
func (o *Orchestrator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !o.writer.enqueue(func(context.Context) { close(done) }) {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitSynced blocks until the current session has received the initial
// remote contents of every collection. It returns nil at once when no session
// is active, and the subscription error when live updates failed to start.
func (o *Orchestrator) WaitSynced(ctx context.Context) error {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return nil
	}

	select {
	case <-sess.ready:
		return sess.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close logs out, drains queued writes and stops the writer. It is safe to
// call more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	sub := o.detachLocked()
	o.mu.Unlock()

	closeSubscription(sub)
	o.writer.close()
	<-o.writer.done
	o.cancel()
	return nil
}

// OnChange registers fn to be called with the new state after every change.
// Calls happen outside the orchestrator lock, possibly from several
// goroutines.
func (o *Orchestrator) OnChange(fn func(schema.State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// applyLocked reduces action into the state. o.mu must be held.
func (o *Orchestrator) applyLocked(action state.Action) schema.State {
	o.st = state.Reduce(o.st, action)
	return o.st
}

func (o *Orchestrator) listenersLocked() []func(schema.State) {
	if len(o.listeners) == 0 {
		return nil
	}
	return append([]func(schema.State){}, o.listeners...)
}

func emit(listeners []func(schema.State), s schema.State) {
	for _, fn := range listeners {
		fn(s)
	}
}

func (o *Orchestrator) notify(level Level, op, msg string, err error) {
	n := Notice{Level: level, Op: op, Message: msg, Err: err, Time: time.Now()}
	o.config.Logger.Println(n.String())
	o.config.Metrics.Notice(level.String())
	if o.config.Notifier != nil {
		o.config.Notifier.Notify(n)
	}
}
