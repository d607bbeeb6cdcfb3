package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/kpfarm/farmbook/internal/schema"
)

type userDocs struct {
	settings     map[string]string
	transactions map[string]schema.Transaction
	tasks        map[string]schema.Task
}

func newUserDocs() *userDocs {
	return &userDocs{
		settings:     make(map[string]string),
		transactions: make(map[string]schema.Transaction),
		tasks:        make(map[string]schema.Task),
	}
}

func (u *userDocs) snapshot(c Collection) schema.Snapshot {
	var snap schema.Snapshot
	switch c {
	case SettingsDoc:
		if len(u.settings) > 0 {
			snap.Settings = schema.PatchFromFields(u.settings)
		}
	case Transactions:
		snap.Transactions = make([]schema.Transaction, 0, len(u.transactions))
		for _, tx := range u.transactions {
			snap.Transactions = append(snap.Transactions, tx)
		}
		SortTransactions(snap.Transactions)
	case Tasks:
		snap.Tasks = make([]schema.Task, 0, len(u.tasks))
		for _, t := range u.tasks {
			snap.Tasks = append(snap.Tasks, t)
		}
		SortTasks(snap.Tasks)
	}
	return snap
}

// Memory is an in-process DocumentStore. Several orchestrators may share one
// Memory to simulate devices of the same user.
type Memory struct {
	mu        sync.Mutex
	users     map[string]*userDocs
	subs      map[string]map[*memorySub]struct{}
	commits   int
	commitErr error
}

var _ DocumentStore = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*userDocs),
		subs:  make(map[string]map[*memorySub]struct{}),
	}
}

func (m *Memory) user(uid string) *userDocs {
	u, ok := m.users[uid]
	if !ok {
		u = newUserDocs()
		m.users[uid] = u
	}
	return u
}

// Snapshot implements DocumentStore.
func (m *Memory) Snapshot(ctx context.Context, uid string) (schema.Snapshot, error) {
	if uid == "" {
		return schema.Snapshot{}, ErrNoIdentity
	}
	if err := ctx.Err(); err != nil {
		return schema.Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(uid)
	return schema.Snapshot{
		Settings:     u.snapshot(SettingsDoc).Settings,
		Transactions: u.snapshot(Transactions).Transactions,
		Tasks:        u.snapshot(Tasks).Tasks,
	}, nil
}

// Commit implements DocumentStore.
func (m *Memory) Commit(ctx context.Context, uid string, b *Batch) error {
	if uid == "" {
		return ErrNoIdentity
	}
	if b.Len() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return fmt.Errorf("failed to commit batch: %w", m.commitErr)
	}

	u := m.user(uid)
	for _, op := range b.Ops {
		switch op.Kind {
		case OpSetTransaction:
			u.transactions[op.ID] = op.Transaction
		case OpDeleteTransaction:
			delete(u.transactions, op.ID)
		case OpSetTask:
			u.tasks[op.ID] = op.Task
		case OpDeleteTask:
			delete(u.tasks, op.ID)
		case OpMergeSettings:
			for k, v := range op.Settings.Fields() {
				u.settings[k] = v
			}
		}
	}
	m.commits++

	for _, c := range b.Touched() {
		change := Change{Collection: c, Snapshot: u.snapshot(c)}
		for sub := range m.subs[uid] {
			sub.push(change)
		}
	}
	return nil
}

// Subscribe implements DocumentStore.
func (m *Memory) Subscribe(ctx context.Context, uid string, h Handler) (Subscription, error) {
	if uid == "" {
		return nil, ErrNoIdentity
	}

	sub := &memorySub{
		owner:   m,
		uid:     uid,
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.subs[uid] == nil {
		m.subs[uid] = make(map[*memorySub]struct{})
	}
	m.subs[uid][sub] = struct{}{}
	u := m.user(uid)
	for _, c := range AllCollections {
		sub.push(Change{Collection: c, Snapshot: u.snapshot(c)})
	}
	m.mu.Unlock()

	sub.wg.Add(1)
	go sub.run()
	return sub, nil
}

// SetCommitError makes every following Commit fail with err until it is reset
// with nil.
func (m *Memory) SetCommitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// Commits returns how many batches committed successfully.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Subscribers returns the number of open subscriptions for uid.
func (m *Memory) Subscribers(uid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[uid])
}

func (m *Memory) unsubscribe(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[sub.uid], sub)
}

// memorySub queues changes without bounds so Commit never blocks on a slow
// handler.
type memorySub struct {
	owner   *Memory
	uid     string
	handler Handler

	mu      sync.Mutex
	pending []Change
	closed  bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *memorySub) push(c Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, c)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if s.closed || len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			c := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			s.handler(c)
		}
	}
}

// Close implements Subscription.
func (s *memorySub) Close() error {
	s.closeOnce.Do(func() {
		s.owner.unsubscribe(s)
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
