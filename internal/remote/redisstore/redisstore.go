// Package redisstore implements remote.DocumentStore on Redis.
//
// Layout, per user:
//
//	farmbook:user:{uid}               hash  settings field -> value
//	farmbook:user:{uid}:transactions  hash  id -> transaction JSON
//	farmbook:user:{uid}:tasks         hash  id -> task JSON
//	farmbook:user:{uid}:changes       pub/sub channel, payload = collection name
//
// A batch runs as one MULTI/EXEC transaction that also publishes the touched
// collections. Subscribers re-read a collection when its name is published.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/schema"
)

const keyPrefix = "farmbook:user:"

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Logger for subscription errors
	Logger *log.Logger
}

// Store is a remote.DocumentStore backed by a Redis client.
type Store struct {
	rdb    *redis.Client
	logger *log.Logger
}

var _ remote.DocumentStore = (*Store)(nil)

// Open connects to Redis and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg.Logger), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{rdb: rdb, logger: logger}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func settingsKey(uid string) string { return keyPrefix + uid }

func collectionKey(uid string, c remote.Collection) string {
	if c == remote.SettingsDoc {
		return settingsKey(uid)
	}
	return keyPrefix + uid + ":" + string(c)
}

func changesChannel(uid string) string { return keyPrefix + uid + ":changes" }

// Snapshot implements remote.DocumentStore.
func (s *Store) Snapshot(ctx context.Context, uid string) (schema.Snapshot, error) {
	if uid == "" {
		return schema.Snapshot{}, remote.ErrNoIdentity
	}

	var snap schema.Snapshot
	for _, c := range remote.AllCollections {
		part, err := s.read(ctx, uid, c)
		if err != nil {
			return schema.Snapshot{}, err
		}
		switch c {
		case remote.SettingsDoc:
			snap.Settings = part.Settings
		case remote.Transactions:
			snap.Transactions = part.Transactions
		case remote.Tasks:
			snap.Tasks = part.Tasks
		}
	}
	return snap, nil
}

// read loads one collection into the matching part of a snapshot.
func (s *Store) read(ctx context.Context, uid string, c remote.Collection) (schema.Snapshot, error) {
	var snap schema.Snapshot

	fields, err := s.rdb.HGetAll(ctx, collectionKey(uid, c)).Result()
	if err != nil {
		return snap, fmt.Errorf("failed to read %s for %s: %w", c, uid, err)
	}

	switch c {
	case remote.SettingsDoc:
		if len(fields) > 0 {
			snap.Settings = schema.PatchFromFields(fields)
		}

	case remote.Transactions:
		snap.Transactions = make([]schema.Transaction, 0, len(fields))
		for id, raw := range fields {
			var tx schema.Transaction
			if err := json.Unmarshal([]byte(raw), &tx); err != nil {
				return snap, fmt.Errorf("failed to parse transaction %s: %w", id, err)
			}
			snap.Transactions = append(snap.Transactions, tx)
		}
		remote.SortTransactions(snap.Transactions)

	case remote.Tasks:
		snap.Tasks = make([]schema.Task, 0, len(fields))
		for id, raw := range fields {
			var t schema.Task
			if err := json.Unmarshal([]byte(raw), &t); err != nil {
				return snap, fmt.Errorf("failed to parse task %s: %w", id, err)
			}
			snap.Tasks = append(snap.Tasks, t)
		}
		remote.SortTasks(snap.Tasks)
	}
	return snap, nil
}

// Commit implements remote.DocumentStore.
func (s *Store) Commit(ctx context.Context, uid string, b *remote.Batch) error {
	if uid == "" {
		return remote.ErrNoIdentity
	}
	if b.Len() == 0 {
		return nil
	}

	// Encode first so a bad document never leaves a half-queued pipeline.
	type encoded struct {
		op  remote.Op
		doc string
	}
	ops := make([]encoded, 0, len(b.Ops))
	for _, op := range b.Ops {
		e := encoded{op: op}
		switch op.Kind {
		case remote.OpSetTransaction:
			data, err := json.Marshal(op.Transaction)
			if err != nil {
				return fmt.Errorf("failed to marshal transaction %s: %w", op.ID, err)
			}
			e.doc = string(data)
		case remote.OpSetTask:
			data, err := json.Marshal(op.Task)
			if err != nil {
				return fmt.Errorf("failed to marshal task %s: %w", op.ID, err)
			}
			e.doc = string(data)
		}
		ops = append(ops, e)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range ops {
			key := collectionKey(uid, e.op.Kind.Collection())
			switch e.op.Kind {
			case remote.OpSetTransaction, remote.OpSetTask:
				pipe.HSet(ctx, key, e.op.ID, e.doc)
			case remote.OpDeleteTransaction, remote.OpDeleteTask:
				pipe.HDel(ctx, key, e.op.ID)
			case remote.OpMergeSettings:
				fields := e.op.Settings.Fields()
				values := make([]interface{}, 0, len(fields)*2)
				for k, v := range fields {
					values = append(values, k, v)
				}
				pipe.HSet(ctx, key, values...)
			}
		}
		for _, c := range b.Touched() {
			pipe.Publish(ctx, changesChannel(uid), string(c))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit batch for %s: %w", uid, err)
	}
	return nil
}

// Subscribe implements remote.DocumentStore.
//
// The channel subscription is confirmed before the initial collections are
// read, so no commit between the two is missed.
func (s *Store) Subscribe(ctx context.Context, uid string, h remote.Handler) (remote.Subscription, error) {
	if uid == "" {
		return nil, remote.ErrNoIdentity
	}

	ps := s.rdb.Subscribe(ctx, changesChannel(uid))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to changes for %s: %w", uid, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{ps: ps, cancel: cancel}
	sub.wg.Add(1)
	go s.deliver(subCtx, uid, ps, h, &sub.wg)
	return sub, nil
}

func (s *Store) deliver(ctx context.Context, uid string, ps *redis.PubSub, h remote.Handler, wg *sync.WaitGroup) {
	defer wg.Done()

	emit := func(c remote.Collection) {
		snap, err := s.read(ctx, uid, c)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("Warning: %v", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		h(remote.Change{Collection: c, Snapshot: snap})
	}

	for _, c := range remote.AllCollections {
		emit(c)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			emit(remote.Collection(msg.Payload))
		}
	}
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Close implements remote.Subscription.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
	})
	s.wg.Wait()
	return err
}
