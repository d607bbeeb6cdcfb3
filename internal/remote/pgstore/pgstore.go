// Package pgstore implements remote.DocumentStore on Postgres.
//
// Each collection is a table keyed by (user_id, id) holding the entity as
// JSONB; settings are one row per field. Schema changes are goose migrations
// embedded in the binary.
//
// A batch commits in one database transaction that also calls pg_notify on
// the farmbook_changes channel with "{uid}:{collection}" per touched
// collection. Subscriptions LISTEN on a dedicated pooled connection.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/schema"
)

//go:embed migrations/*.sql
var migrations embed.FS

// notifyChannel carries "{uid}:{collection}" payloads.
const notifyChannel = "farmbook_changes"

var tables = map[remote.Collection]string{
	remote.SettingsDoc:  "farm_settings",
	remote.Transactions: "farm_transactions",
	remote.Tasks:        "farm_tasks",
}

// Config holds connection settings.
type Config struct {
	DSN      string
	MaxConns int32

	// Logger for migrations and subscription errors
	Logger *log.Logger
}

// Store is a remote.DocumentStore backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ remote.DocumentStore = (*Store)(nil)

// Open connects, pings and migrates the database.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Store{pool: pool, logger: logger}

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(s.logger)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Snapshot implements remote.DocumentStore. The three collections are read
// concurrently.
func (s *Store) Snapshot(ctx context.Context, uid string) (schema.Snapshot, error) {
	if uid == "" {
		return schema.Snapshot{}, remote.ErrNoIdentity
	}

	var snap schema.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Settings, err = s.readSettings(gctx, uid)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Transactions, err = s.readTransactions(gctx, uid)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Tasks, err = s.readTasks(gctx, uid)
		return err
	})
	if err := g.Wait(); err != nil {
		return schema.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) read(ctx context.Context, uid string, c remote.Collection) (schema.Snapshot, error) {
	var snap schema.Snapshot
	var err error
	switch c {
	case remote.SettingsDoc:
		snap.Settings, err = s.readSettings(ctx, uid)
	case remote.Transactions:
		snap.Transactions, err = s.readTransactions(ctx, uid)
	case remote.Tasks:
		snap.Tasks, err = s.readTasks(ctx, uid)
	default:
		err = fmt.Errorf("unknown collection %q", c)
	}
	return snap, err
}

func (s *Store) readSettings(ctx context.Context, uid string) (*schema.SettingsPatch, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, value FROM farm_settings WHERE user_id = $1`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings for %s: %w", uid, err)
	}
	defer rows.Close()

	fields := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		fields[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings for %s: %w", uid, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return schema.PatchFromFields(fields), nil
}

func (s *Store) readTransactions(ctx context.Context, uid string) ([]schema.Transaction, error) {
	out := []schema.Transaction{}
	err := s.readDocs(ctx, "farm_transactions", uid, func(doc []byte) error {
		var tx schema.Transaction
		if err := json.Unmarshal(doc, &tx); err != nil {
			return err
		}
		out = append(out, tx)
		return nil
	})
	return out, err
}

func (s *Store) readTasks(ctx context.Context, uid string) ([]schema.Task, error) {
	out := []schema.Task{}
	err := s.readDocs(ctx, "farm_tasks", uid, func(doc []byte) error {
		var t schema.Task
		if err := json.Unmarshal(doc, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func (s *Store) readDocs(ctx context.Context, table, uid string, fn func([]byte) error) error {
	rows, err := s.pool.Query(ctx, `SELECT id, doc FROM `+table+` WHERE user_id = $1 ORDER BY id`, uid)
	if err != nil {
		return fmt.Errorf("failed to query %s for %s: %w", table, uid, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if err := fn(doc); err != nil {
			return fmt.Errorf("failed to parse %s document %s: %w", table, id, err)
		}
	}
	return rows.Err()
}

// Commit implements remote.DocumentStore.
func (s *Store) Commit(ctx context.Context, uid string, b *remote.Batch) error {
	if uid == "" {
		return remote.ErrNoIdentity
	}
	if b.Len() == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, op := range b.Ops {
			if err := applyOp(ctx, tx, uid, op); err != nil {
				return fmt.Errorf("failed to apply %s %s: %w", op.Kind, op.ID, err)
			}
		}
		for _, c := range b.Touched() {
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, uid+":"+string(c)); err != nil {
				return fmt.Errorf("failed to notify %s: %w", c, err)
			}
		}
		return nil
	})
}

func applyOp(ctx context.Context, tx pgx.Tx, uid string, op remote.Op) error {
	table := tables[op.Kind.Collection()]

	switch op.Kind {
	case remote.OpSetTransaction, remote.OpSetTask:
		var doc interface{} = op.Transaction
		if op.Kind == remote.OpSetTask {
			doc = op.Task
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO `+table+` (user_id, id, doc, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id, id) DO UPDATE SET
				doc = excluded.doc,
				updated_at = excluded.updated_at`,
			uid, op.ID, data)
		return err

	case remote.OpDeleteTransaction, remote.OpDeleteTask:
		_, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1 AND id = $2`, uid, op.ID)
		return err

	case remote.OpMergeSettings:
		for k, v := range op.Settings.Fields() {
			_, err := tx.Exec(ctx, `
				INSERT INTO farm_settings (user_id, field, value, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (user_id, field) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				uid, k, v)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown operation %d", op.Kind)
}

// parsePayload splits a notification payload into user id and collection.
func parsePayload(payload string) (string, remote.Collection, bool) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 || i == len(payload)-1 {
		return "", "", false
	}
	return payload[:i], remote.Collection(payload[i+1:]), true
}

// Subscribe implements remote.DocumentStore.
//
// LISTEN is issued before the initial collections are read, so no commit
// between the two is missed.
func (s *Store) Subscribe(ctx context.Context, uid string, h remote.Handler) (remote.Subscription, error) {
	if uid == "" {
		return nil, remote.ErrNoIdentity
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for changes: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}
	sub.wg.Add(1)
	go s.deliver(subCtx, uid, conn, h, &sub.wg)
	return sub, nil
}

func (s *Store) deliver(ctx context.Context, uid string, conn *pgxpool.Conn, h remote.Handler, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if !conn.Conn().IsClosed() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		}
		conn.Release()
	}()

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

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("Warning: change feed for %s stopped: %v", uid, err)
			}
			return
		}
		who, c, ok := parsePayload(n.Payload)
		if !ok || who != uid {
			continue
		}
		emit(c)
	}
}

type subscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Close implements remote.Subscription.
func (s *subscription) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
