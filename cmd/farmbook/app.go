package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kpfarm/farmbook/internal/config"
	"github.com/kpfarm/farmbook/internal/identity"
	"github.com/kpfarm/farmbook/internal/localstore/sqlite"
	"github.com/kpfarm/farmbook/internal/metrics"
	"github.com/kpfarm/farmbook/internal/remote"
	"github.com/kpfarm/farmbook/internal/remote/pgstore"
	"github.com/kpfarm/farmbook/internal/remote/redisstore"
	"github.com/kpfarm/farmbook/internal/syncer"
	"github.com/kpfarm/farmbook/internal/ui"
)

// syncTimeout bounds how long a one-shot command waits for the cloud.
const syncTimeout = 15 * time.Second

// app is an opened farm book: local store, optional remote store and the
// orchestrator in front of them.
type app struct {
	cfg     *config.Config
	local   *sqlite.Store
	remote  remote.DocumentStore
	orch    *syncer.Orchestrator
	metrics *metrics.Metrics
	closers []func() error
}

type appOptions struct {
	// login follows the session file once at open
	login bool
	// notifier receives notices in addition to the terminal printer
	notifier syncer.Notifier
	// metrics replaces the private registry, e.g. to share it with a server
	metrics *metrics.Metrics
}

// openApp opens the stores named by cfg, hydrates the orchestrator and, when
// a session file names a user, logs in and waits for the cloud copy.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	local, err := sqlite.Open(cfg.DBPath(), cfg.Slot)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, local: local, metrics: opts.metrics}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	a.closers = append(a.closers, local.Close)

	rem, closeRemote, err := openRemote(ctx, cfg)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.remote = rem
	if closeRemote != nil {
		a.closers = append(a.closers, closeRemote)
	}

	notifier := syncer.MultiNotifier{syncer.NotifierFunc(printNotice)}
	if opts.notifier != nil {
		notifier = append(notifier, opts.notifier)
	}
	orch, err := syncer.NewWithConfig(local, rem, &syncer.Config{
		Logger:   logOut.Logger("sync"),
		Notifier: notifier,
		Metrics:  a.metrics,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.orch = orch

	if err := orch.Start(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	if opts.login && rem != nil {
		uid, err := identity.ReadSession(cfg.SessionPath())
		if err != nil {
			_ = a.close(ctx)
			return nil, err
		}
		if uid != "" {
			if err := a.login(ctx, uid); err != nil {
				_ = a.close(ctx)
				return nil, err
			}
		}
	}
	return a, nil
}

// openRemote opens the configured cloud store. It returns a nil store for
// the "none" driver.
func openRemote(ctx context.Context, cfg *config.Config) (remote.DocumentStore, func() error, error) {
	switch cfg.Remote.Driver {
	case config.DriverRedis:
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Remote.Redis.Addr,
			Password: cfg.Remote.Redis.Password,
			DB:       cfg.Remote.Redis.DB,
			Logger:   logOut.Logger("redis"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverPostgres:
		s, err := pgstore.Open(ctx, pgstore.Config{
			DSN:      cfg.Remote.Postgres.DSN,
			MaxConns: cfg.Remote.Postgres.MaxConns,
			Logger:   logOut.Logger("postgres"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	}
	return nil, nil, nil
}

// login switches to the cloud for uid and waits for its contents.
func (a *app) login(ctx context.Context, uid string) error {
	if err := a.orch.Login(ctx, uid); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	if err := a.orch.WaitSynced(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("cloud store did not answer within %s", syncTimeout)
		}
		return err
	}
	return nil
}

// close flushes queued writes and releases every store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.orch != nil {
		flushCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		if err := a.orch.Flush(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush writes: %w", err))
		}
		cancel()
		errs = append(errs, a.orch.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// withApp opens the app for a one-shot command, runs fn and closes the app.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, cfg, appOptions{login: true})
	if err != nil {
		return err
	}
	runErr := fn(a)
	closeErr := a.close(ctx)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func printNotice(n syncer.Notice) {
	switch n.Level {
	case syncer.LevelInfo:
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderPass("✓"), n.Message)
	case syncer.LevelWarn:
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), noticeText(n))
	default:
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), noticeText(n))
	}
}

func noticeText(n syncer.Notice) string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %v", n.Message, n.Err)
	}
	return n.Message
}
