package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/config"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/health"
	"github.com/vietddude/logsync/internal/indexing/rescan"
	"github.com/vietddude/logsync/internal/indexing/syncer"
	"github.com/vietddude/logsync/internal/indexing/tail"
	"github.com/vietddude/logsync/internal/indexing/throttle"
	"github.com/vietddude/logsync/internal/infra/chain"
	"github.com/vietddude/logsync/internal/infra/chain/evm"
	redisclient "github.com/vietddude/logsync/internal/infra/redis"
	"github.com/vietddude/logsync/internal/infra/rpc"
	"github.com/vietddude/logsync/internal/infra/storage"
	"github.com/vietddude/logsync/internal/infra/storage/memory"
	"github.com/vietddude/logsync/internal/infra/storage/pebble"
	"github.com/vietddude/logsync/internal/infra/storage/sqlstore"
)

// Watcher is the daemon: it owns the engine and every background task.
type Watcher struct {
	cfg           *config.AppConfig
	engine        *Engine
	store         storage.Store
	db            *sqlstore.DB
	rpcClient     *rpc.Client
	redisClient   *redisclient.Client
	pollers       []*tail.Poller
	rescanWorkers []*rescan.Worker
	healthServer  *health.Server
	log           *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Components are the parts shared by the daemon and one-shot commands.
type Components struct {
	Engine    *Engine
	Store     storage.Store
	DB        *sqlstore.DB
	RPCClient *rpc.Client
	Redis     *redisclient.Client
}

// Close releases every resource.
func (c *Components) Close() error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.RPCClient != nil {
		errs = append(errs, c.RPCClient.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens the storage backend selected by cfg. db is non-nil for
// SQL backends.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, *sqlstore.DB, error) {
	switch {
	case cfg.Driver == config.DriverMemory:
		slog.Info("Using memory storage")
		return memory.NewMemoryStorage(), nil, nil
	case cfg.Driver == config.DriverPebble:
		store, err := pebble.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using pebble storage", "path", cfg.Path)
		return store, nil, nil
	case cfg.IsSQL():
		store, err := sqlstore.Open(ctx, cfg.SQL())
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using SQL storage", "driver", cfg.Driver)
		return store, store.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewRPCClient builds the provider client from the chain settings.
func NewRPCClient(cfg config.ChainConfig) *rpc.Client {
	providers := make([]rpc.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, rpc.NewHTTPProvider(p.Name, p.URL, cfg.RequestTimeout))
	}

	retry := rpc.DefaultRetryConfig
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	return rpc.NewClient(rpc.Config{
		Retry:              retry,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout,
	}, providers...)
}

// NewEngineFromSource assembles an engine over an already built log source.
func NewEngineFromSource(cfg *config.AppConfig, source chain.LogSource, store storage.Store) *Engine {
	channels := make([]domain.Channel, 0, len(cfg.Channels))
	addresses := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels = append(channels, domain.Channel{Address: ch.Address, LowerBound: ch.LowerBound})
		addresses = append(addresses, ch.Address)
	}

	registry := channelstate.NewRegistry()
	registry.SetStateChangeCallback(func(channel string, t channelstate.Transition) {
		slog.Debug("Channel state changed", "channel", channel, "from", t.From, "to", t.To, "reason", t.Reason)
	})

	driver := syncer.New(
		syncer.Config{
			ChunkSize:       cfg.Sync.ChunkSize,
			MaxLookback:     cfg.Sync.MaxLookback,
			InterChunkDelay: cfg.Sync.InterChunkDelay,
			ChunkTimeout:    cfg.Sync.ChunkTimeout,
		},
		source,
		throttle.NewHeadCache(source, cfg.Sync.HeadCacheTTL),
		store,
		registry,
		syncer.NewResolver(cfg.Chain.GlobalChannel, channels),
	)
	return NewEngine(driver, store, registry, addresses)
}

// Open builds the engine and its resources from cfg.
func Open(ctx context.Context, cfg *config.AppConfig) (*Components, error) {
	store, db, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	client := NewRPCClient(cfg.Chain)
	source := evm.NewEVMAdapter(client, cfg.Chain.MaxBlockSpan)

	c := &Components{
		Engine:    NewEngineFromSource(cfg, source, store),
		Store:     store,
		DB:        db,
		RPCClient: client,
	}

	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, gap queue disabled", "error", err)
		} else {
			c.Redis = rc
			c.Engine.SetGapQueue(rc)
		}
	}
	return c, nil
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig) (*Watcher, error) {
	c, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newWatcher(cfg, c), nil
}

func newWatcher(cfg *config.AppConfig, c *Components) *Watcher {
	w := &Watcher{
		cfg:         cfg,
		engine:      c.Engine,
		store:       c.Store,
		db:          c.DB,
		rpcClient:   c.RPCClient,
		redisClient: c.Redis,
		log:         slog.Default().With("component", "watcher"),
	}

	for _, ch := range cfg.Channels {
		if !ch.TailEnabled(cfg.Tail) {
			continue
		}
		var adaptive *throttle.AdaptiveController
		if cfg.Tail.Adaptive {
			adaptive = throttle.NewAdaptiveController(cfg.Tail.Interval, throttle.DefaultConfig())
		}
		w.pollers = append(w.pollers, tail.NewPoller(ch.Address, c.Engine, cfg.Tail.Interval, adaptive))
	}

	if cfg.Rescan.Enabled && c.Redis != nil {
		rcfg := rescan.WorkerConfig{
			LockTTL:    cfg.Rescan.LockTTL,
			EmptySleep: cfg.Rescan.EmptySleep,
		}
		for _, ch := range cfg.Channels {
			w.rescanWorkers = append(w.rescanWorkers, rescan.NewWorker(rcfg, ch.Address, c.Redis, c.Engine))
		}
	}

	monitor := health.NewMonitor(c.Engine, health.MonitorConfig{CriticalLag: cfg.Sync.MaxLookback})
	w.healthServer = health.NewServer(c.Engine, monitor, fmt.Sprintf(":%d", cfg.Server.Port))
	return w
}

// Engine returns the watcher's engine.
func (w *Watcher) Engine() *Engine {
	return w.engine
}

// Start starts every background task and returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.spawn("api server", func() error { return w.healthServer.Start(ctx) })

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	w.spawn("initial sync", func() error { return w.syncOnStart(ctx) })

	for _, p := range w.pollers {
		w.spawn("tail poller", func() error { return p.Start(ctx) })
	}
	for _, rw := range w.rescanWorkers {
		w.spawn("rescan worker", func() error { return rw.Run(ctx) })
	}

	w.log.Info("Watcher started",
		"channels", len(w.cfg.Channels),
		"pollers", len(w.pollers),
		"rescan_workers", len(w.rescanWorkers),
	)
	return nil
}

func (w *Watcher) spawn(name string, fn func() error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := fn(); err != nil {
			w.log.Error("Background task failed", "task", name, "error", err)
		}
	}()
}

// syncOnStart runs one full synchronize per channel flagged sync_on_start,
// channels in parallel. A failing channel does not cancel the others.
func (w *Watcher) syncOnStart(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range w.cfg.Channels {
		if !ch.SyncOnStart {
			continue
		}
		g.Go(func() error {
			res, err := w.engine.Synchronize(ctx, ch.Address, domain.TipAndBackfill(), nil)
			if errors.Is(err, channelstate.ErrAlreadyRunning) {
				return nil
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("initial sync %s: %w", ch.Address, err))
				mu.Unlock()
				return nil
			}
			w.log.Info("Initial sync finished", "channel", ch.Address, "state", res.State, "added", res.MessagesAdded)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop cancels every task, waits for them and releases resources.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	if w.cancel != nil {
		w.cancel()
	}
	for _, p := range w.pollers {
		p.Stop()
	}

	var errs []error
	if err := w.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop api server: %w", err))
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for tasks: %w", ctx.Err()))
	}

	c := Components{Store: w.store, RPCClient: w.rpcClient, Redis: w.redisClient}
	if err := c.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
