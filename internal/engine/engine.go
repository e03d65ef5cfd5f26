// Package engine implements the order-management core: tick-driven trigger
// evaluation, order intake, in-memory caches, and the worker pools that feed
// durable persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"order-enginev1/internal/cache"
	"order-enginev1/internal/feed"
	"order-enginev1/internal/metrics"
	"order-enginev1/internal/model"
	"order-enginev1/internal/notification"
)

// ErrConnectTimeout is returned by Start when the market data feed does not
// become ready within the configured window.
var ErrConnectTimeout = errors.New("engine: feed connect timeout")

// ErrNotRunning is returned by intake operations before Start or after Stop.
var ErrNotRunning = errors.New("engine: not running")

// Feed is the market data connection the engine supervises. *feed.Adapter
// satisfies it.
type Feed interface {
	Connect() error
	Close()
	Ready() bool
	WaitReady(timeout time.Duration) bool
	EnsureSubscribed(token uint32)
	Events() <-chan feed.Event
}

// Config sizes the caches, queues, and worker pools.
type Config struct {
	Exchange string

	TickWorkers int
	DBWorkers   int

	TickQueueSize  int
	JobQueueSize   int
	IndexQueueSize int

	InstrumentCacheSize int
	InstrumentTTL       time.Duration
	TickCacheSize       int
	TickTTL             time.Duration
	OrderCacheSize      int

	SweepInterval  time.Duration
	ConnectTimeout time.Duration
	StopTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.TickWorkers <= 0 {
		c.TickWorkers = runtime.NumCPU() - 1
		if c.TickWorkers < 1 {
			c.TickWorkers = 1
		}
	}
	if c.DBWorkers <= 0 {
		c.DBWorkers = 2
	}
	if c.TickQueueSize <= 0 {
		c.TickQueueSize = 4096
	}
	if c.JobQueueSize <= 0 {
		c.JobQueueSize = 4096
	}
	if c.IndexQueueSize <= 0 {
		c.IndexQueueSize = 1024
	}
	if c.InstrumentCacheSize <= 0 {
		c.InstrumentCacheSize = 1000
	}
	if c.InstrumentTTL <= 0 {
		c.InstrumentTTL = 24 * time.Hour
	}
	if c.TickCacheSize <= 0 {
		c.TickCacheSize = 5000
	}
	if c.TickTTL <= 0 {
		c.TickTTL = 5 * time.Minute
	}
	if c.OrderCacheSize <= 0 {
		c.OrderCacheSize = 10000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}

// Deps are the engine's collaborators. Feed, Placer, Resolver, Store, and
// Persister are required; everything else is optional.
type Deps struct {
	Feed      Feed
	Placer    model.OrderPlacer
	Resolver  model.TokenResolver
	Store     model.OrderStore
	Persister model.JobApplier
	Prices    model.PricePublisher

	// TickQueue, when set, is the channel the feed adapter already writes
	// into. Left nil, the engine allocates its own (tests push directly).
	TickQueue chan model.Tick

	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Log      *slog.Logger
	Notifier notification.Notifier
}

// Engine owns the caches and worker pools and supervises the feed.
type Engine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	met  *metrics.Metrics

	instruments *cache.TTL[string, uint32]
	ticks       *cache.TTL[uint32, model.Tick]
	orders      *cache.LRU[string, model.Order]
	index       *instrumentIndex
	locks       *keyedLocks
	prices      *priceView
	janitor     *cache.Janitor

	tickQueue chan model.Tick
	jobQueue  chan model.Job
	indexCh   chan indexRequest

	running  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type indexRequest struct {
	token   uint32
	orderID string
}

// New builds an engine. The returned engine does nothing until Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Feed == nil || deps.Placer == nil || deps.Resolver == nil ||
		deps.Store == nil || deps.Persister == nil {
		return nil, errors.New("engine: missing required dependency")
	}
	cfg = cfg.withDefaults()

	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetricsWith(nil)
	}
	tickQueue := deps.TickQueue
	if tickQueue == nil {
		tickQueue = make(chan model.Tick, cfg.TickQueueSize)
	}

	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log,
		met:  deps.Metrics,

		instruments: cache.NewTTL[string, uint32](cfg.InstrumentCacheSize, cfg.InstrumentTTL),
		ticks:       cache.NewTTL[uint32, model.Tick](cfg.TickCacheSize, cfg.TickTTL),
		orders:      cache.NewLRU[string, model.Order](cfg.OrderCacheSize),
		index:       newInstrumentIndex(),
		locks:       newKeyedLocks(),
		prices:      newPriceView(),

		tickQueue: tickQueue,
		jobQueue:  make(chan model.Job, cfg.JobQueueSize),
		indexCh:   make(chan indexRequest, cfg.IndexQueueSize),
	}

	e.janitor = cache.NewJanitor(cfg.SweepInterval, map[string]cache.Sweepable{
		"instruments": e.instruments,
		"ticks":       e.ticks,
	})
	e.janitor.OnStats = func(sizes map[string]int) {
		for name, n := range sizes {
			e.met.CacheSize.WithLabelValues(name).Set(float64(n))
		}
		e.met.CacheSize.WithLabelValues("orders").Set(float64(e.orders.Len()))
	}
	return e, nil
}

// Start warms the caches from the store, connects the feed, and launches the
// worker pools. It returns once the feed is ready or fails.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.warmCaches(runCtx); err != nil {
		e.log.Error("cache warm-up failed, continuing with empty state", "error", err)
	}

	if err := e.deps.Feed.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect feed: %w", err)
	}
	if !e.deps.Feed.WaitReady(e.cfg.ConnectTimeout) {
		e.deps.Feed.Close()
		cancel()
		return ErrConnectTimeout
	}
	if e.deps.Health != nil {
		e.deps.Health.SetFeedConnected(true)
	}

	e.running.Store(true)

	for i := 0; i < e.cfg.TickWorkers; i++ {
		e.wg.Add(1)
		go e.tickWorker(runCtx, i)
	}
	for i := 0; i < e.cfg.DBWorkers; i++ {
		e.wg.Add(1)
		go e.persistWorker(runCtx, i)
	}
	e.wg.Add(1)
	go e.indexWorker(runCtx)

	e.wg.Add(1)
	go e.eventLoop(runCtx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.janitor.Run(runCtx)
	}()

	e.wg.Add(1)
	go e.queueStatsLoop(runCtx)

	e.log.Info("engine started",
		"tick_workers", e.cfg.TickWorkers,
		"db_workers", e.cfg.DBWorkers,
		"active_orders", e.orders.Len(),
	)
	return nil
}

// Stop shuts the engine down: closes the feed, cancels the workers, and waits
// up to StopTimeout for them to drain. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		e.deps.Feed.Close()
		if e.deps.Health != nil {
			e.deps.Health.SetFeedConnected(false)
		}
		if e.cancel != nil {
			e.cancel()
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			e.log.Info("engine stopped")
		case <-time.After(e.cfg.StopTimeout):
			e.log.Warn("engine stop timed out waiting for workers")
		}
	})
}

// LastPrice returns the most recent traded price seen for token.
func (e *Engine) LastPrice(token uint32) (decimal.Decimal, bool) {
	return e.prices.Get(token)
}

// LastTick returns the full cached tick for token. Unlike LastPrice, the
// entry expires with the tick cache TTL, so absence means the instrument
// has gone quiet.
func (e *Engine) LastTick(token uint32) (model.Tick, bool) {
	return e.ticks.Get(token)
}

// CacheSizes reports current cache entry counts, keyed by cache name.
func (e *Engine) CacheSizes() map[string]int {
	return map[string]int{
		"instruments": e.instruments.Len(),
		"ticks":       e.ticks.Len(),
		"orders":      e.orders.Len(),
	}
}

// warmCaches reloads non-terminal orders and known instruments from the
// store so a restart resumes watching where it left off.
func (e *Engine) warmCaches(ctx context.Context) error {
	orders, err := e.deps.Store.ActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("load active orders: %w", err)
	}
	for _, o := range orders {
		e.orders.Put(o.OrderID, o)
		e.index.Add(o.InstrumentToken, o.OrderID)
		e.deps.Feed.EnsureSubscribed(o.InstrumentToken)
	}

	instruments, err := e.deps.Store.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	for _, inst := range instruments {
		e.instruments.Put(inst.TradingSymbol, inst.InstrumentToken)
	}

	e.log.Info("caches warmed", "orders", len(orders), "instruments", len(instruments))
	return nil
}

// eventLoop reacts to feed lifecycle and broker order-update events.
func (e *Engine) eventLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.deps.Feed.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case feed.EventConnected:
				if e.deps.Health != nil {
					e.deps.Health.SetFeedConnected(true)
				}
			case feed.EventClosed:
				if e.deps.Health != nil {
					e.deps.Health.SetFeedConnected(false)
				}
				e.log.Warn("feed closed", "code", ev.Code, "reason", ev.Reason)
			case feed.EventError:
				e.log.Error("feed error", "error", ev.Reason)
			case feed.EventReconnect:
				e.met.FeedReconnects.Inc()
				e.log.Warn("feed reconnecting", "attempt", ev.Attempt)
			case feed.EventNoReconnect:
				e.log.Error("feed gave up reconnecting, shutting down", "attempts", ev.Attempt)
				e.notify(notification.Event{Kind: notification.EventEngineHalted, Detail: "market data feed exhausted reconnect attempts"})
				go e.Stop()
				return
			case feed.EventOrderUpdate:
				e.handleOrderUpdate(ev.Update)
			}
		}
	}
}

// handleOrderUpdate records a broker-side order update and retires the order
// locally when the broker reports a terminal state.
func (e *Engine) handleOrderUpdate(u model.OrderUpdate) {
	ord, ok := e.orders.Get(u.OrderID)
	if !ok {
		return
	}
	e.met.OrderUpdates.Inc()
	e.enqueueJob(model.Job{Kind: model.JobBrokerUpdate, OrderID: u.OrderID, Update: u, EnqueuedAt: time.Now()})

	if u.Terminal() {
		// The broker-update job already persists the final status.
		e.retireOrder(ord.OrderID, ord.InstrumentToken, u.EngineStatus(), false)
	}
}

// retireOrder removes a finished order from the cache and index. Its lock
// entry drains on its own once the last holder releases it. When record is
// true the terminal status is also queued for persistence.
func (e *Engine) retireOrder(orderID string, token uint32, status string, record bool) {
	if record {
		e.enqueueJob(model.Job{
			Kind:       model.JobUpdateStatus,
			OrderID:    orderID,
			Status:     status,
			EnqueuedAt: time.Now(),
		})
	}
	e.orders.Remove(orderID)
	e.index.Remove(token, orderID)
	e.met.OrdersCompleted.WithLabelValues(status).Inc()
	e.log.Info("order retired", "order_id", orderID, "status", status)
	e.notify(notification.Event{Kind: retireEventKind(status), OrderID: orderID, Detail: status})
}

func retireEventKind(status string) notification.EventKind {
	switch status {
	case model.StatusCancelled:
		return notification.EventOrderCancelled
	case model.StatusRejected:
		return notification.EventOrderRejected
	}
	return notification.EventOrderCompleted
}

// notify fires an alert without blocking the caller. Delivery failures are
// logged and dropped.
func (e *Engine) notify(ev notification.Event) {
	if e.deps.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.deps.Notifier.Send(ctx, ev); err != nil {
			e.log.Warn("notification failed", "event", ev.Kind, "order_id", ev.OrderID, "error", err)
		}
	}()
}

// enqueueJob hands a job to the persistence pool without ever blocking the
// caller. A full queue drops the job; durability here is at-most-once.
func (e *Engine) enqueueJob(job model.Job) {
	select {
	case e.jobQueue <- job:
	default:
		e.met.DBJobFailures.Inc()
		e.log.Error("job queue full, dropping job", "kind", job.Kind, "order_id", job.OrderID)
	}
}

// persistWorker drains the job queue, applying each job in its own
// transaction. Failures are logged and dropped, never retried.
func (e *Engine) persistWorker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobQueue:
			start := time.Now()
			jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := e.deps.Persister.Apply(jobCtx, job)
			cancel()
			e.met.DBJobDur.Observe(time.Since(start).Seconds())
			if err != nil {
				e.met.DBJobFailures.Inc()
				e.log.Error("durable write failed, dropping job",
					"worker", id, "kind", job.Kind, "order_id", job.OrderID, "error", err)
				continue
			}
			e.met.DBJobsTotal.WithLabelValues(string(job.Kind)).Inc()
		}
	}
}

// indexWorker applies queued index additions so AddOrder returns without
// touching the index directly.
func (e *Engine) indexWorker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.indexCh:
			e.index.Add(req.token, req.orderID)
		}
	}
}

// queueStatsLoop exports queue fill ratios every few seconds.
func (e *Engine) queueStatsLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.met.QueueSaturated.WithLabelValues("ticks").
				Set(100 * float64(len(e.tickQueue)) / float64(cap(e.tickQueue)))
			e.met.QueueSaturated.WithLabelValues("jobs").
				Set(100 * float64(len(e.jobQueue)) / float64(cap(e.jobQueue)))
		}
	}
}
