package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/record"
	"github.com/maxpert/credmirror/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrEngineStopped is returned by TriggerSync when the engine is not running.
var ErrEngineStopped = errors.New("mirror engine is not running")

// EngineConfig configures an Engine.
type EngineConfig struct {
	Records      notify.Subscriber // Source of record notifications
	Reconciler   *Reconciler       // Applies classified changes
	SyncInterval time.Duration     // Periodic full sync, 0 disables
	SyncOnStart  bool              // Run a full sync before draining notifications
	Fatal        func(err error)   // Called for unclassifiable notifications
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running    bool
	LastSync   time.Time
	LastReport Report
	LastError  string
	Processed  uint64
}

type syncRequest struct {
	ctx   context.Context
	reply chan syncResult
}

type syncResult struct {
	report Report
	err    error
}

// Engine drains record notifications into the reconciler one at a time and
// interleaves full sync passes on the same goroutine, so a sync never races
// a notification for the same record.
type Engine struct {
	config EngineConfig

	syncReq chan syncRequest
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  func()

	started     bool
	running     atomic.Bool
	processed   atomic.Uint64
	lifecycleMu sync.Mutex

	statusMu   sync.RWMutex
	lastSync   time.Time
	lastReport Report
	lastErr    error
}

func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Records == nil {
		return nil, fmt.Errorf("record subscriber is required")
	}
	if config.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if config.Fatal == nil {
		config.Fatal = func(err error) {
			log.Fatal().Err(err).Msg("Unclassifiable record notification")
		}
	}

	return &Engine{
		config:  config,
		syncReq: make(chan syncRequest),
	}, nil
}

// Start subscribes to record notifications and launches the processing loop.
// ctx bounds every reconciliation the loop performs.
func (e *Engine) Start(ctx context.Context) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.started {
		return
	}

	notifications, cancel := e.config.Records.Subscribe(notify.Filter{})
	e.cancel = cancel
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.started = true
	e.running.Store(true)

	log.Info().
		Dur("sync_interval", e.config.SyncInterval).
		Bool("sync_on_start", e.config.SyncOnStart).
		Msg("Starting mirror engine")

	go e.loop(ctx, notifications)
}

// Stop unsubscribes and waits for the in-flight item to finish. It is also
// required after the Start context ends, before the engine can be restarted.
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started {
		return
	}

	log.Info().Msg("Stopping mirror engine")
	close(e.stopCh)
	e.cancel()
	<-e.doneCh
	e.started = false
	log.Info().Msg("Mirror engine stopped")
}

// TriggerSync runs a full sync on the engine loop and waits for its report.
func (e *Engine) TriggerSync(ctx context.Context) (Report, error) {
	e.lifecycleMu.Lock()
	stopCh, doneCh, started := e.stopCh, e.doneCh, e.started
	e.lifecycleMu.Unlock()
	if !started || !e.running.Load() {
		return Report{}, ErrEngineStopped
	}

	req := syncRequest{ctx: ctx, reply: make(chan syncResult, 1)}
	select {
	case e.syncReq <- req:
	case <-stopCh:
		return Report{}, ErrEngineStopped
	case <-doneCh:
		return Report{}, ErrEngineStopped
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.report, res.err
	case <-doneCh:
		select {
		case res := <-req.reply:
			return res.report, res.err
		default:
			return Report{}, ErrEngineStopped
		}
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Status returns the engine state and the last sync report.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	st := Status{
		Running:    e.running.Load(),
		LastSync:   e.lastSync,
		LastReport: e.lastReport,
		Processed:  e.processed.Load(),
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

func (e *Engine) loop(ctx context.Context, notifications <-chan record.Notification) {
	defer close(e.doneCh)
	defer e.running.Store(false)

	if e.config.SyncOnStart {
		e.sync(ctx)
	}

	var tick <-chan time.Time
	if e.config.SyncInterval > 0 {
		ticker := time.NewTicker(e.config.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			e.handle(ctx, n)
		case <-tick:
			e.sync(ctx)
		case req := <-e.syncReq:
			rep, err := e.sync(req.ctx)
			req.reply <- syncResult{report: rep, err: err}
		}
	}
}

func (e *Engine) handle(ctx context.Context, n record.Notification) {
	change, err := Classify(n)
	if err != nil {
		telemetry.ReconcileErrorsTotal.With("malformed").Inc()
		e.config.Fatal(err)
		return
	}
	telemetry.NotificationsTotal.With(change.Op.String()).Inc()

	out, err := e.config.Reconciler.Reconcile(ctx, change)
	e.processed.Add(1)
	if err != nil {
		log.Error().
			Err(err).
			Str("id", out.ID).
			Str("op", change.Op.String()).
			Msg("Failed to reconcile record change")
	}
}

func (e *Engine) sync(ctx context.Context) (Report, error) {
	rep, err := e.config.Reconciler.SyncAll(ctx)
	if err != nil {
		log.Warn().Err(err).Int("failed", len(rep.Failed)).Msg("Full sync finished with failures")
	}

	e.statusMu.Lock()
	e.lastSync = time.Now()
	e.lastReport = rep
	e.lastErr = err
	e.statusMu.Unlock()

	return rep, err
}
