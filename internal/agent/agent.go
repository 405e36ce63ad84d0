// Package agent orchestrates the sync core's long-running pieces: the
// connectivity monitor, the periodic sync ticker, and the realtime
// reconciler subscription.
//
// The agent:
// 1. Initializes the local store schema
// 2. Kicks a sync pass when connectivity is regained
// 3. Runs periodic sync passes on a timer
// 4. Applies inbound realtime changes to the local store
// 5. Handles graceful shutdown
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/voltakids/boltsync/internal/connectivity"
	"github.com/voltakids/boltsync/internal/engine"
	"github.com/voltakids/boltsync/internal/realtime"
	"github.com/voltakids/boltsync/internal/store"
)

// Config holds configuration for the agent.
type Config struct {
	// SyncInterval is how often a periodic sync pass runs.
	SyncInterval time.Duration

	// ConnectivityInterval is how often reachability is probed.
	ConnectivityInterval time.Duration

	// Logger for agent activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:         time.Minute,
		ConnectivityInterval: 10 * time.Second,
		Logger:               log.New(os.Stderr, "[agent] ", log.LstdFlags),
	}
}

// Agent wires the store, oracle, engine, and reconciler together.
type Agent struct {
	store      *store.Store
	oracle     *connectivity.Oracle
	engine     *engine.Engine
	reconciler *realtime.Reconciler
	config     *Config

	mu           sync.Mutex
	syncInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// New creates an Agent. The reconciler may be nil when realtime inbound
// reconciliation is disabled.
func New(st *store.Store, oracle *connectivity.Oracle, eng *engine.Engine, rec *realtime.Reconciler, config *Config) (*Agent, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Agent{
		store:        st,
		oracle:       oracle,
		engine:       eng,
		reconciler:   rec,
		config:       config,
		syncInterval: config.SyncInterval,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// SetSyncInterval adjusts the periodic sync interval at runtime. The
// new interval takes effect on the next tick.
func (a *Agent) SetSyncInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.syncInterval = d
	a.mu.Unlock()
	a.config.Logger.Printf("Sync interval set to %v", d)
}

func (a *Agent) currentSyncInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncInterval
}

// Start begins the agent's operation.
//
// This blocks until ctx is cancelled or startup fails.
func (a *Agent) Start(ctx context.Context) error {
	a.config.Logger.Println("Starting sync agent")

	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}

	// Connectivity regained triggers an immediate sync pass. A
	// concurrent in-flight pass drops the call; the periodic ticker
	// covers the gap.
	a.unsub = a.oracle.SubscribeToConnectionChange(func(online bool) {
		if !online {
			return
		}
		a.config.Logger.Println("Connectivity regained, triggering sync")
		go func() {
			if err := a.engine.ProcessQueue(a.ctx); err != nil {
				a.config.Logger.Printf("Sync pass failed: %v", err)
			}
		}()
	})

	a.wg.Add(2)
	go a.monitorConnectivity()
	go a.runSyncTicker()

	if a.reconciler != nil {
		a.wg.Add(1)
		go a.runReconciler()
	}

	select {
	case <-ctx.Done():
		a.config.Logger.Println("Shutdown signal received")
		return a.Stop()
	case <-a.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the agent. Listeners are unsubscribed;
// in-flight writes are not aborted.
func (a *Agent) Stop() error {
	a.config.Logger.Println("Stopping sync agent")

	if a.unsub != nil {
		a.unsub()
	}
	a.cancel()
	a.wg.Wait()

	a.config.Logger.Println("Sync agent stopped")
	return nil
}

// monitorConnectivity polls reachability and dispatches transitions.
func (a *Agent) monitorConnectivity() {
	defer a.wg.Done()
	a.oracle.Monitor(a.ctx, a.config.ConnectivityInterval)
}

// runSyncTicker runs periodic sync passes.
func (a *Agent) runSyncTicker() {
	defer a.wg.Done()

	interval := a.currentSyncInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return

		case <-timer.C:
			if err := a.engine.ProcessQueue(a.ctx); err != nil {
				a.config.Logger.Printf("Periodic sync failed: %v", err)
			}
			timer.Reset(a.currentSyncInterval())
		}
	}
}

// runReconciler keeps the realtime subscription alive until shutdown.
func (a *Agent) runReconciler() {
	defer a.wg.Done()

	if err := a.reconciler.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.config.Logger.Printf("Realtime subscription ended: %v", err)
	}
}
