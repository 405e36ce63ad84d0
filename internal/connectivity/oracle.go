// Package connectivity reports the device's online/offline state and
// carries a distinct sync-error signal.
//
// The two signals are independent on purpose: a device can be online and
// still hold records that have exhausted their retry budget, and the
// surrounding application surfaces that through the sync-error signal
// rather than through raw connectivity.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Oracle tracks reachability and the aggregate sync-error flag, and
// notifies subscribers on transitions.
type Oracle struct {
	probeURL string
	client   *http.Client
	logger   *log.Logger

	mu           sync.Mutex
	online       bool
	onlineKnown  bool
	hasSyncError bool
	nextSubID    int
	connSubs     map[int]func(bool)
	errSubs      map[int]func(bool)
}

// New creates an Oracle that probes probeURL for reachability.
//
// If logger is nil, a default logger writing to stderr is used.
func New(probeURL string, logger *log.Logger) *Oracle {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Oracle{
		probeURL: probeURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		connSubs: make(map[int]func(bool)),
		errSubs:  make(map[int]func(bool)),
	}
}

// IsOnline probes current reachability. Any internal failure reports
// offline (fail-closed) rather than propagating an error.
func (o *Oracle) IsOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

// SubscribeToConnectionChange registers a callback invoked with the new
// state on every online/offline transition. The returned function
// unsubscribes.
func (o *Oracle) SubscribeToConnectionChange(fn func(online bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++
	o.connSubs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.connSubs, id)
	}
}

// SetOnline records the current reachability state and notifies
// subscribers if it changed. The first observation always notifies.
func (o *Oracle) SetOnline(online bool) {
	o.mu.Lock()
	if o.onlineKnown && o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	o.onlineKnown = true
	subs := make([]func(bool), 0, len(o.connSubs))
	for _, fn := range o.connSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	o.logger.Printf("Connectivity changed: online=%v", online)
	// Callbacks run outside the lock; they may call back into the oracle.
	for _, fn := range subs {
		fn(online)
	}
}

// Online returns the last observed reachability state without probing.
func (o *Oracle) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// SetSyncError raises or clears the aggregate sync-error signal and
// notifies subscribers on transitions.
func (o *Oracle) SetSyncError(v bool) {
	o.mu.Lock()
	if o.hasSyncError == v {
		o.mu.Unlock()
		return
	}
	o.hasSyncError = v
	subs := make([]func(bool), 0, len(o.errSubs))
	for _, fn := range o.errSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	if v {
		o.logger.Printf("Sync error raised: at least one record exhausted its retry budget")
	} else {
		o.logger.Printf("Sync error cleared")
	}
	for _, fn := range subs {
		fn(v)
	}
}

// HasSyncError reports whether the sync-error signal is raised.
func (o *Oracle) HasSyncError() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasSyncError
}

// SubscribeToSyncError registers a callback invoked on every sync-error
// transition. The returned function unsubscribes.
func (o *Oracle) SubscribeToSyncError(fn func(hasError bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++
	o.errSubs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.errSubs, id)
	}
}

// Monitor polls reachability at the given interval and dispatches
// transitions until ctx is cancelled. An immediate probe runs on entry.
func (o *Oracle) Monitor(ctx context.Context, interval time.Duration) {
	o.SetOnline(o.IsOnline(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SetOnline(o.IsOnline(ctx))
		}
	}
}
