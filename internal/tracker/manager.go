package tracker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	mmetrics "bus-wait-tracker/internal/metrics"
	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/waitstate"
)

// Manager runs one watcher goroutine per active trip. A watcher re-evaluates
// every stop on each tick or notification and publishes the stops whose state
// changed since its previous pass.
type Manager struct {
	svc             *Service
	evalInterval    time.Duration
	refreshInterval time.Duration
	metrics         *mmetrics.Collector

	mu      sync.Mutex
	parent  context.Context
	stopped bool // set by Stop; no watcher starts afterwards
	running map[string]*watcher // tripID -> watcher
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

type watcher struct {
	cancel context.CancelFunc
	kick   chan struct{}
}

func NewManager(svc *Service, evalInterval, refreshInterval time.Duration, metrics *mmetrics.Collector) *Manager {
	if evalInterval <= 0 {
		evalInterval = time.Second
	}
	return &Manager{
		svc:             svc,
		evalInterval:    evalInterval,
		refreshInterval: refreshInterval,
		metrics:         metrics,
		running:         make(map[string]*watcher),
	}
}

// Start binds watchers to ctx and launches the active trips refresher.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.parent = ctx
	m.mu.Unlock()
	m.StartRefresher(ctx)
}

// Notify forces an immediate re-evaluation of tripID, starting a watcher if
// none is running.
func (m *Manager) Notify(tripID string) {
	m.mu.Lock()
	w, ok := m.running[tripID]
	parent, stopped := m.parent, m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}
	if ok {
		select {
		case w.kick <- struct{}{}:
		default:
		}
		return
	}
	if parent != nil {
		m.Watch(parent, tripID)
	}
}

// Watch starts a watcher for tripID unless one is running or the manager has
// been stopped.
func (m *Manager) Watch(parent context.Context, tripID string) {
	m.mu.Lock()
	if _, exists := m.running[tripID]; exists || m.stopped {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w := &watcher{cancel: cancel, kick: make(chan struct{}, 1)}
	m.running[tripID] = w
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.WatchedTrips.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	log.Printf("watching trip %s", tripID)
	go func() {
		defer m.wg.Done()
		if err := m.runWatcher(ctx, tripID, w.kick); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("trip %s watcher error: %v", tripID, err)
		}
		m.mu.Lock()
		if m.running[tripID] == w {
			delete(m.running, tripID)
		}
		if m.metrics != nil {
			m.metrics.WatchedTrips.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
		cancel()
	}()
}

// Unwatch stops the watcher for tripID, if any.
func (m *Manager) Unwatch(tripID string) {
	m.mu.Lock()
	w, ok := m.running[tripID]
	m.mu.Unlock()
	if ok {
		w.cancel()
	}
}

// Watching reports whether a watcher is running for tripID.
func (m *Manager) Watching(tripID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[tripID]
	return ok
}

func (m *Manager) runWatcher(ctx context.Context, tripID string, kick <-chan struct{}) error {
	tick := time.NewTicker(m.evalInterval)
	defer tick.Stop()

	last := make(map[string]waitstate.StopState)
	for {
		done, err := m.evaluateOnce(ctx, tripID, last)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			log.Printf("evaluate trip %s: %v", tripID, err)
		}
		if done {
			log.Printf("trip %s ended, watcher done", tripID)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		case <-kick:
		}
	}
}

// evaluateOnce publishes changed stop states. done is true once the trip has
// ended and its final states have been published.
func (m *Manager) evaluateOnce(ctx context.Context, tripID string, last map[string]waitstate.StopState) (done bool, err error) {
	start := time.Now()
	t, err := m.svc.store.GetTrip(ctx, tripID)
	if err != nil {
		return false, err
	}
	now := m.svc.Now()
	states, err := m.svc.evaluate(ctx, t, now)
	if err != nil {
		return false, err
	}
	for _, st := range states {
		prev, seen := last[st.StopID]
		if seen && sameStopState(prev, st) {
			continue
		}
		if err := m.svc.pub.PublishStopState(tripID, now, st); err != nil {
			log.Printf("publish stop state %s/%s: %v", tripID, st.StopID, err)
			continue
		}
		if m.metrics != nil && (!seen || prev.State != st.State) {
			m.metrics.StopStates.WithLabelValues(string(st.State)).Inc()
		}
		last[st.StopID] = st
	}
	if m.metrics != nil {
		m.metrics.EvalDuration.Observe(time.Since(start).Seconds())
	}
	return !t.Active(), nil
}

func sameStopState(a, b waitstate.StopState) bool {
	return a.State == b.State &&
		a.WaitRequestCount == b.WaitRequestCount &&
		a.TotalPassengers == b.TotalPassengers &&
		a.AbsentCount == b.AbsentCount &&
		a.AllAbsent == b.AllAbsent &&
		sameSeconds(a.ElapsedSeconds, b.ElapsedSeconds) &&
		sameSeconds(a.RemainingSeconds, b.RemainingSeconds)
}

func sameSeconds(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Stop cancels the refresher and every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	m.parent = nil
	for _, w := range m.running {
		w.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// StartRefresher launches a background loop that periodically lists active
// trips and starts watchers for trips that have none.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.refreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		// immediate refresh on start
		if err := m.RefreshActive(ctx); err != nil {
			log.Printf("refresh active trips error: %v", err)
		}
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("refresh active trips error: %v", err)
				}
			}
		}
	}()
}

// RefreshActive starts watchers for every trip storage reports as active.
func (m *Manager) RefreshActive(ctx context.Context) error {
	trips, err := m.svc.store.ListActiveTrips(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	parent := m.parent
	m.mu.Unlock()
	if parent == nil {
		parent = ctx
	}
	for _, t := range trips {
		m.Watch(parent, t.ID)
	}
	return nil
}
