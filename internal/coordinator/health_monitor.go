// Package coordinator provides the hub functionality for the sampler.
// This file implements liveness monitoring for registered workers.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/demc/internal/cluster"
)

// WorkerHealth tracks the liveness of a single worker.
// Thread-safe: protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last probe attempt
	LastHealthy      time.Time // Timestamp of the last successful probe
	WorkerID         string    // Unique identifier of the worker
	Status           string    // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Consecutive failed probes
}

// HealthMonitor periodically probes the /health endpoint of every worker
// that registered a probe address. A worker that fails maxFailures probes
// in a row is declared unhealthy, which triggers the onUnhealthy callback.
// In the hub that callback aborts all pending gather rounds, since a
// missing worker means the population snapshot can never complete.
// Thread-safe: all methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[string]*WorkerHealth
	checkFunc   func(addr string) error // injectable for tests
	onUnhealthy func(workerID string)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor probing at the given interval.
// Workers are marked unhealthy after 3 consecutive failures.
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &HealthMonitor{
		workers:     make(map[string]*WorkerHealth),
		ctx:         ctx,
		cancel:      cancel,
		interval:    interval,
		maxFailures: 3,
	}
	m.checkFunc = m.httpCheck
	return m
}

// SetCheckFunc replaces the probe implementation, for tests.
func (m *HealthMonitor) SetCheckFunc(f func(addr string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkFunc = f
}

// SetOnUnhealthy installs the callback invoked (once per worker) when a
// worker crosses the failure threshold.
func (m *HealthMonitor) SetOnUnhealthy(f func(workerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnhealthy = f
}

// Start begins probing the given roster in the background. Workers without
// a probe address are skipped. Call Stop to shut the monitor down.
func (m *HealthMonitor) Start(roster func() []cluster.WorkerInfo) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(roster())
			}
		}
	}()
}

// Stop shuts down the monitor and waits for the probe loop to exit.
func (m *HealthMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Status returns a copy of the current health record for a worker, or nil
// if the worker has never been probed.
func (m *HealthMonitor) Status(workerID string) *WorkerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.workers[workerID]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// checkAll probes every worker in the roster once.
func (m *HealthMonitor) checkAll(roster []cluster.WorkerInfo) {
	for _, w := range roster {
		if w.Addr == "" {
			continue
		}
		m.checkOne(w)
	}
}

func (m *HealthMonitor) checkOne(w cluster.WorkerInfo) {
	m.mu.Lock()
	h, ok := m.workers[w.ID]
	if !ok {
		h = &WorkerHealth{WorkerID: w.ID, Status: "unknown"}
		m.workers[w.ID] = h
	}
	check := m.checkFunc
	onUnhealthy := m.onUnhealthy
	m.mu.Unlock()

	err := check(w.Addr)

	m.mu.Lock()
	h.LastCheck = time.Now()
	if err == nil {
		h.LastHealthy = h.LastCheck
		h.ConsecutiveFails = 0
		h.Status = "healthy"
		m.mu.Unlock()
		return
	}
	h.ConsecutiveFails++
	crossed := h.ConsecutiveFails == m.maxFailures
	if h.ConsecutiveFails >= m.maxFailures {
		h.Status = "unhealthy"
	}
	m.mu.Unlock()

	if crossed && onUnhealthy != nil {
		onUnhealthy(w.ID)
	}
}

// httpCheck is the default probe: GET {addr}/health must return 2xx.
func (m *HealthMonitor) httpCheck(addr string) error {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()
	return cluster.GetJSON(ctx, addr+"/health", nil)
}
