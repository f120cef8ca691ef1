// Package coordinator provides the hub functionality for the sampler.
// This file contains tests for registration, gather rounds, and health
// monitoring.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/demc/internal/cluster"
)

// TestRegistry verifies rank assignment and roster completion.
func TestRegistry(t *testing.T) {
	t.Run("assigns ranks in arrival order", func(t *testing.T) {
		reg, err := NewRegistry(3)
		require.NoError(t, err)

		ranks := make([]int, 3)
		var g errgroup.Group
		var mu sync.Mutex
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("w-%d", i)
			g.Go(func() error {
				rank, size, err := reg.Register(context.Background(), cluster.WorkerInfo{ID: id})
				if err != nil {
					return err
				}
				if size != 3 {
					return fmt.Errorf("size %d, want 3", size)
				}
				mu.Lock()
				ranks[rank]++
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		// Every rank in [0,3) handed out exactly once.
		for rank, n := range ranks {
			assert.Equal(t, 1, n, "rank %d assigned %d times", rank, n)
		}
		assert.True(t, reg.Complete())
		assert.Len(t, reg.Workers(), 3)
	})

	t.Run("re-registration keeps rank", func(t *testing.T) {
		reg, err := NewRegistry(2)
		require.NoError(t, err)

		results := make(chan int, 3)
		var g errgroup.Group
		register := func(id string) func() error {
			return func() error {
				rank, _, err := reg.Register(context.Background(), cluster.WorkerInfo{ID: id})
				if err != nil {
					return err
				}
				results <- rank
				return nil
			}
		}
		g.Go(register("a"))
		g.Go(register("b"))
		require.NoError(t, g.Wait())

		// Retry by "a" must return the same rank, not a new slot.
		rankA, _, err := reg.Register(context.Background(), cluster.WorkerInfo{ID: "a"})
		require.NoError(t, err)
		close(results)
		seen := map[int]bool{}
		for r := range results {
			seen[r] = true
		}
		assert.True(t, seen[rankA])

		// A third distinct worker is rejected.
		_, _, err = reg.Register(context.Background(), cluster.WorkerInfo{ID: "c"})
		assert.Error(t, err)
	})

	t.Run("registration respects context", func(t *testing.T) {
		reg, err := NewRegistry(2)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, _, err = reg.Register(ctx, cluster.WorkerInfo{ID: "only"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// TestGather verifies all-gather round assembly on the hub.
func TestGather(t *testing.T) {
	t.Run("round completes when all ranks submit", func(t *testing.T) {
		g, err := NewGather(3)
		require.NoError(t, err)

		var eg errgroup.Group
		results := make([][][]byte, 3)
		for rank := 0; rank < 3; rank++ {
			eg.Go(func() error {
				out, err := g.Submit(context.Background(), 7, rank, []byte{byte(rank)})
				if err != nil {
					return err
				}
				results[rank] = out
				return nil
			})
		}
		require.NoError(t, eg.Wait())

		for rank := 0; rank < 3; rank++ {
			require.Len(t, results[rank], 3)
			for i, p := range results[rank] {
				assert.Equal(t, byte(i), p[0], "rank %d slot %d", rank, i)
			}
		}
		assert.Equal(t, 0, g.Pending())
	})

	t.Run("duplicate submission rejected", func(t *testing.T) {
		g, err := NewGather(2)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = g.Submit(context.Background(), 1, 0, nil)
		}()
		time.Sleep(10 * time.Millisecond)
		_, err = g.Submit(context.Background(), 1, 0, nil)
		assert.Error(t, err)

		// Complete the round so the goroutine exits.
		_, err = g.Submit(context.Background(), 1, 1, nil)
		require.NoError(t, err)
		<-done
	})

	t.Run("invalid rank rejected", func(t *testing.T) {
		g, err := NewGather(2)
		require.NoError(t, err)
		_, err = g.Submit(context.Background(), 1, 5, nil)
		assert.Error(t, err)
	})

	t.Run("abort fails pending and future rounds", func(t *testing.T) {
		g, err := NewGather(2)
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := g.Submit(context.Background(), 1, 0, nil)
			errCh <- err
		}()
		time.Sleep(10 * time.Millisecond)
		g.Abort(errors.New("worker w-1 unhealthy"))

		err = <-errCh
		assert.ErrorIs(t, err, ErrAborted)

		_, err = g.Submit(context.Background(), 2, 1, nil)
		assert.ErrorIs(t, err, ErrAborted)
	})
}

// TestHealthMonitor verifies the worker liveness monitor.
func TestHealthMonitor(t *testing.T) {
	roster := func() []cluster.WorkerInfo {
		return []cluster.WorkerInfo{
			{ID: "w-0", Addr: "http://localhost:9991"},
			{ID: "w-1", Addr: ""}, // no probe address, skipped
		}
	}

	t.Run("healthy worker stays healthy", func(t *testing.T) {
		monitor := NewHealthMonitor(20 * time.Millisecond)
		defer monitor.Stop()
		monitor.SetCheckFunc(func(addr string) error { return nil })
		monitor.Start(roster)

		time.Sleep(70 * time.Millisecond)
		h := monitor.Status("w-0")
		require.NotNil(t, h)
		assert.Equal(t, "healthy", h.Status)
		assert.Equal(t, 0, h.ConsecutiveFails)
		assert.Nil(t, monitor.Status("w-1"), "worker without probe address must not be tracked")
	})

	t.Run("unhealthy after threshold and callback fires once", func(t *testing.T) {
		monitor := NewHealthMonitor(10 * time.Millisecond)
		defer monitor.Stop()
		monitor.SetCheckFunc(func(addr string) error { return errors.New("connection refused") })

		var mu sync.Mutex
		var calls []string
		monitor.SetOnUnhealthy(func(id string) {
			mu.Lock()
			calls = append(calls, id)
			mu.Unlock()
		})
		monitor.Start(roster)

		time.Sleep(100 * time.Millisecond)
		h := monitor.Status("w-0")
		require.NotNil(t, h)
		assert.Equal(t, "unhealthy", h.Status)
		assert.GreaterOrEqual(t, h.ConsecutiveFails, 3)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"w-0"}, calls, "callback must fire exactly once per worker")
	})

	t.Run("default probe tracks a live health endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		monitor := NewHealthMonitor(10 * time.Millisecond)
		defer monitor.Stop()
		monitor.Start(func() []cluster.WorkerInfo {
			return []cluster.WorkerInfo{{ID: "w-live", Addr: srv.URL}}
		})

		time.Sleep(50 * time.Millisecond)
		h := monitor.Status("w-live")
		require.NotNil(t, h)
		assert.Equal(t, "healthy", h.Status)
	})

	t.Run("default probe counts a failing endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		monitor := NewHealthMonitor(10 * time.Millisecond)
		defer monitor.Stop()
		monitor.Start(func() []cluster.WorkerInfo {
			return []cluster.WorkerInfo{{ID: "w-down", Addr: srv.URL}}
		})

		time.Sleep(50 * time.Millisecond)
		h := monitor.Status("w-down")
		require.NotNil(t, h)
		assert.Greater(t, h.ConsecutiveFails, 0)
	})

	t.Run("recovery resets failures", func(t *testing.T) {
		monitor := NewHealthMonitor(10 * time.Millisecond)
		defer monitor.Stop()

		var mu sync.Mutex
		fail := true
		monitor.SetCheckFunc(func(addr string) error {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return errors.New("down")
			}
			return nil
		})
		monitor.Start(roster)

		time.Sleep(25 * time.Millisecond)
		mu.Lock()
		fail = false
		mu.Unlock()
		time.Sleep(40 * time.Millisecond)

		h := monitor.Status("w-0")
		require.NotNil(t, h)
		assert.Equal(t, "healthy", h.Status)
		assert.Equal(t, 0, h.ConsecutiveFails)
	})
}
