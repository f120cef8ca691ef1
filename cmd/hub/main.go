// Command hub coordinates a distributed sampling run. Workers register to
// receive their rank, then drive every generation through the /allgather
// endpoint; the hub holds each request open until the whole group has
// contributed, so the endpoint doubles as the run's barrier.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dreamware/demc/internal/cluster"
	"github.com/dreamware/demc/internal/coordinator"
)

type config struct {
	Addr           string        `env:"HUB_ADDR" envDefault:":8080"`
	Workers        int           `env:"HUB_WORKERS" envDefault:"1"`
	HealthInterval time.Duration `env:"HUB_HEALTH_INTERVAL" envDefault:"5s"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Workers < 1 {
		log.Fatalf("config: HUB_WORKERS must be positive, got %d", cfg.Workers)
	}

	srv, err := newServer(cfg)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/allgather", srv.handleAllGather)
	mux.HandleFunc("/leave", srv.handleLeave)
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.monitor.Start(srv.registry.Workers)
	defer srv.monitor.Stop()

	go func() {
		log.Printf("hub listening on %s, expecting %d workers", cfg.Addr, cfg.Workers)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	srv.gather.Abort(fmt.Errorf("hub shutting down"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Println("hub stopped")
}

type server struct {
	registry *coordinator.Registry
	gather   *coordinator.Gather
	monitor  *coordinator.HealthMonitor
}

func newServer(cfg config) (*server, error) {
	registry, err := coordinator.NewRegistry(cfg.Workers)
	if err != nil {
		return nil, err
	}
	gather, err := coordinator.NewGather(cfg.Workers)
	if err != nil {
		return nil, err
	}
	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval)
	// A dead worker can never reach the barrier again; fail the pending
	// rounds immediately instead of leaving the rest of the group blocked.
	monitor.SetOnUnhealthy(func(workerID string) {
		log.Printf("worker %s unhealthy, aborting run", workerID)
		gather.Abort(fmt.Errorf("worker %s declared unhealthy", workerID))
	})
	return &server{registry: registry, gather: gather, monitor: monitor}, nil
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Worker.ID == "" {
		http.Error(w, "missing worker id", http.StatusBadRequest)
		return
	}
	// Blocks until the roster is complete, so the response is the run's
	// starting gun.
	rank, size, err := s.registry.Register(r.Context(), req.Worker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.Printf("worker %s registered as rank %d/%d", req.Worker.ID, rank, size)
	_ = json.NewEncoder(w).Encode(cluster.RegisterResponse{Rank: rank, Size: size})
}

func (s *server) handleAllGather(w http.ResponseWriter, r *http.Request) {
	var req cluster.GatherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !s.registry.Complete() {
		http.Error(w, "roster incomplete", http.StatusConflict)
		return
	}
	payloads, err := s.gather.Submit(r.Context(), req.Round, req.Rank, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	resp := cluster.GatherResponse{
		Round:    req.Round,
		Payloads: make([]json.RawMessage, len(payloads)),
	}
	for i, p := range payloads {
		resp.Payloads[i] = p
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	log.Printf("worker %s left", req.Worker.ID)
	// A departed worker strands any barrier still waiting on it.
	s.gather.Abort(fmt.Errorf("worker %s left the run", req.Worker.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workers := s.registry.Workers()
	type workerStatus struct {
		cluster.WorkerInfo
		Health *coordinator.WorkerHealth `json:"health,omitempty"`
	}
	out := struct {
		Expected   int            `json:"expected"`
		Registered int            `json:"registered"`
		Pending    int            `json:"pending_rounds"`
		Workers    []workerStatus `json:"workers"`
	}{
		Expected:   s.registry.Expected(),
		Registered: len(workers),
		Pending:    s.gather.Pending(),
	}
	for _, wi := range workers {
		out.Workers = append(out.Workers, workerStatus{
			WorkerInfo: wi,
			Health:     s.monitor.Status(wi.ID),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
