package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// HTTPComm is a Comm backed by a hub process. The worker registers once at
// construction, receiving its rank and the run's worker count, and then
// performs every collective as a single POST that the hub holds open until
// the round completes.
type HTTPComm struct {
	hubURL string
	id     string
	rank   int
	size   int

	// gatherClient has no global timeout: an all-gather blocks for as long
	// as the slowest worker's generation takes. Cancellation is ctx-driven.
	gatherClient *http.Client

	health   *http.Server
	listener net.Listener
}

// HTTPCommOptions configures NewHTTPComm.
type HTTPCommOptions struct {
	// HubURL is the base URL of the hub, e.g. "http://localhost:8080".
	HubURL string

	// WorkerID uniquely identifies this worker to the hub.
	WorkerID string

	// HealthListen, when non-empty, is the address the worker serves its
	// /health endpoint on (":0" picks a free port). Leaving it empty
	// disables hub-side liveness probing of this worker.
	HealthListen string
}

// NewHTTPComm starts the worker's health endpoint (if configured) and
// registers with the hub, retrying registration to ride out hub startup.
// It blocks until the hub has assigned a rank, which the hub only does once
// it knows the expected worker count.
func NewHTTPComm(ctx context.Context, opts HTTPCommOptions) (*HTTPComm, error) {
	if opts.HubURL == "" {
		return nil, fmt.Errorf("hub URL is required")
	}
	if opts.WorkerID == "" {
		return nil, fmt.Errorf("worker ID is required")
	}

	c := &HTTPComm{
		hubURL:       opts.HubURL,
		id:           opts.WorkerID,
		gatherClient: &http.Client{},
	}

	addr := ""
	if opts.HealthListen != "" {
		ln, err := net.Listen("tcp", opts.HealthListen)
		if err != nil {
			return nil, fmt.Errorf("health listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		c.listener = ln
		c.health = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := c.health.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Printf("worker[%s] health server: %v", opts.WorkerID, err)
			}
		}()
		addr = "http://" + ln.Addr().String()
	}

	if err := c.register(ctx, addr); err != nil {
		if c.health != nil {
			_ = c.health.Close()
		}
		return nil, err
	}
	return c, nil
}

// register announces the worker to the hub, retrying to handle hub startup
// delays. The hub responds once all expected workers have arrived, so this
// call doubles as the run's first barrier.
func (c *HTTPComm) register(ctx context.Context, addr string) error {
	body := RegisterRequest{Worker: WorkerInfo{ID: c.id, Addr: addr}}
	var resp RegisterResponse
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = c.postJSON(ctx, c.hubURL+"/register", body, &resp)
		if lastErr == nil {
			c.rank = resp.Rank
			c.size = resp.Size
			log.Printf("worker[%s] registered with hub @ %s as rank %d/%d", c.id, c.hubURL, c.rank, c.size)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("worker[%s] register retry %d: %v", c.id, i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("failed to register with hub: %w", lastErr)
}

// Rank returns the rank the hub assigned at registration.
func (c *HTTPComm) Rank() int { return c.rank }

// Size returns the run's worker count.
func (c *HTTPComm) Size() int { return c.size }

// AllGather implements Comm.
func (c *HTTPComm) AllGather(ctx context.Context, round uint64, payload []byte) ([][]byte, error) {
	req := GatherRequest{
		Round:   round,
		Rank:    c.rank,
		Payload: payload,
	}
	var resp GatherResponse
	if err := c.postJSON(ctx, c.hubURL+"/allgather", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: round %d: %v", ErrWorkerLost, round, err)
	}
	if len(resp.Payloads) != c.size {
		return nil, fmt.Errorf("%w: round %d returned %d payloads, want %d",
			ErrWorkerLost, round, len(resp.Payloads), c.size)
	}
	out := make([][]byte, len(resp.Payloads))
	for i, p := range resp.Payloads {
		out[i] = []byte(p)
	}
	return out, nil
}

// Barrier implements Comm.
func (c *HTTPComm) Barrier(ctx context.Context, round uint64) error {
	_, err := c.AllGather(ctx, round, nil)
	return err
}

// Close tells the hub the worker is leaving and stops the health endpoint.
func (c *HTTPComm) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = PostJSON(ctx, c.hubURL+"/leave", RegisterRequest{Worker: WorkerInfo{ID: c.id}}, nil)
	if c.health != nil {
		return c.health.Close()
	}
	return nil
}

// postJSON mirrors PostJSON but uses the comm's untimed client, since a
// gather call legitimately blocks until the slowest worker arrives.
func (c *HTTPComm) postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.gatherClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
