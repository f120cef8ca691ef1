package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Comm is the collective-communication handle a worker holds for the
// lifetime of a run.
type Comm interface {
	// Rank is this worker's index, in [0, Size()).
	Rank() int

	// Size is the total number of workers in the run.
	Size() int

	// AllGather submits this worker's payload for the given round and
	// blocks until every worker has contributed, then returns all payloads
	// indexed by rank. Round numbers must strictly increase and every
	// worker must use the same sequence.
	AllGather(ctx context.Context, round uint64, payload []byte) ([][]byte, error)

	// Barrier blocks until all workers reach the same round.
	Barrier(ctx context.Context, round uint64) error

	// Close releases the worker's membership.
	Close() error
}

// WorkerInfo identifies a worker to the hub.
type WorkerInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"` // health endpoint base URL, may be empty
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Worker WorkerInfo `json:"worker"`
}

// RegisterResponse assigns the worker its place in the run.
type RegisterResponse struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

// GatherRequest is the body of POST /allgather. The payload is opaque to
// the hub; the sampler encodes its population segments into it.
type GatherRequest struct {
	Round   uint64          `json:"round"`
	Rank    int             `json:"rank"`
	Payload json.RawMessage `json:"payload"`
}

// GatherResponse carries the assembled round, one payload per rank.
type GatherResponse struct {
	Round    uint64            `json:"round"`
	Payloads []json.RawMessage `json:"payloads"`
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// PostJSON posts body as JSON to url and decodes the response into out
// (skipped when out is nil). Used for short control RPCs; gather calls use
// their own client without a global timeout since they block at a barrier.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
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

// GetJSON fetches url and decodes the JSON response into out (skipped when
// out is nil, so it doubles as a liveness probe against bodyless
// endpoints).
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
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
