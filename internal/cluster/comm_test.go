package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestGetJSON tests the shared GET helper.
func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"rank": 2, "size": 4}`))
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("decodes a json body", func(t *testing.T) {
		var out RegisterResponse
		if err := GetJSON(context.Background(), srv.URL+"/info", &out); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		if out.Rank != 2 || out.Size != 4 {
			t.Errorf("Unexpected response: %+v", out)
		}
	})

	t.Run("nil out skips decoding a bodyless endpoint", func(t *testing.T) {
		if err := GetJSON(context.Background(), srv.URL+"/health", nil); err != nil {
			t.Errorf("Expected bare 200 to probe clean, got %v", err)
		}
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		if err := GetJSON(context.Background(), srv.URL+"/missing", nil); err == nil {
			t.Error("Expected error for 404 response")
		}
	})
}
