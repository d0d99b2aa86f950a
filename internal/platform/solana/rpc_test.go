package solana

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(ClientConfig{Endpoint: srv.URL}, logger)
}

func TestConcurrentCallsUseDistinctRequestIDs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[uint64]int)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID uint64 `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen[req.ID]++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"result":42}`))
	})

	// The settlement engine drives the broadcaster and confirmer
	// against one client at once; requests must not share IDs.
	const goroutines = 8
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				height, err := c.GetBlockHeight(context.Background(), "")
				assert.NoError(t, err)
				assert.Equal(t, uint64(42), height)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, goroutines*16)
	for id, count := range seen {
		assert.Equal(t, 1, count, "request id %d reused", id)
	}
}
