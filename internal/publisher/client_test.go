package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePageSynthesizesURLFromID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "30a8-45c1-6a83"})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	page, err := c.CreatePage(context.Background(), "t", "body", "")
	require.NoError(t, err)
	assert.Equal(t, "https://notion.so/30a845c16a83", page.URL)
}

func TestCreatePageRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://notion.so/ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	c.retryDelays = []time.Duration{0, 0, 0}
	page, err := c.CreatePage(context.Background(), "t", "body", "")
	require.NoError(t, err)
	assert.Equal(t, "https://notion.so/ok", page.URL)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestCreatePageNeverRetries4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	_, err := c.CreatePage(context.Background(), "t", "body", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
