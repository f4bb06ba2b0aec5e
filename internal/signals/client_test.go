package signals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpportunitySearchNormalizesFlatList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"output_vars": map[string]any{
					"output": []any{
						map[string]any{"buyerId": "B1", "title": "RFP for widgets"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	recs, err := c.OpportunitySearch(context.Background(), "widget", nil, 40, "SearchRelevancy")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "B1", recs[0]["buyerId"])
}

func TestCallSyncRaisesOnEmbeddedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": map[string]any{"message": "boom"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	_, err := c.BuyerProfile(context.Background(), "B1")
	require.Error(t, err)
}

func TestBuyerChatTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]any{"run_id": "r1"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	_, err := c.BuyerChat(context.Background(), "B1", "how urgent?", 20*time.Millisecond, 60*time.Millisecond)
	require.ErrorIs(t, err, ErrChatTimeout)
}
