package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSpy-ai/starbridge/internal/publisher"
)

func newPublisherStub(t *testing.T, handler http.HandlerFunc) *publisher.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return publisher.New(srv.URL, "key")
}

func rpcCall(t *testing.T, url, apiKey string, req map[string]any) map[string]any {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestToolsListAdvertisesTheConfiguredToolName(t *testing.T) {
	pub := newPublisherStub(t, func(w http.ResponseWriter, r *http.Request) {})
	s := New(pub, "", "starbridge_publish_page", "")
	url, err := s.Start()
	require.NoError(t, err)
	defer s.Stop(context.Background())

	out := rpcCall(t, url, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	result := out["result"].(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "starbridge_publish_page", tools[0].(map[string]any)["name"])
}

func TestToolsCallPublishesThroughTheConfiguredPublisher(t *testing.T) {
	var gotBody map[string]any
	pub := newPublisherStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://notion.so/new-page"})
	})
	s := New(pub, "secret", "starbridge_publish_page", "parent-id")
	url, err := s.Start()
	require.NoError(t, err)
	defer s.Stop(context.Background())

	out := rpcCall(t, url, "secret", map[string]any{
		"jsonrpc": "2.0", "id": 7, "method": "tools/call",
		"params": map[string]any{
			"name":      "starbridge_publish_page",
			"arguments": map[string]any{"title": "Acme Report", "content": "body text"},
		},
	})

	result := out["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "https://notion.so/new-page", content["text"])
	require.NotNil(t, gotBody)
	pages := gotBody["pages"].([]any)[0].(map[string]any)
	assert.Equal(t, "body text", pages["content"])
}

func TestToolsCallRejectsWrongAPIKey(t *testing.T) {
	pub := newPublisherStub(t, func(w http.ResponseWriter, r *http.Request) {})
	s := New(pub, "secret", "starbridge_publish_page", "")
	url, err := s.Start()
	require.NoError(t, err)
	defer s.Stop(context.Background())

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/call"})
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("X-API-Key", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestToolsCallRejectsUnknownToolName(t *testing.T) {
	pub := newPublisherStub(t, func(w http.ResponseWriter, r *http.Request) {})
	s := New(pub, "", "starbridge_publish_page", "")
	url, err := s.Start()
	require.NoError(t, err)
	defer s.Stop(context.Background())

	out := rpcCall(t, url, "", map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "tools/call",
		"params": map[string]any{"name": "some_other_tool", "arguments": map[string]any{}},
	})
	result := out["result"]
	require.Nil(t, result)
	errObj := out["error"].(map[string]any)
	assert.Contains(t, errObj["message"], "unknown tool")
}
