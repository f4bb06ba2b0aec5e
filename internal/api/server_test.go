package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSpy-ai/starbridge/internal/admission"
	"github.com/TenSpy-ai/starbridge/internal/config"
	"github.com/TenSpy-ai/starbridge/internal/pipeline"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockingOrchestrator never returns until released, so tests can poke
// a run while it is still "processing".
type blockingOrchestrator struct {
	release chan struct{}
}

func (o *blockingOrchestrator) Run(ctx context.Context, wh store.Webhook, preAssignedRunID int64, batchID string) pipeline.RunResult {
	select {
	case <-o.release:
	case <-ctx.Done():
	}
	return pipeline.RunResult{Outcome: pipeline.OutcomeCancelled}
}

func newTestServer(t *testing.T) (*Server, *store.Store, *blockingOrchestrator) {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "pipeline.db")
	st, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	orch := &blockingOrchestrator{release: make(chan struct{})}
	adm := admission.New(st, config.NewRegistry(), orch, 3)
	s := NewServer(st, adm, config.NewRegistry())
	t.Cleanup(func() { close(orch.release) })
	return s, st, orch
}

func doJSON(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestRunHandlerRejectsEmptyPayload(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/run", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunHandlerAcceptsValidPayload(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/run", RunRequest{TargetCompany: "Acme", TargetDomain: "acme.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotZero(t, body["run_id"])
}

func TestStatusHandlerReturns404ForUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/status/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusHandlerReportsPendingRun(t *testing.T) {
	s, st, _ := newTestServer(t)
	runID, err := st.InsertRunStub(context.Background(), store.Webhook{TargetCompany: "Acme"}, "")
	require.NoError(t, err)

	rec := doJSON(s, http.MethodGet, "/api/status/"+itoa(runID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["pipeline_active"])
}

func TestKillHandlerReturns404ForUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/kill/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKillHandlerReturns409ForTerminalRun(t *testing.T) {
	s, st, _ := newTestServer(t)
	runID, err := st.InsertRunStub(context.Background(), store.Webhook{TargetCompany: "Acme"}, "")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunCompleted(context.Background(), runID, store.CompletedPartial{ReportMarkdown: "done"}))

	rec := doJSON(s, http.MethodPost, "/api/kill/"+itoa(runID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestKillHandlerCancelsActiveRun(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/run", RunRequest{TargetCompany: "Acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	runID := int64(body["run_id"].(float64))

	require.Eventually(t, func() bool {
		return doJSON(s, http.MethodGet, "/api/status/"+itoa(runID), nil).Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)

	rec = doJSON(s, http.MethodPost, "/api/kill/"+itoa(runID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(s, http.MethodPatch, "/api/config", map[string]any{"max_concurrent_runs": 5})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	values := body["values"].(map[string]any)
	assert.Equal(t, float64(5), values["max_concurrent_runs"])
}

func TestDataHandlerUnknownTable(t *testing.T) {
	s, st, _ := newTestServer(t)
	runID, err := st.InsertRunStub(context.Background(), store.Webhook{TargetCompany: "Acme"}, "")
	require.NoError(t, err)

	rec := doJSON(s, http.MethodGet, "/api/data/"+itoa(runID)+"/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataHandlerDiscoveries(t *testing.T) {
	s, st, _ := newTestServer(t)
	runID, err := st.InsertRunStub(context.Background(), store.Webhook{TargetCompany: "Acme"}, "")
	require.NoError(t, err)
	require.NoError(t, st.InsertDiscoveries(context.Background(), runID, "acme.com", []store.Discovery{
		{BuyerID: "B1", BuyerName: "City of X", SignalType: "RFP", SignalScore: 0.9},
	}))

	rec := doJSON(s, http.MethodGet, "/api/data/"+itoa(runID)+"/discoveries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
