package step

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/TenSpy-ai/starbridge/internal/signals"
	"github.com/TenSpy-ai/starbridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "pipeline.db")
	s, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeStep struct {
	name    string
	timeout time.Duration
	delta   model.Delta
	err     error
	delay   time.Duration
}

func (f fakeStep) Name() string            { return f.name }
func (f fakeStep) Timeout() time.Duration  { return f.timeout }
func (f fakeStep) Run(ctx context.Context, state model.Blackboard) (model.Delta, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.delta, f.err
}

func newRun(t *testing.T, st *store.Store) int64 {
	t.Helper()
	runID, err := st.InsertRunStub(context.Background(), store.Webhook{TargetCompany: "Acme"}, "")
	require.NoError(t, err)
	return runID
}

func TestExecuteSuccessRecordsSuccessAudit(t *testing.T) {
	st := newTestStore(t)
	runID := newRun(t, st)

	s := fakeStep{name: "s2_search_strategy", timeout: time.Second, delta: func(bb *model.Blackboard) {
		bb.ReportMarkdown = "# Report"
	}}

	result := Execute(context.Background(), st, runID, s, model.Blackboard{})
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.NoError(t, result.Err)
	assert.NotNil(t, result.Delta)

	log, err := st.GetAuditLog(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, string(store.AuditSuccess), log[0].Status)
}

func TestExecuteFailurePropagatesError(t *testing.T) {
	st := newTestStore(t)
	runID := newRun(t, st)

	s := fakeStep{name: "s3a_primary_search", timeout: time.Second, err: assertErr("boom")}

	result := Execute(context.Background(), st, runID, s, model.Blackboard{})
	assert.Equal(t, OutcomeFailure, result.Outcome)
	assert.Error(t, result.Err)
}

func TestExecuteTimesOutWhenBodyExceedsTimeout(t *testing.T) {
	st := newTestStore(t)
	runID := newRun(t, st)

	s := fakeStep{name: "s6_featured_intel", timeout: 10 * time.Millisecond, delay: 100 * time.Millisecond}

	result := Execute(context.Background(), st, runID, s, model.Blackboard{})
	assert.Equal(t, OutcomeTimeout, result.Outcome)

	log, err := st.GetAuditLog(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, string(store.AuditTimeout), log[0].Status)
}

func TestExecuteFailsFastWhenContextAlreadyCancelled(t *testing.T) {
	st := newTestStore(t)
	runID := newRun(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := fakeStep{name: "s4_rank_and_select", timeout: time.Second}
	result := Execute(ctx, st, runID, s, model.Blackboard{})
	assert.Equal(t, OutcomeFailure, result.Outcome)
	_, ok := result.Err.(*model.CancelledError)
	assert.True(t, ok)
}

func TestSkipRecordsSkippedAudit(t *testing.T) {
	st := newTestStore(t)
	runID := newRun(t, st)

	result := Skip(context.Background(), st, runID, "s3b_alternate_search", "no alternate keywords")
	assert.Equal(t, OutcomeSkipped, result.Outcome)

	log, err := st.GetAuditLog(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, string(store.AuditSkipped), log[0].Status)
	assert.Equal(t, "no alternate keywords", log[0].Message)
}

func TestExecuteRecordsWarningAuditAndStillMergesDelta(t *testing.T) {
	st := newTestStore(t)
	runID := newRun(t, st)

	s := fakeStep{name: "s13_validate", timeout: time.Second, delta: func(bb *model.Blackboard) {
		bb.ReportMarkdown = "fixed report"
	}, err: &model.Warning{Msg: "findings present", Metadata: map[string]any{"errors": []string{"missing date"}}}}

	result := Execute(context.Background(), st, runID, s, model.Blackboard{})
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.NoError(t, result.Err)
	assert.NotNil(t, result.Delta)

	log, err := st.GetAuditLog(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, string(store.AuditWarning), log[0].Status)
	assert.Equal(t, "findings present", log[0].Message)
}

func TestSummarizeDeltaSamplesLargeListsInsteadOfJustCounting(t *testing.T) {
	before := model.Blackboard{}
	opps := make([]signals.Record, 15)
	for i := range opps {
		opps[i] = signals.Record{"id": i}
	}

	delta := func(bb *model.Blackboard) {
		bb.OpportunitiesPrimary = opps
	}

	summary := summarizeDelta(before, delta)
	entry, ok := summary["opportunities_primary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 15, entry["count"])
	sample, ok := entry["sample"].([]any)
	require.True(t, ok)
	assert.Len(t, sample, maxMetadataListItems)
}

func TestSummarizeDeltaOmitsUnchangedFields(t *testing.T) {
	before := model.Blackboard{ReportMarkdown: "same"}
	delta := func(bb *model.Blackboard) {
		bb.ReportMarkdown = "same"
	}
	summary := summarizeDelta(before, delta)
	_, present := summary["report_markdown"]
	assert.False(t, present)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
