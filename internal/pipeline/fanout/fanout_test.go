package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/pipeline/model"
	"github.com/TenSpy-ai/starbridge/internal/pipeline/step"
	"github.com/stretchr/testify/assert"
)

type stubStep struct {
	name    string
	timeout time.Duration
	outcome step.Outcome
	delta   model.Delta
}

func (s stubStep) Name() string           { return s.name }
func (s stubStep) Timeout() time.Duration { return s.timeout }
func (s stubStep) Run(ctx context.Context, bb model.Blackboard) (model.Delta, error) {
	return s.delta, nil
}

func TestRunExecutesAllBranchesInOrder(t *testing.T) {
	branches := []Branch{
		{Step: stubStep{name: "a"}},
		{Step: stubStep{name: "b"}},
		{Step: stubStep{name: "c"}},
	}

	var seen []string
	results := Run(context.Background(), func(ctx context.Context, s step.Step) step.Result {
		seen = append(seen, s.Name())
		name := s.Name()
		return step.Result{Outcome: step.OutcomeSuccess, Delta: func(b *model.Blackboard) { b.SectionCTA = name }}
	}, branches)

	assert.Len(t, results, 3)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	for i, want := range []string{"a", "b", "c"} {
		var bb model.Blackboard
		bb.Merge(results[i].Delta)
		assert.Equal(t, want, bb.SectionCTA)
	}
}

func TestMergeAllAppliesOnlySuccessfulDeltas(t *testing.T) {
	bb := &model.Blackboard{}
	results := []step.Result{
		{Outcome: step.OutcomeSuccess, Delta: func(b *model.Blackboard) { b.SectionCTA = "cta" }},
		{Outcome: step.OutcomeFailure, Delta: func(b *model.Blackboard) { b.SectionCTA = "should not apply" }},
		{Outcome: step.OutcomeSkipped},
	}

	MergeAll(bb, results)
	assert.Equal(t, "cta", bb.SectionCTA)
}

func TestAnyFailedDetectsFailureAndTimeout(t *testing.T) {
	assert.False(t, AnyFailed([]step.Result{{Outcome: step.OutcomeSuccess}, {Outcome: step.OutcomeSkipped}}))
	assert.True(t, AnyFailed([]step.Result{{Outcome: step.OutcomeSuccess}, {Outcome: step.OutcomeFailure}}))
	assert.True(t, AnyFailed([]step.Result{{Outcome: step.OutcomeTimeout}}))
}
