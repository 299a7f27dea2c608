package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ *Context) Step { return Continue() }

func TestFlatten_NoApproval(t *testing.T) {
	p := New().Pre(HandlerFunc(noop)).Then(HandlerFunc(noop)).Post(HandlerFunc(noop))
	stages := p.Stages()
	require.Len(t, stages, 3)
	for _, s := range stages {
		assert.False(t, s.IsApprovalGate)
	}
}

func TestFlatten_InsertsApprovalBetweenPreAndExecute(t *testing.T) {
	p := New().
		PreAll(HandlerFunc(noop), HandlerFunc(noop)).
		RequireApproval().
		Then(HandlerFunc(noop)).
		Post(HandlerFunc(noop))

	stages := p.Stages()
	require.Len(t, stages, 5)
	assert.False(t, stages[0].IsApprovalGate)
	assert.False(t, stages[1].IsApprovalGate)
	assert.True(t, stages[2].IsApprovalGate, "approval gate must sit between pre and execute stages")
	assert.False(t, stages[3].IsApprovalGate)
	assert.False(t, stages[4].IsApprovalGate)
}

func TestFlatten_IsIdempotent(t *testing.T) {
	p := New().RequireApproval().Then(HandlerFunc(noop))
	first := p.Stages()
	second := p.Stages()
	assert.Equal(t, len(first), len(second))
}

func TestErrorPipeline(t *testing.T) {
	p := ErrorPipeline("bad params")
	stages := p.Stages()
	require.Len(t, stages, 1)
	step := stages[0].Handler.Call(context.Background(), NewContext("c1", nil))
	assert.Equal(t, StepError, step.Kind)
	assert.Equal(t, "bad params", step.Content)
}

func TestFinallyStages_NotIncludedInFlattenedStages(t *testing.T) {
	p := New().RequireApproval().Then(HandlerFunc(noop)).Finally(HandlerFunc(noop))
	assert.Len(t, p.Stages(), 2, "Finally handlers run out-of-band, not as a normal stage")
	assert.Len(t, p.FinallyStages(), 1)
}

func TestFinallyStages_RunInRegistrationOrder(t *testing.T) {
	var order []int
	record := func(i int) HandlerFunc {
		return func(_ context.Context, _ *Context) Step {
			order = append(order, i)
			return Continue()
		}
	}
	p := New().Finally(record(1)).Finally(record(2))
	for _, h := range p.FinallyStages() {
		h.Call(context.Background(), NewContext("c1", nil))
	}
	assert.Equal(t, []int{1, 2}, order)
}

func TestContext_StoreGet(t *testing.T) {
	pc := NewContext("c1", map[string]any{"path": "/tmp/x"})
	path, ok := pc.ParamString("path")
	require.True(t, ok)
	assert.Equal(t, "/tmp/x", path)

	pc.Store("resolved", 42)
	v, ok := pc.Get("resolved")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = pc.Get("missing")
	assert.False(t, ok)
}
