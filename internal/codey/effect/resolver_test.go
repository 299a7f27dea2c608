package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chanResponder(buf int) (chan Result, Responder) {
	ch := make(chan Result, buf)
	return ch, Responder(ch)
}

func TestResolver_OnlyOneApprovalAcknowledgedAtATime(t *testing.T) {
	r := NewResolver()
	_, resp1 := chanResponder(1)
	_, resp2 := chanResponder(1)

	pe1 := &PendingEffect{CallId: "a", Effect: Effect{Kind: KindAwaitApproval}, Responder: resp1}
	pe2 := &PendingEffect{CallId: "b", Effect: Effect{Kind: KindAwaitApproval}, Responder: resp2}
	r.Push(pe1)
	r.Push(pe2)

	first := r.NextPollable()
	require.NotNil(t, first)
	assert.Equal(t, "a", first.CallId)
	assert.True(t, pe1.Acknowledged)

	second := r.NextPollable()
	require.NotNil(t, second)
	assert.Equal(t, "a", second.CallId, "second approval must not be claimable while the first is outstanding")
	assert.False(t, pe2.Acknowledged)
}

func TestResolver_FirstExclusiveEffectClaimsFreeResource(t *testing.T) {
	r := NewResolver()
	_, resp1 := chanResponder(1)
	_, resp2 := chanResponder(1)

	blocked := &PendingEffect{CallId: "blocked", Effect: Effect{Kind: KindIdeShowPreview}, Responder: resp1}
	free := &PendingEffect{CallId: "free", Effect: Effect{Kind: KindListBackgroundTasks}, Responder: resp2}
	r.Push(blocked)
	r.Push(free)

	next := r.NextPollable()
	require.NotNil(t, next)
	assert.Equal(t, "blocked", next.CallId, "the first IDE preview claims the resource since nothing holds it yet")
}

func TestResolver_PollOnceIsNonDestructiveUntilReady(t *testing.T) {
	r := NewResolver()
	ch, resp := chanResponder(1)
	pe := &PendingEffect{CallId: "x", Effect: Effect{Kind: KindNotify}, Responder: resp}
	r.Push(pe)

	_, _, ok := r.PollOnce()
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len(), "an unready effect must remain queued")

	ch <- Result{Value: "done"}
	got, res, ok := r.PollOnce()
	require.True(t, ok)
	assert.Equal(t, "x", got.CallId)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, 0, r.Len())
}

func TestPendingEffect_PollReceivesResultOnlyOnce(t *testing.T) {
	ch, resp := chanResponder(1)
	pe := &PendingEffect{CallId: "x", Responder: resp}
	ch <- Result{Value: "v"}

	res, ok := pe.Poll()
	require.True(t, ok)
	assert.Equal(t, "v", res.Value)

	_, ok = pe.Poll()
	assert.False(t, ok, "the channel is drained after one successful receive")
}
