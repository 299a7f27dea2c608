package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

type echoTool struct{}

func (echoTool) Definition() tool.Definition {
	return tool.Definition{Name: "echo", Description: "echoes its input"}
}

func (echoTool) Compose(params map[string]any) *pipeline.Pipeline {
	msg, _ := params["message"].(string)
	return pipeline.New().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		return pipeline.Output(msg)
	}))
}

type approvalTool struct{}

func (approvalTool) Definition() tool.Definition {
	return tool.Definition{Name: "danger", Description: "requires approval"}
}

func (approvalTool) Compose(params map[string]any) *pipeline.Pipeline {
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		return pipeline.Output("did the dangerous thing")
	}))
}

// cleanupTool errors when fail is set and succeeds otherwise, and
// registers a Finally handler that records whether it ran and what
// outcome it saw, for asserting Finally coverage on every exit path.
type cleanupTool struct {
	ran      *bool
	outcomes *[]pipeline.FinallyOutcome
	fail     bool
}

func (cleanupTool) Definition() tool.Definition {
	return tool.Definition{Name: "cleanup", Description: "records its Finally outcome"}
}

func (c cleanupTool) Compose(params map[string]any) *pipeline.Pipeline {
	p := pipeline.New().RequireApproval()
	p.Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		if c.fail {
			return pipeline.Error("boom")
		}
		return pipeline.Output("ok")
	}))
	p.Finally(pipeline.HandlerFunc(func(_ context.Context, pc *pipeline.Context) pipeline.Step {
		*c.ran = true
		*c.outcomes = append(*c.outcomes, pc.Outcome)
		return pipeline.Continue()
	}))
	return p
}

type backgroundTool struct{}

func (backgroundTool) Definition() tool.Definition {
	return tool.Definition{Name: "slow", Description: "background-capable tool"}
}

func (backgroundTool) Compose(params map[string]any) *pipeline.Pipeline {
	return pipeline.New().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		return pipeline.Output("finished slowly")
	}))
}

func newRegistry() *tool.Registry {
	return tool.NewRegistry("test").
		Register(echoTool{}).
		Register(approvalTool{}).
		Register(backgroundTool{})
}

func TestExecutor_SimpleToolRunsToCompletion(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "echo", Params: map[string]any{"message": "hi"}})

	_, delegated := e.Tick(context.Background())
	assert.Empty(t, delegated)

	finished := e.TakeFinished()
	require.Len(t, finished, 1)
	assert.Equal(t, pipeline.CallId("c1"), finished[0].CallId)
	assert.Equal(t, "hi", finished[0].Content)
	assert.False(t, finished[0].IsError)
	assert.Equal(t, 0, e.ActiveCount())
}

func TestExecutor_UnknownToolFailsImmediately(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "nope"})
	e.Tick(context.Background())

	finished := e.TakeFinished()
	require.Len(t, finished, 1)
	assert.True(t, finished[0].IsError)
}

func TestExecutor_ApprovalGateParksThenResumes(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "danger"})

	outcomes, _ := e.Tick(context.Background())
	assert.Empty(t, outcomes, "pipeline must not advance past the approval gate on its own")
	assert.Equal(t, 1, e.ActiveCount())

	e.Approve(context.Background(), "c1", true)
	e.Tick(context.Background())
	finished := e.TakeFinished()
	require.Len(t, finished, 1)
	assert.Equal(t, "did the dangerous thing", finished[0].Content)
}

func TestExecutor_DeniedApprovalProducesErrorOutcome(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "danger"})
	e.Tick(context.Background())

	e.Approve(context.Background(), "c1", false)
	finished := e.TakeFinished()
	require.Len(t, finished, 1)
	assert.True(t, finished[0].IsError)
	assert.Equal(t, "Denied by user", finished[0].Content)
	assert.Equal(t, 0, e.ActiveCount())
}

func TestExecutor_CancelPendingRemovesWithoutOutcome(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "echo", Params: map[string]any{"message": "x"}})
	e.Cancel(context.Background(), "c1")

	outcomes, _ := e.Tick(context.Background())
	assert.Empty(t, outcomes)
	assert.Equal(t, 0, e.PendingCount())
}

func TestExecutor_CancelActiveRunsFinallyAndProducesErrorOutcome(t *testing.T) {
	var ran bool
	var outcomes []pipeline.FinallyOutcome
	reg := tool.NewRegistry("test").Register(cleanupTool{ran: &ran, outcomes: &outcomes})
	e := New(reg)
	e.Enqueue(ToolCall{CallId: "c1", Name: "cleanup"})
	e.Tick(context.Background()) // parks on approval gate

	e.Cancel(context.Background(), "c1")
	assert.True(t, ran, "Finally must run when an active call is cancelled")
	require.Len(t, outcomes, 1)
	assert.Equal(t, pipeline.FinallyCancelled, outcomes[0])

	finished := e.TakeFinished()
	require.Len(t, finished, 1)
	assert.True(t, finished[0].IsError)
}

func TestExecutor_FinallyRunsExactlyOnceOnSuccessErrorAndDenial(t *testing.T) {
	cases := []struct {
		name     string
		fail     bool
		approve  bool
		expected pipeline.FinallyOutcome
	}{
		{"success", false, true, pipeline.FinallySuccess},
		{"error", true, true, pipeline.FinallyError},
		{"denied", false, false, pipeline.FinallyDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ran bool
			var outcomes []pipeline.FinallyOutcome
			reg := tool.NewRegistry("test").Register(cleanupTool{ran: &ran, outcomes: &outcomes, fail: tc.fail})
			e := New(reg)
			e.Enqueue(ToolCall{CallId: "c1", Name: "cleanup"})
			e.Tick(context.Background())

			e.Approve(context.Background(), "c1", tc.approve)
			if tc.approve {
				e.Tick(context.Background())
			}

			require.Len(t, outcomes, 1, "Finally must run exactly once")
			assert.Equal(t, tc.expected, outcomes[0])
		})
	}
}

func TestExecutor_MultipleTicksAreIdempotentWhenIdle(t *testing.T) {
	e := New(newRegistry())
	for i := 0; i < 3; i++ {
		outcomes, delegated := e.Tick(context.Background())
		assert.Empty(t, outcomes)
		assert.Empty(t, delegated)
	}
}

func TestExecutor_BackgroundCallEmitsStartedThenCompletedAndPersistsUntilTaken(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "slow", Background: true})

	e.Tick(context.Background())
	events := e.TakeBackgroundEvents()
	require.Len(t, events, 2, "a gate-less background call starts and completes in the same tick")
	assert.Equal(t, BackgroundStarted, events[0].Kind)
	assert.Equal(t, BackgroundCompleted, events[1].Kind)

	assert.Empty(t, e.TakeFinished(), "a background call's result must not be delivered as a normal Outcome")
	assert.Equal(t, 1, e.ActiveCount(), "the call stays active until its result is retrieved")

	tasks := e.ListTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskComplete, tasks[0].Status)

	result, ok := e.TakeResult("c1")
	require.True(t, ok)
	assert.Equal(t, "finished slowly", result.Content)
	assert.Equal(t, 0, e.ActiveCount())

	_, ok = e.TakeResult("c1")
	assert.False(t, ok, "a retrieved result must not be retrievable twice")
}

func TestExecutor_BackgroundCallAwaitingApprovalDoesNotEmitStartedYet(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "danger", Background: true})

	e.Tick(context.Background())
	assert.Empty(t, e.TakeBackgroundEvents(), "BackgroundStarted waits for the approval gate to clear")

	e.Approve(context.Background(), "c1", true)
	e.Tick(context.Background())
	events := e.TakeBackgroundEvents()
	require.Len(t, events, 2)
	assert.Equal(t, BackgroundStarted, events[0].Kind)
	assert.Equal(t, BackgroundCompleted, events[1].Kind)
}

func TestExecutor_ListTasksExcludesForegroundCalls(t *testing.T) {
	e := New(newRegistry())
	e.Enqueue(ToolCall{CallId: "c1", Name: "echo", Params: map[string]any{"message": "hi"}})
	e.Tick(context.Background())
	assert.Empty(t, e.ListTasks())
}
