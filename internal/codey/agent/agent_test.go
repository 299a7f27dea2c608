package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codey/internal/codey/message"
	"codey/internal/codey/tool"
)

type fakeClient struct {
	responses [][]AgentStep
	errs      []error
	calls     int
	requests  []Request
}

func (f *fakeClient) Stream(_ context.Context, req Request) (<-chan AgentStep, error) {
	i := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	ch := make(chan AgentStep, len(f.responses[i]))
	for _, s := range f.responses[i] {
		ch <- s
	}
	close(ch)
	return ch, nil
}

func drain(ch <-chan AgentStep) []AgentStep {
	var out []AgentStep
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestAgent_SendMessageTransitionsToStreaming(t *testing.T) {
	a := New(0, &fakeClient{}, "sys", nil)
	assert.Equal(t, StateIdle, a.State())
	a.SendMessage("hello")
	assert.Equal(t, StateStreaming, a.State())
}

func TestAgent_FinishedStepReturnsToIdleAndAccumulatesUsage(t *testing.T) {
	client := &fakeClient{
		responses: [][]AgentStep{
			{
				{Kind: StepTextDelta, Text: "hi"},
				{Kind: StepFinished, Usage: Usage{InputTokens: 10, OutputTokens: 5, ContextTokens: 15}},
			},
		},
	}
	a := New(0, client, "sys", nil)
	a.SendMessage("hello")

	steps := drain(a.Run(context.Background(), ModeNormal))
	require.Len(t, steps, 2)
	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, ContextTokens: 15}, a.Usage())
}

func TestAgent_ToolRequestParksInAwaitingToolResults(t *testing.T) {
	client := &fakeClient{
		responses: [][]AgentStep{
			{{Kind: StepToolRequest, Calls: []ToolRequest{{CallId: "c1", Name: "read_file"}}}},
		},
	}
	a := New(0, client, "sys", nil)
	a.SendMessage("read a file")

	steps := drain(a.Run(context.Background(), ModeNormal))
	require.Len(t, steps, 1)
	assert.Equal(t, StateAwaitingToolResults, a.State())
}

func TestAgent_ToolRequestAppendsAssistantTurnSoNextRequestReplaysIt(t *testing.T) {
	client := &fakeClient{
		responses: [][]AgentStep{
			{{
				Kind: StepToolRequest,
				Calls: []ToolRequest{
					{CallId: "c1", Name: "read_file", Params: map[string]any{"path": "a.go"}},
				},
				ThinkingBlocks: []ThinkingBlock{{Text: "let me check the file", Signature: "sig-1"}},
			}},
			{{Kind: StepFinished}},
		},
	}
	a := New(0, client, "sys", nil)
	a.SendMessage("read a.go")
	drain(a.Run(context.Background(), ModeNormal))

	a.AppendToolResults([]message.ToolResult{{ToolUseId: "c1", Content: "file contents"}})
	drain(a.Run(context.Background(), ModeNormal))

	require.Len(t, client.requests, 2)
	second := client.requests[1]
	require.GreaterOrEqual(t, len(second.Messages), 2, "the second request must replay the assistant's own prior turn")

	assistantTurn := second.Messages[len(second.Messages)-2]
	require.Equal(t, message.RoleAssistant, assistantTurn.Role)
	require.Len(t, assistantTurn.Blocks, 2, "thinking block then tool_use, text is empty and omitted")
	assert.Equal(t, message.BlockThinking, assistantTurn.Blocks[0].Kind)
	assert.Equal(t, "sig-1", assistantTurn.Blocks[0].Signature)
	assert.Equal(t, message.BlockToolUse, assistantTurn.Blocks[1].Kind)
	assert.Equal(t, "c1", assistantTurn.Blocks[1].ToolUseId)
	assert.Equal(t, "read_file", assistantTurn.Blocks[1].ToolName)

	toolResultTurn := second.Messages[len(second.Messages)-1]
	require.Equal(t, message.RoleUser, toolResultTurn.Role)
	require.Len(t, toolResultTurn.Blocks, 1)
	assert.Equal(t, message.BlockToolResult, toolResultTurn.Blocks[0].Kind)
	assert.Equal(t, "c1", toolResultTurn.Blocks[0].ToolResultId)
}

func TestAgent_FinishedStepWithTextAppendsAssistantTurn(t *testing.T) {
	client := &fakeClient{
		responses: [][]AgentStep{
			{
				{Kind: StepTextDelta, Text: "the "},
				{Kind: StepTextDelta, Text: "answer"},
				{Kind: StepFinished},
			},
			{{Kind: StepFinished}},
		},
	}
	a := New(0, client, "sys", nil)
	a.SendMessage("what's the answer")
	drain(a.Run(context.Background(), ModeNormal))

	a.SendMessage("thanks")
	drain(a.Run(context.Background(), ModeNormal))

	second := client.requests[1]
	assistantTurn := second.Messages[len(second.Messages)-2]
	require.Equal(t, message.RoleAssistant, assistantTurn.Role)
	require.Len(t, assistantTurn.Blocks, 1)
	assert.Equal(t, "the answer", assistantTurn.Blocks[0].Text, "assistant text must accumulate across every delta in the turn")
}

func TestAgent_RetriesTransientErrorsThenSucceeds(t *testing.T) {
	client := &fakeClient{
		errs: []error{errors.New("connection reset"), nil},
		responses: [][]AgentStep{
			nil,
			{{Kind: StepFinished, Usage: Usage{InputTokens: 1}}},
		},
	}
	a := New(0, client, "sys", nil)
	a.SetBackoff(func(int) time.Duration { return 0 })
	a.SendMessage("hi")

	steps := drain(a.Run(context.Background(), ModeNormal))
	require.Len(t, steps, 2)
	assert.Equal(t, StepRetrying, steps[0].Kind)
	assert.Equal(t, 1, steps[0].Attempt)
	assert.Equal(t, StepFinished, steps[1].Kind)
	assert.Equal(t, StateIdle, a.State())
}

func TestAgent_ExhaustsRetriesAndReportsError(t *testing.T) {
	client := &fakeClient{
		errs:      []error{errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4")},
		responses: [][]AgentStep{nil, nil, nil, nil},
	}
	a := New(0, client, "sys", nil)
	a.SetBackoff(func(int) time.Duration { return 0 })
	a.SendMessage("hi")

	steps := drain(a.Run(context.Background(), ModeNormal))
	last := steps[len(steps)-1]
	assert.Equal(t, StepError, last.Kind)
	assert.Equal(t, StateIdle, a.State())
}

func TestAgent_RetryWaitsForBackoffBetweenAttempts(t *testing.T) {
	client := &fakeClient{
		errs: []error{errors.New("e1"), nil},
		responses: [][]AgentStep{
			nil,
			{{Kind: StepFinished}},
		},
	}
	a := New(0, client, "sys", nil)
	var waited time.Duration
	a.SetBackoff(func(attempt int) time.Duration {
		waited = time.Millisecond
		return waited
	})
	a.SendMessage("hi")

	start := time.Now()
	drain(a.Run(context.Background(), ModeNormal))
	assert.GreaterOrEqual(t, time.Since(start), waited)
}

func TestDefaultBackoff_GrowsExponentiallyAndCaps(t *testing.T) {
	d0 := defaultBackoff(0)
	d3 := defaultBackoff(3)
	d10 := defaultBackoff(10)
	assert.GreaterOrEqual(t, d0, 500*time.Millisecond)
	assert.Greater(t, d3, d0)
	assert.LessOrEqual(t, d10, 8*time.Second+2*time.Second, "delay must stay capped even at high attempt counts")
}

func TestAgent_ApplyFiltersSetsDecisionFromConfiguredFilters(t *testing.T) {
	client := &fakeClient{
		responses: [][]AgentStep{
			{{Kind: StepToolRequest, Calls: []ToolRequest{
				{CallId: "c1", Name: "shell", Params: map[string]any{"command": "ls -la"}},
				{CallId: "c2", Name: "shell", Params: map[string]any{"command": "rm -rf /"}},
				{CallId: "c3", Name: "read_file", Params: map[string]any{"path": "a.go"}},
			}}},
		},
	}
	a := New(0, client, "sys", nil)
	cf, err := tool.Compile("shell", tool.FilterConfig{
		"command": tool.ParamFilterConfig{Allow: []string{"^ls\\b"}, Deny: []string{"rm\\s+-rf"}},
	})
	require.NoError(t, err)
	a.SetFilters(map[string]*tool.CompiledFilter{"shell": cf})
	a.SendMessage("hi")

	steps := drain(a.Run(context.Background(), ModeNormal))
	require.Len(t, steps, 1)
	calls := steps[0].Calls
	assert.Equal(t, tool.DecisionApproved, calls[0].Decision)
	assert.Equal(t, tool.DecisionDenied, calls[1].Decision)
	assert.Equal(t, tool.DecisionUnset, calls[2].Decision, "a tool with no configured filter is left unset")
}

func TestAgent_CancelReturnsToIdleAndMarksTurnInterrupted(t *testing.T) {
	block := make(chan AgentStep)
	client := &blockingClient{ch: block}
	a := New(0, client, "sys", nil)
	a.SendMessage("hi")

	out := a.Run(context.Background(), ModeNormal)
	a.Cancel()
	close(block)
	drain(out)

	assert.Equal(t, StateIdle, a.State())
	last := a.messages[len(a.messages)-1]
	assert.Equal(t, message.RoleAssistant, last.Role)
	require.NotEmpty(t, last.Blocks)
	assert.Equal(t, "[turn interrupted by user]", last.Blocks[0].Text)
}

type blockingClient struct{ ch chan AgentStep }

func (c *blockingClient) Stream(ctx context.Context, _ Request) (<-chan AgentStep, error) {
	go func() {
		<-ctx.Done()
	}()
	return c.ch, nil
}

func TestCompactionMode_DisablesToolsAndCapsThinking(t *testing.T) {
	opts := ModeCompaction.Options()
	assert.False(t, opts.ToolsEnabled)
	assert.False(t, opts.CaptureToolCalls)
	assert.Equal(t, 8000, opts.ThinkingBudget)
}
