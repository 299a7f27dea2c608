package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codey/internal/codey/agent"
)

func TestAccumulator_TextDeltaThenFinished(t *testing.T) {
	a := newAccumulator()

	step, done := a.feed(`{"type":"message_start","usage":{"input_tokens":100}}`)
	assert.Nil(t, step)
	assert.False(t, done)

	_, _ = a.feed(`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`)
	step, _ = a.feed(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)
	require.NotNil(t, step)
	assert.Equal(t, agent.StepTextDelta, step.Kind)
	assert.Equal(t, "hi", step.Text)

	_, _ = a.feed(`{"type":"content_block_stop","index":0}`)
	_, _ = a.feed(`{"type":"message_delta","usage":{"output_tokens":5}}`)
	step, done = a.feed(`{"type":"message_stop"}`)
	require.NotNil(t, step)
	assert.True(t, done)
	assert.Equal(t, agent.StepFinished, step.Kind)
	assert.Equal(t, 100, step.Usage.InputTokens)
	assert.Equal(t, 5, step.Usage.OutputTokens)
}

func TestAccumulator_ToolUseAccumulatesPartialJson(t *testing.T) {
	a := newAccumulator()
	_, _ = a.feed(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"read_file"}}`)
	_, _ = a.feed(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`)
	_, _ = a.feed(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`)
	_, _ = a.feed(`{"type":"content_block_stop","index":0}`)

	step, done := a.feed(`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":3}}`)
	require.NotNil(t, step)
	assert.False(t, done)
	require.Len(t, step.Calls, 1)
	assert.Equal(t, "read_file", step.Calls[0].Name)
	assert.Equal(t, "a.txt", step.Calls[0].Params["path"])
}

func TestAccumulator_ThinkingSignaturePreservedVerbatim(t *testing.T) {
	a := newAccumulator()
	_, _ = a.feed(`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`)
	_, _ = a.feed(`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"reasoning..."}}`)
	_, _ = a.feed(`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"opaque-sig-xyz"}}`)
	_, _ = a.feed(`{"type":"content_block_stop","index":0}`)

	step, _ := a.feed(`{"type":"message_stop"}`)
	require.NotNil(t, step)
	require.Len(t, step.ThinkingBlocks, 1)
	assert.Equal(t, "reasoning...", step.ThinkingBlocks[0].Text)
	assert.Equal(t, "opaque-sig-xyz", step.ThinkingBlocks[0].Signature)
}

func TestAccumulator_UnparseableLineIsIgnored(t *testing.T) {
	a := newAccumulator()
	step, done := a.feed(`not json`)
	assert.Nil(t, step)
	assert.False(t, done)
}
