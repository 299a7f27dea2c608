package llmclient

import (
	"strings"

	"codey/internal/codey/agent"
	"codey/internal/codey/jsonutil"
)

// blockState accumulates one content block across its start/delta/stop
// events, since tool_use input arrives as a stream of partial JSON
// fragments (input_json_delta) rather than a single payload.
type blockState struct {
	kind      string
	toolId    string
	toolName  string
	textBuf   strings.Builder
	jsonBuf   strings.Builder
	signature string
}

// accumulator turns a sequence of raw SSE "data:" payloads from
// Anthropic's Messages API into agent.AgentStep values.
type accumulator struct {
	blocks           map[int]*blockState
	pendingToolCalls []agent.ToolRequest
	thinkingBlocks   []agent.ThinkingBlock
	usage            agent.Usage
}

func newAccumulator() *accumulator {
	return &accumulator{blocks: map[int]*blockState{}}
}

// feed decodes one SSE payload and returns the AgentStep it produces, if
// any, plus whether the stream has reached its terminal event.
func (a *accumulator) feed(data string) (*agent.AgentStep, bool) {
	var evt struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			Thinking    string `json:"thinking"`
			Signature   string `json:"signature"`
			PartialJson string `json:"partial_json"`
			StopReason  string `json:"stop_reason"`
		} `json:"delta"`
		ContentBlock struct {
			Type  string         `json:"type"`
			Id    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content_block"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := jsonutil.UnmarshalString(data, &evt); err != nil {
		return nil, false
	}

	switch evt.Type {
	case "content_block_start":
		bs := &blockState{kind: evt.ContentBlock.Type, toolId: evt.ContentBlock.Id, toolName: evt.ContentBlock.Name}
		a.blocks[evt.Index] = bs

	case "content_block_delta":
		bs := a.blocks[evt.Index]
		if bs == nil {
			return nil, false
		}
		switch evt.Delta.Type {
		case "text_delta":
			bs.textBuf.WriteString(evt.Delta.Text)
			return &agent.AgentStep{Kind: agent.StepTextDelta, Text: evt.Delta.Text}, false
		case "thinking_delta":
			bs.textBuf.WriteString(evt.Delta.Thinking)
			return &agent.AgentStep{Kind: agent.StepThinkingDelta, Text: evt.Delta.Thinking}, false
		case "signature_delta":
			bs.signature = evt.Delta.Signature
		case "input_json_delta":
			bs.jsonBuf.WriteString(evt.Delta.PartialJson)
		}

	case "content_block_stop":
		bs := a.blocks[evt.Index]
		if bs != nil && bs.kind == "tool_use" {
			params := map[string]any{}
			if bs.jsonBuf.Len() > 0 {
				_ = jsonutil.UnmarshalString(bs.jsonBuf.String(), &params)
			}
			a.pendingToolCalls = append(a.pendingToolCalls, agent.ToolRequest{
				CallId: bs.toolId,
				Name:   bs.toolName,
				Params: params,
			})
		}
		if bs != nil && bs.kind == "thinking" && bs.signature != "" {
			a.thinkingBlocks = append(a.thinkingBlocks, agent.ThinkingBlock{
				Text:      bs.textBuf.String(),
				Signature: bs.signature,
			})
		}

	case "message_delta":
		a.usage.OutputTokens += evt.Usage.OutputTokens
		if evt.Delta.StopReason == "tool_use" && len(a.pendingToolCalls) > 0 {
			return &agent.AgentStep{Kind: agent.StepToolRequest, Calls: a.pendingToolCalls, ThinkingBlocks: a.thinkingBlocks}, false
		}

	case "message_start":
		a.usage.InputTokens = evt.Usage.InputTokens

	case "message_stop":
		if len(a.pendingToolCalls) > 0 {
			return &agent.AgentStep{Kind: agent.StepToolRequest, Calls: a.pendingToolCalls, ThinkingBlocks: a.thinkingBlocks}, true
		}
		a.usage.ContextTokens = a.usage.InputTokens + a.usage.OutputTokens
		return &agent.AgentStep{
			Kind:           agent.StepFinished,
			Usage:          a.usage,
			ThinkingBlocks: a.thinkingBlocks,
		}, true
	}
	return nil, false
}
