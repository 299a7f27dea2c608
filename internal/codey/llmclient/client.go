// Package llmclient implements a raw SSE streaming client for Anthropic's
// Messages API, in the same style the rest of this codebase's HTTP
// clients use: net/http plus a line-oriented bufio.Scanner over the
// "data: " prefixed event stream, rather than a generated SDK.
package llmclient

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codey/internal/codey/agent"
	"codey/internal/codey/jsonutil"
	"codey/internal/codey/logging"
	"codey/internal/codey/message"
)

// anthropicBetaHeader enables OAuth bearer auth, the Claude Code system
// prompt variant, interleaved thinking, and fine-grained tool-use
// streaming in a single opt-in list.
const anthropicBetaHeader = "oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"

const anthropicUserAgent = "codey/1.0 codey-runtime/1.0"

const defaultEndpoint = "https://api.anthropic.com/v1/messages"

var log = logging.For("llmclient")

// Credentials selects how requests authenticate: either a bearer OAuth
// access token, or a plain API key. Exactly one should be set.
type Credentials struct {
	OAuthAccessToken string
	APIKey           string
}

// Client streams Messages API turns over SSE and adapts the wire events
// into agent.AgentStep values.
type Client struct {
	HTTPClient *http.Client
	Endpoint   string
	Model      string
	MaxTokens  int
	Creds      Credentials
}

func New(model string, creds Credentials) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Endpoint:   defaultEndpoint,
		Model:      model,
		MaxTokens:  8192,
		Creds:      creds,
	}
}

// Stream implements agent.StreamClient.
func (c *Client) Stream(ctx context.Context, req agent.Request) (<-chan agent.AgentStep, error) {
	body := c.buildRequestBody(req)
	payload, err := jsonutil.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("anthropic returned status %d", resp.StatusCode)
	}

	out := make(chan agent.AgentStep, 16)
	go c.readStream(resp.Body, out)
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("content-type", "application/json")
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("anthropic-beta", anthropicBetaHeader)
	req.Header.Set("user-agent", anthropicUserAgent)
	if c.Creds.OAuthAccessToken != "" {
		req.Header.Set("authorization", "Bearer "+c.Creds.OAuthAccessToken)
	} else {
		req.Header.Set("x-api-key", c.Creds.APIKey)
	}
}

func (c *Client) readStream(body readCloser, out chan<- agent.AgentStep) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	acc := newAccumulator()

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		step, done := acc.feed(data)
		if step != nil {
			out <- *step
		}
		if done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("stream read error: %v", err)
		out <- agent.AgentStep{Kind: agent.StepError, Err: err}
	}
}

// readCloser mirrors io.ReadCloser to avoid an unused-import footgun when
// swapping test doubles that don't need the full net/http response type.
type readCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

func (c *Client) buildRequestBody(req agent.Request) map[string]any {
	body := map[string]any{
		"model":      c.Model,
		"max_tokens": c.MaxTokens,
		"system": []map[string]any{
			{
				"type":          "text",
				"text":          req.SystemPrompt,
				"cache_control": map[string]any{"type": "ephemeral"},
			},
		},
		"messages": encodeMessages(req.Messages),
		"stream":   true,
	}
	if req.Options.ToolsEnabled && len(req.Tools) > 0 {
		body["tools"] = encodeTools(req.Tools)
	}
	if req.Options.ThinkingBudget > 0 {
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": req.Options.ThinkingBudget}
	}
	return body
}

func encodeTools(tools []agent.ToolSchema) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		})
	}
	return out
}

func encodeMessages(msgs []message.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]map[string]any, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			blocks = append(blocks, encodeBlock(b))
		}
		out = append(out, map[string]any{"role": string(m.Role), "content": blocks})
	}
	return out
}

func encodeBlock(b message.Block) map[string]any {
	switch b.Kind {
	case message.BlockText:
		return map[string]any{"type": "text", "text": b.Text}
	case message.BlockThinking:
		return map[string]any{"type": "thinking", "thinking": b.Text, "signature": b.Signature}
	case message.BlockToolUse:
		return map[string]any{"type": "tool_use", "id": b.ToolUseId, "name": b.ToolName, "input": b.ToolInput}
	case message.BlockToolResult:
		return map[string]any{
			"type":        "tool_result",
			"tool_use_id": b.ToolResultId,
			"content":     b.ToolResultContent,
			"is_error":    b.ToolResultIsError,
		}
	default:
		return map[string]any{}
	}
}
