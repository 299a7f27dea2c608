// Package agent implements the single-agent conversation state machine:
// Idle -> Streaming -> AwaitingToolResults -> Idle, with a Retrying
// sub-state entered on transient upstream errors. An Agent never blocks
// its own goroutine on I/O; it hands a StreamClient a request and is fed
// AgentStep values back through a channel that the event loop polls
// alongside everything else.
package agent

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"codey/internal/codey/message"
	"codey/internal/codey/tool"
)

// State names where the Agent sits in its turn-taking cycle.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateAwaitingToolResults
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAwaitingToolResults:
		return "awaiting_tool_results"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Usage tracks token accounting for a single Agent across its lifetime.
// ContextTokens is a snapshot (set, not accumulated) of the most recent
// turn's total context size, used to decide when compaction is due.
type Usage struct {
	InputTokens   int
	OutputTokens  int
	ContextTokens int
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ContextTokens = other.ContextTokens
}

// StepKind discriminates AgentStep variants streamed out of an Agent.
type StepKind int

const (
	StepTextDelta StepKind = iota
	StepThinkingDelta
	StepCompactionDelta
	StepToolRequest
	StepRetrying
	StepFinished
	StepError
)

// ToolRequest is one tool-use block the model asked for. Decision starts
// unset and is filled in by the Agent from its configured filters before
// the request ever reaches the Executor, so a read-only tool matching an
// allow pattern can skip approval without the Executor re-deriving it.
type ToolRequest struct {
	CallId   string
	Name     string
	Params   map[string]any
	Decision tool.Decision
}

// ThinkingBlock is one thinking segment as it will be replayed back to the
// model: its full text plus the opaque signature Anthropic requires echoed
// back verbatim whenever a thinking block precedes a tool_use in the same
// turn.
type ThinkingBlock struct {
	Text      string
	Signature string
}

// AgentStep is one unit of progress an Agent emits while streaming a
// turn to completion.
type AgentStep struct {
	Kind    StepKind
	Text    string
	Calls   []ToolRequest
	Attempt int
	Err     error

	Usage          Usage
	ThinkingBlocks []ThinkingBlock
}

// RequestMode selects the shape of the next request sent to the LLM.
// Compaction requests disable tool use and tool-call capture and cap the
// thinking budget, since their only job is to summarize prior turns.
type RequestMode int

const (
	ModeNormal RequestMode = iota
	ModeCompaction
)

// ModeOptions is the concrete request shaping for a RequestMode.
type ModeOptions struct {
	ToolsEnabled     bool
	ThinkingBudget   int
	CaptureToolCalls bool
}

func (m RequestMode) Options() ModeOptions {
	switch m {
	case ModeCompaction:
		return ModeOptions{ToolsEnabled: false, ThinkingBudget: 8000, CaptureToolCalls: false}
	default:
		return ModeOptions{ToolsEnabled: true, ThinkingBudget: 0, CaptureToolCalls: true}
	}
}

// StreamClient is the boundary between an Agent and its LLM transport.
// llmclient.Client implements this; tests substitute a fake.
type StreamClient interface {
	Stream(ctx context.Context, req Request) (<-chan AgentStep, error)
}

// Request is everything a StreamClient needs to run one turn.
type Request struct {
	SystemPrompt string
	Messages     []message.Message
	Tools        []ToolSchema
	Options      ModeOptions
}

// ToolSchema is the wire shape of a tool definition sent to the LLM.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Agent drives one conversation: it owns message history and usage
// totals, and exposes a small state machine over StreamClient turns.
type Agent struct {
	Id           int
	client       StreamClient
	systemPrompt string
	messages     []message.Message
	tools        []ToolSchema
	maxRetries   int
	filters      map[string]*tool.CompiledFilter
	backoff      func(attempt int) time.Duration

	state      State
	totalUsage Usage
	cancel     context.CancelFunc
}

func New(id int, client StreamClient, systemPrompt string, tools []ToolSchema) *Agent {
	return &Agent{
		Id:           id,
		client:       client,
		systemPrompt: systemPrompt,
		tools:        tools,
		maxRetries:   3,
		state:        StateIdle,
		backoff:      defaultBackoff,
	}
}

// defaultBackoff implements capped exponential backoff with jitter:
// base * 2^attempt, capped at 8s, plus up to 25% random jitter so a burst
// of concurrently-retrying agents doesn't all wake up in lockstep.
func defaultBackoff(attempt int) time.Duration {
	const base = 500 * time.Millisecond
	const maxDelay = 8 * time.Second

	delay := base << attempt // base * 2^attempt
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func (a *Agent) State() State { return a.state }
func (a *Agent) Usage() Usage { return a.totalUsage }

// SetTools replaces the tool schema list sent with every subsequent
// request. Callers that register additional tools after constructing the
// primary Agent (e.g. tools that need the agent's own id before they can
// be built) call this once registration is complete, before the first
// SendMessage.
func (a *Agent) SetTools(tools []ToolSchema) { a.tools = tools }

// SetFilters installs the compiled per-tool approval filters the Agent
// consults when it builds a StepToolRequest, letting read-only tools that
// match an allow pattern skip approval without the Executor re-deriving
// it from its own copy of the same filters.
func (a *Agent) SetFilters(filters map[string]*tool.CompiledFilter) { a.filters = filters }

// SetBackoff overrides the delay strategy between retry attempts. Tests
// use this to run retry loops without real sleeps.
func (a *Agent) SetBackoff(backoff func(attempt int) time.Duration) { a.backoff = backoff }

// applyFilters sets each call's Decision from the Agent's configured
// filters. A call whose tool has no configured filter, or whose params
// match neither an allow nor a deny pattern, is left DecisionUnset for
// the Executor to resolve itself.
func (a *Agent) applyFilters(calls []ToolRequest) {
	for i, call := range calls {
		cf, ok := a.filters[call.Name]
		if !ok {
			continue
		}
		switch cf.Evaluate(call.Params) {
		case tool.FilterAllow:
			calls[i].Decision = tool.DecisionApproved
		case tool.FilterDeny:
			calls[i].Decision = tool.DecisionDenied
		}
	}
}

// Cancel aborts the Agent's active stream, drops any pending tool-result
// expectation, returns the Agent to Idle, and marks the in-flight
// assistant turn as interrupted in message history. It is a no-op if the
// Agent is already Idle.
func (a *Agent) Cancel() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.state == StateIdle {
		return
	}
	a.messages = append(a.messages, message.Assistant(message.Block{
		Kind: message.BlockText, Text: "[turn interrupted by user]",
	}))
	a.state = StateIdle
}

// SendMessage appends a user message and transitions Idle -> Streaming.
func (a *Agent) SendMessage(text string) {
	a.messages = append(a.messages, message.User(text))
	a.state = StateStreaming
}

// AppendToolResults appends tool_result content and transitions
// AwaitingToolResults -> Streaming, ready for the next Run call.
func (a *Agent) AppendToolResults(results []message.ToolResult) {
	a.messages = append(a.messages, message.ToolResults(results))
	a.state = StateStreaming
}

// Run streams the current turn to completion (or a tool-request pause),
// retrying transient failures up to maxRetries times. It returns a
// channel of AgentStep that closes once the turn reaches a terminal
// step (Finished, ToolRequest, or Error after exhausting retries).
func (a *Agent) Run(ctx context.Context, mode RequestMode) <-chan AgentStep {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	out := make(chan AgentStep, 8)
	go a.runLoop(runCtx, mode, out)
	return out
}

func (a *Agent) runLoop(ctx context.Context, mode RequestMode, out chan<- AgentStep) {
	defer close(out)

	opts := mode.Options()
	req := Request{
		SystemPrompt: a.systemPrompt,
		Messages:     a.messages,
		Tools:        a.tools,
		Options:      opts,
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			a.state = StateRetrying
			out <- AgentStep{Kind: StepRetrying, Attempt: attempt, Err: lastErr}
			if !sleepOrCancelled(ctx, a.backoff(attempt-1)) {
				a.state = StateIdle
				out <- AgentStep{Kind: StepError, Err: ctx.Err()}
				return
			}
		}

		steps, err := a.client.Stream(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		var text strings.Builder
		succeeded := true
		for step := range steps {
			switch step.Kind {
			case StepTextDelta:
				text.WriteString(step.Text)
				out <- step
			case StepError:
				lastErr = step.Err
				succeeded = false
			case StepToolRequest:
				a.applyFilters(step.Calls)
				if opts.CaptureToolCalls {
					a.appendAssistantTurn(text.String(), step.ThinkingBlocks, step.Calls)
				}
				a.state = StateAwaitingToolResults
				out <- step
			case StepFinished:
				if opts.CaptureToolCalls {
					a.appendAssistantTurn(text.String(), step.ThinkingBlocks, nil)
				}
				a.totalUsage.Add(step.Usage)
				a.state = StateIdle
				out <- step
			default:
				out <- step
			}
		}
		if succeeded {
			return
		}
	}

	a.state = StateIdle
	out <- AgentStep{Kind: StepError, Err: lastErr}
}

// appendAssistantTurn records the model's own turn (thinking, text, and any
// tool_use blocks it asked for) to message history, in the block order
// Anthropic requires: thinking first, then text, then tool_use. Without
// this, a later AppendToolResults would attach a tool_result to a message
// history with no matching tool_use, and the assistant's own prior text
// would never reach the next turn's context.
func (a *Agent) appendAssistantTurn(text string, thinking []ThinkingBlock, calls []ToolRequest) {
	var blocks []message.Block
	for _, tb := range thinking {
		blocks = append(blocks, message.Block{Kind: message.BlockThinking, Text: tb.Text, Signature: tb.Signature})
	}
	if text != "" {
		blocks = append(blocks, message.Block{Kind: message.BlockText, Text: text})
	}
	for _, c := range calls {
		blocks = append(blocks, message.Block{Kind: message.BlockToolUse, ToolUseId: c.CallId, ToolName: c.Name, ToolInput: c.Params})
	}
	if len(blocks) == 0 {
		return
	}
	a.messages = append(a.messages, message.Assistant(blocks...))
}

// sleepOrCancelled waits for d, returning false early if ctx is
// cancelled first (e.g. by Agent.Cancel).
func sleepOrCancelled(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
