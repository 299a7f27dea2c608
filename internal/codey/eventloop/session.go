// Package eventloop ties the Agent, the tool Executor, the effect
// Resolver, and the notification Queue together into the single
// cooperative loop a session runs on. Priority order matters: a client
// message (a new user turn, a tool decision, a cancel) is always drained
// before the loop advances the agent or the executor, so user intent is
// never starved by a busy background task.
package eventloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codey/internal/codey/agent"
	"codey/internal/codey/effect"
	"codey/internal/codey/executor"
	"codey/internal/codey/idebridge"
	"codey/internal/codey/logging"
	"codey/internal/codey/message"
	"codey/internal/codey/notify"
	"codey/internal/codey/pipeline"
	"codey/internal/codey/registry"
	"codey/internal/codey/tool"
	"codey/internal/codey/tools"
	"codey/internal/codey/transcript"
)

var log = logging.For("eventloop")

// ClientMessageKind discriminates inbound client messages.
type ClientMessageKind int

const (
	ClientSendMessage ClientMessageKind = iota
	ClientToolDecision
	ClientCancel
	ClientGetHistory
	ClientGetState
	ClientPing
)

// ClientMessage is one inbound instruction from the session's client
// (a terminal UI, an IDE bridge, or a test harness).
type ClientMessage struct {
	Kind     ClientMessageKind
	Content  string
	CallId   pipeline.CallId
	Approved bool
}

// ServerMessageKind discriminates outbound session events.
type ServerMessageKind int

const (
	ServerTextDelta ServerMessageKind = iota
	ServerThinkingDelta
	ServerToolRequest
	ServerToolAwaitingApproval
	ServerFinished
	ServerRetrying
	ServerError
	ServerPong
	ServerHistory
	ServerState
)

// ServerMessage is one outbound event the session emits for its client
// to render.
type ServerMessage struct {
	Kind     ServerMessageKind
	Text     string
	CallId   pipeline.CallId
	ToolName string
	Usage    agent.Usage
	Attempt  int
	Err      error
	Turns    []transcript.Turn
	State    string
}

// Session wires one Agent to one tool Executor and drives them from a
// single goroutine via Run.
type Session struct {
	Agent            *agent.Agent
	Executor         *executor.Executor
	Resolver         *effect.Resolver
	Notifications    *notify.Queue
	Transcript       *transcript.Transcript
	Registry         *registry.Registry
	IDE              *idebridge.Bridge
	pendingApprove   map[pipeline.CallId]chan bool
	pendingIDE       map[string]chan effect.Result
	notifiedApproval map[pipeline.CallId]bool
	currentTurn      *transcript.Turn

	pendingToolCalls int
	toolResultsBuf   []message.ToolResult

	// Client and SubAgentTools/SubAgentSchemas equip the session to drive
	// spawn_agent sub-agents. Nil until the caller (cli.runChat) sets
	// them; a spawn_agent call made without them resolves as an error
	// rather than hanging.
	Client          agent.StreamClient
	SubAgentTools   *tool.Registry
	SubAgentSchemas []agent.ToolSchema
	Background      *tools.BackgroundStore

	Inbound  <-chan ClientMessage
	Outbound chan<- ServerMessage
}

// NewSession wires the always-present machinery. Registry, Client,
// Background, and the sub-agent tool/schema pair are optional and set by
// the caller afterward — a session with none of them still handles plain
// tool calls, just not spawn_agent.
func NewSession(a *agent.Agent, ex *executor.Executor, in <-chan ClientMessage, out chan<- ServerMessage) *Session {
	return &Session{
		Agent:            a,
		Executor:         ex,
		Resolver:         effect.NewResolver(),
		Notifications:    notify.New(),
		Transcript:       transcript.New(),
		pendingApprove:   map[pipeline.CallId]chan bool{},
		pendingIDE:       map[string]chan effect.Result{},
		notifiedApproval: map[pipeline.CallId]bool{},
		Inbound:          in,
		Outbound:         out,
	}
}

// Run drives the session until ctx is cancelled or the inbound channel
// closes. Each iteration first drains one client message if one is ready
// (priority 1), otherwise advances the agent and executor by one tick
// (priority 2). Neither branch blocks the other.
func (s *Session) Run(ctx context.Context) {
	var agentSteps <-chan agent.AgentStep

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-s.Inbound:
			if !ok {
				return
			}
			if disconnect := s.handleClientMessage(ctx, msg, &agentSteps); disconnect {
				return
			}
			continue

		default:
		}

		if agentSteps != nil {
			select {
			case step, ok := <-agentSteps:
				if !ok {
					agentSteps = nil
				} else {
					s.handleAgentStep(step)
				}
				continue
			default:
			}
		}

		s.drainIDEResponses()
		resolvedAny := s.pollResolver(ctx)

		outcomes, delegated := s.Executor.Tick(ctx)
		outcomes = append(outcomes, s.Executor.TakeFinished()...)
		for _, o := range outcomes {
			s.deliverToolOutcome(ctx, o, &agentSteps)
		}
		for _, d := range delegated {
			s.handleDelegated(d)
		}
		bgEvents := s.Executor.TakeBackgroundEvents()
		for _, e := range bgEvents {
			s.deliverBackgroundEvent(ctx, e, &agentSteps)
		}
		s.notifyNewApprovals()

		if len(outcomes) == 0 && len(delegated) == 0 && len(bgEvents) == 0 && !resolvedAny {
			// Nothing to do this tick; block on whichever of client
			// input or agent progress arrives first. While effects or
			// pipelines are still pending, a short timer also wakes the
			// loop so the resolver and executor are polled again.
			var wake <-chan time.Time
			if s.Resolver.Len() > 0 || s.Executor.ActiveCount() > 0 {
				wake = time.After(10 * time.Millisecond)
			}
			select {
			case <-ctx.Done():
				return
			case <-wake:
			case msg, ok := <-s.Inbound:
				if !ok {
					return
				}
				if disconnect := s.handleClientMessage(ctx, msg, &agentSteps); disconnect {
					return
				}
			case step, ok := <-orNilChan(agentSteps):
				if ok {
					s.handleAgentStep(step)
				} else {
					agentSteps = nil
				}
			}
		}
	}
}

func orNilChan(ch <-chan agent.AgentStep) <-chan agent.AgentStep { return ch }

func (s *Session) handleClientMessage(ctx context.Context, msg ClientMessage, agentSteps *<-chan agent.AgentStep) (disconnect bool) {
	switch msg.Kind {
	case ClientSendMessage:
		s.currentTurn = s.Transcript.BeginTurn()
		s.currentTurn.AppendText("user", msg.Content)
		s.Agent.SendMessage(msg.Content)
		*agentSteps = s.Agent.Run(ctx, agent.ModeNormal)
	case ClientToolDecision:
		s.Executor.Approve(ctx, msg.CallId, msg.Approved)
		delete(s.notifiedApproval, msg.CallId)
		if ch, ok := s.pendingApprove[msg.CallId]; ok {
			ch <- msg.Approved
			delete(s.pendingApprove, msg.CallId)
		}
	case ClientCancel:
		if msg.CallId != "" {
			s.Executor.Cancel(ctx, msg.CallId)
			delete(s.notifiedApproval, msg.CallId)
		} else {
			s.Agent.Cancel()
			s.Executor.CancelAll(ctx)
			s.notifiedApproval = map[pipeline.CallId]bool{}
		}
	case ClientGetHistory:
		s.Outbound <- ServerMessage{Kind: ServerHistory, Turns: s.Transcript.Turns()}
	case ClientGetState:
		s.Outbound <- ServerMessage{Kind: ServerState, State: s.Agent.State().String()}
	case ClientPing:
		s.Outbound <- ServerMessage{Kind: ServerPong}
	}
	return false
}

func (s *Session) handleAgentStep(step agent.AgentStep) {
	switch step.Kind {
	case agent.StepTextDelta:
		if s.currentTurn != nil {
			s.currentTurn.AppendText("assistant", step.Text)
		}
		s.Outbound <- ServerMessage{Kind: ServerTextDelta, Text: step.Text}
	case agent.StepThinkingDelta:
		s.Outbound <- ServerMessage{Kind: ServerThinkingDelta, Text: step.Text}
	case agent.StepCompactionDelta:
		// Not exposed to the client; compaction is an internal-only pass.
	case agent.StepToolRequest:
		s.pendingToolCalls = len(step.Calls)
		s.toolResultsBuf = nil
		for _, call := range step.Calls {
			if s.currentTurn != nil {
				s.currentTurn.AppendTool(transcript.ToolBlock{
					CallId:   call.CallId,
					ToolName: call.Name,
					Params:   call.Params,
					Status:   transcript.StatusPending,
				})
			}
			s.Outbound <- ServerMessage{Kind: ServerToolRequest, CallId: pipeline.CallId(call.CallId), ToolName: call.Name}
			background, _ := call.Params["background"].(bool)
			s.Executor.Enqueue(executor.ToolCall{
				CallId:     pipeline.CallId(call.CallId),
				AgentId:    s.Agent.Id,
				Name:       call.Name,
				Params:     call.Params,
				Decision:   call.Decision,
				Background: background,
			})
		}
	case agent.StepFinished:
		s.Outbound <- ServerMessage{Kind: ServerFinished, Usage: step.Usage}
	case agent.StepRetrying:
		s.Outbound <- ServerMessage{Kind: ServerRetrying, Attempt: step.Attempt, Err: step.Err}
	case agent.StepError:
		s.Outbound <- ServerMessage{Kind: ServerError, Err: step.Err}
	}
}

// deliverToolOutcome buffers one Outcome into the current tool-request
// batch. The Anthropic-style wire protocol requires every tool_use block
// from one assistant turn to be answered by tool_result blocks in a
// single subsequent user message, so results accumulate here until the
// whole batch StepToolRequest announced is in hand; only then does the
// Agent see them, and only then is it safe to call Run again for the
// next leg of the turn.
func (s *Session) deliverToolOutcome(ctx context.Context, o executor.Outcome, agentSteps *<-chan agent.AgentStep) {
	content := s.Notifications.DrainInto(o.Content)
	s.toolResultsBuf = append(s.toolResultsBuf, message.ToolResult{ToolUseId: string(o.CallId), Content: content, IsError: o.IsError})

	if s.currentTurn != nil {
		status := transcript.StatusComplete
		if o.IsError {
			status = transcript.StatusError
		}
		s.currentTurn.UpdateToolStatus(string(o.CallId), status, content)
	}

	if s.pendingToolCalls == 0 || len(s.toolResultsBuf) < s.pendingToolCalls {
		return
	}

	results := s.toolResultsBuf
	s.toolResultsBuf = nil
	s.pendingToolCalls = 0
	s.Agent.AppendToolResults(results)
	*agentSteps = s.Agent.Run(ctx, agent.ModeNormal)
}

// handleDelegated routes a delegated effect to whatever can resolve it: an
// IDE round-trip over the websocket bridge, an immediate no-op if no IDE
// is attached, or (for spawn_agent) a background goroutine that drives a
// registry-tracked sub-agent to completion.
func (s *Session) handleDelegated(d executor.Delegated) {
	eff, ok := d.Effect.(effect.Effect)
	if !ok {
		log.Warnf("effect delegated for call %s has unexpected payload %T", d.CallId, d.Effect)
		return
	}

	switch eff.Kind {
	case effect.KindIdeOpen, effect.KindIdeShowPreview, effect.KindIdeShowDiffPreview,
		effect.KindIdeReloadBuffer, effect.KindIdeClosePreview, effect.KindIdeCheckUnsavedEdits:
		s.delegateToIDE(d.CallId, eff)
	case effect.KindNotify:
		s.Notifications.Push(notify.Notification{Source: notify.SourceUserMessage, Message: eff.Message})
		s.Resolver.Push(&effect.PendingEffect{CallId: string(d.CallId), Effect: eff, Responder: readyResponder(effect.Result{})})
	case effect.KindSpawnAgent:
		if eff.Background && s.Background != nil {
			s.Background.Start(string(d.CallId), tools.SpawnAgentToolName)
			s.Resolver.Push(&effect.PendingEffect{
				CallId: string(d.CallId), Effect: eff,
				Responder: readyResponder(effect.Result{Value: fmt.Sprintf("Started background task %s", d.CallId)}),
			})
			go s.runSubAgentBackground(string(d.CallId), eff)
			return
		}
		ch := make(chan effect.Result, 1)
		s.Resolver.Push(&effect.PendingEffect{CallId: string(d.CallId), Effect: eff, Responder: ch})
		go s.runSubAgent(eff, ch)
	default:
		log.Debugf("effect delegated for call %s parked, no resolver wired: %+v", d.CallId, eff)
	}
}

const subAgentSystemPrompt = `You are a read-only sub-agent spawned to research or analyze a subtask. ` +
	`You cannot modify files or spawn further sub-agents. Report your findings concisely in your final reply.`

// runSubAgent drives one spawn_agent request to completion on its own
// goroutine: a private Agent and a private Executor, batching tool
// results the same way Session.Run does for the primary agent, until the
// turn reaches StepFinished or StepError. It only ever communicates back
// through respond, so it never touches Session's own Resolver or
// Executor and needs no locking.
func (s *Session) runSubAgent(eff effect.Effect, respond chan<- effect.Result) {
	if s.Client == nil || s.SubAgentTools == nil {
		respond <- effect.Result{Err: fmt.Errorf("sub-agents are not configured for this session")}
		return
	}

	sub := agent.New(0, s.Client, subAgentSystemPrompt, s.SubAgentSchemas)
	resultCh := make(chan registry.SpawnResult, 1)
	subID := -1
	if s.Registry != nil {
		subID = s.Registry.Spawn(sub, eff.Task, registry.PrimaryAgentId, resultCh)
	}

	prompt := eff.Task
	if eff.Context != "" {
		prompt = fmt.Sprintf("%s\n\nContext:\n%s", eff.Task, eff.Context)
	}
	sub.SendMessage(prompt)

	ctx := context.Background()
	ex := executor.New(s.SubAgentTools)

	var text strings.Builder
	var runErr error

	for {
		pendingCalls := 0
		var calls []executor.ToolCall
		finished := false
		text.Reset()

		for step := range sub.Run(ctx, agent.ModeNormal) {
			switch step.Kind {
			case agent.StepTextDelta:
				text.WriteString(step.Text)
			case agent.StepToolRequest:
				pendingCalls = len(step.Calls)
				for _, call := range step.Calls {
					calls = append(calls, executor.ToolCall{CallId: pipeline.CallId(call.CallId), Name: call.Name, Params: call.Params})
				}
			case agent.StepFinished:
				finished = true
			case agent.StepError:
				runErr = step.Err
				finished = true
			}
		}
		if finished {
			break
		}

		for _, c := range calls {
			ex.Enqueue(c)
		}
		results := make([]message.ToolResult, 0, pendingCalls)
		for len(results) < pendingCalls {
			outcomes, _ := ex.Tick(ctx)
			for _, callID := range ex.PendingApprovals() {
				ex.Approve(ctx, callID, true)
			}
			outcomes = append(outcomes, ex.TakeFinished()...)
			for _, o := range outcomes {
				results = append(results, message.ToolResult{ToolUseId: string(o.CallId), Content: o.Content, IsError: o.IsError})
			}
		}
		sub.AppendToolResults(results)
	}

	resultCh <- registry.SpawnResult{Output: text.String(), Err: runErr}
	if s.Registry != nil {
		s.Registry.Complete(subID, text.String(), runErr)
	}
	if runErr != nil {
		respond <- effect.Result{Err: runErr}
		return
	}
	respond <- effect.Result{Value: text.String()}
}

// runSubAgentBackground runs a spawn_agent(background: true) request the
// same way runSubAgent does, but its own delegate has already resolved
// synchronously with a task id — the sub-agent's eventual result is
// recorded into the BackgroundStore instead, for later retrieval via
// list_background_tasks/get_background_task.
func (s *Session) runSubAgentBackground(callID string, eff effect.Effect) {
	ch := make(chan effect.Result, 1)
	s.runSubAgent(eff, ch)
	res := <-ch
	if res.Err != nil {
		s.Background.Complete(callID, res.Err.Error(), true)
	} else {
		s.Background.Complete(callID, res.Value, false)
	}
}

// delegateToIDE sends one IDE request and registers a responder the
// resolver will poll. With no bridge attached, the effect resolves
// immediately with an empty value so editing tools never hang waiting on
// an IDE that isn't there.
func (s *Session) delegateToIDE(callID pipeline.CallId, eff effect.Effect) {
	if s.IDE == nil {
		s.Resolver.Push(&effect.PendingEffect{CallId: string(callID), Effect: eff, Responder: readyResponder(effect.Result{})})
		return
	}
	req := idebridge.Request{CallId: string(callID), Kind: ideRequestKind(eff.Kind), Params: ideParams(eff)}
	ch := make(chan effect.Result, 1)
	s.pendingIDE[string(callID)] = ch
	if err := s.IDE.Send(req); err != nil {
		delete(s.pendingIDE, string(callID))
		s.Resolver.Push(&effect.PendingEffect{CallId: string(callID), Effect: eff, Responder: readyResponder(effect.Result{Err: err})})
		return
	}
	s.Resolver.Push(&effect.PendingEffect{CallId: string(callID), Effect: eff, Responder: ch})
}

// drainIDEResponses non-blockingly forwards any inbound IDE responses to
// the per-call channel handleDelegated registered for them.
func (s *Session) drainIDEResponses() {
	if s.IDE == nil {
		return
	}
	select {
	case resp, ok := <-s.IDE.Responses():
		if !ok {
			s.IDE = nil
			return
		}
		if ch, found := s.pendingIDE[resp.CallId]; found {
			delete(s.pendingIDE, resp.CallId)
			var err error
			if resp.Error != "" {
				err = fmt.Errorf("%s", resp.Error)
			}
			ch <- effect.Result{Value: resp.Value, Err: err}
		}
	default:
	}
}

// pollResolver resumes at most one parked pipeline per tick once its
// effect resolves, reporting whether it made progress.
func (s *Session) pollResolver(ctx context.Context) bool {
	pe, res, ready := s.Resolver.PollOnce()
	if !ready {
		return false
	}
	if res.Err != nil {
		s.Executor.ResolveDelegate(ctx, pipeline.CallId(pe.CallId), pipeline.Error(res.Err.Error()))
	} else {
		s.Executor.ResolveDelegate(ctx, pipeline.CallId(pe.CallId), pipeline.Output(res.Value))
	}
	return true
}

// notifyNewApprovals emits ServerToolAwaitingApproval for every call that
// has newly parked on an approval gate since the last tick. A call only
// ever reaches this once its pipeline actually stalls waiting on a
// decision — one requiring no approval, or auto-resolved by a filter,
// never surfaces a prompt.
func (s *Session) notifyNewApprovals() {
	for _, callID := range s.Executor.PendingApprovals() {
		if s.notifiedApproval[callID] {
			continue
		}
		s.notifiedApproval[callID] = true
		s.Outbound <- ServerMessage{Kind: ServerToolAwaitingApproval, CallId: callID}
	}
}

// deliverBackgroundEvent turns a BackgroundStarted event into a
// placeholder tool_result (so the batch the turn is waiting on completes
// immediately) and a BackgroundCompleted event into a Notification queued
// for injection into the next turn, per the background task contract: the
// model is told the call started right away, but must call
// list_tasks/get_task_result itself to learn how it finished.
func (s *Session) deliverBackgroundEvent(ctx context.Context, e executor.BackgroundEvent, agentSteps *<-chan agent.AgentStep) {
	switch e.Kind {
	case executor.BackgroundStarted:
		content := fmt.Sprintf("Running in background (task_id: %s)", e.CallId)
		s.deliverToolOutcome(ctx, executor.Outcome{CallId: e.CallId, Content: content}, agentSteps)
		if s.currentTurn != nil {
			s.currentTurn.UpdateToolStatus(string(e.CallId), transcript.StatusRunning, content)
		}
	case executor.BackgroundCompleted:
		s.Notifications.Push(notify.Notification{
			Source:  notify.SourceBackgroundTask,
			Message: fmt.Sprintf("Background task %s (%s) finished. Call get_task_result to retrieve its result.", e.CallId, e.Name),
		})
	}
}

func readyResponder(r effect.Result) effect.Responder {
	ch := make(chan effect.Result, 1)
	ch <- r
	return ch
}

func ideRequestKind(k effect.Kind) string {
	switch k {
	case effect.KindIdeOpen:
		return "open"
	case effect.KindIdeShowPreview:
		return "show_preview"
	case effect.KindIdeShowDiffPreview:
		return "show_diff_preview"
	case effect.KindIdeReloadBuffer:
		return "reload_buffer"
	case effect.KindIdeClosePreview:
		return "close_preview"
	case effect.KindIdeCheckUnsavedEdits:
		return "check_unsaved_edits"
	default:
		return "unknown"
	}
}

func ideParams(eff effect.Effect) map[string]any {
	params := map[string]any{"path": eff.Path}
	if eff.Line != nil {
		params["line"] = *eff.Line
	}
	if eff.Column != nil {
		params["column"] = *eff.Column
	}
	if eff.Preview != nil {
		params["preview"] = eff.Preview
	}
	return params
}
