// Package executor drives ToolCalls through their pipelines. It owns two
// collections: a FIFO of calls not yet started, and a map of calls
// currently mid-pipeline (including those parked on an approval gate or
// a delegated effect). Advancing a pipeline never blocks — Tick polls
// whatever is ready and leaves everything else untouched, which is what
// lets it share a single goroutine with the Agent and the rest of the
// event loop.
package executor

import (
	"container/list"
	"context"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// ToolCall is one LLM-requested tool invocation.
type ToolCall struct {
	CallId     pipeline.CallId
	AgentId    int
	Name       string
	Params     map[string]any
	Decision   tool.Decision
	Background bool
}

// Outcome is what a finished ToolCall produces for its Agent.
type Outcome struct {
	CallId  pipeline.CallId
	Content string
	IsError bool
}

// TaskStatus is the lifecycle state of a background ToolCall, as reported
// by ListTasks.
type TaskStatus int

const (
	TaskRunning TaskStatus = iota
	TaskComplete
	TaskError
)

func (s TaskStatus) String() string {
	switch s {
	case TaskComplete:
		return "Complete"
	case TaskError:
		return "Error"
	default:
		return "Running"
	}
}

// TaskSnapshot is one entry in ListTasks' report.
type TaskSnapshot struct {
	CallId pipeline.CallId
	Name   string
	Status TaskStatus
}

// BackgroundEventKind discriminates BackgroundEvent variants.
type BackgroundEventKind int

const (
	BackgroundStarted BackgroundEventKind = iota
	BackgroundCompleted
)

// BackgroundEvent reports a lifecycle transition of a background
// ToolCall, for the event loop to turn into a placeholder tool_result
// (Started) or a Notification (Completed).
type BackgroundEvent struct {
	Kind    BackgroundEventKind
	CallId  pipeline.CallId
	AgentId int
	Name    string
}

// activePipeline is a ToolCall mid-flight: its stage index, its shared
// pipeline.Context, and (if parked) the one-shot channel it's waiting on.
type activePipeline struct {
	call    ToolCall
	stages  []pipeline.Stage
	finally []pipeline.Handler
	index   int
	pctx    *pipeline.Context

	approvalCh chan bool          // non-nil while parked on an approval gate
	delegateCh chan pipeline.Step // non-nil while parked on a delegated effect

	startedNotified   bool // BackgroundStarted already emitted
	completedNotified bool // BackgroundCompleted already emitted

	done   bool // background call has reached a terminal state
	result *Outcome
}

// approvalPending reports whether an approval gate still lies ahead of
// the pipeline's current position.
func (ap *activePipeline) approvalPending() bool {
	for i := ap.index; i < len(ap.stages); i++ {
		if ap.stages[i].IsApprovalGate {
			return true
		}
	}
	return false
}

// Executor manages the pending queue and the set of in-flight pipelines.
type Executor struct {
	registry *tool.Registry
	filters  map[string]*tool.CompiledFilter
	pending  *list.List // of ToolCall
	active   map[pipeline.CallId]*activePipeline
	finished []Outcome

	backgroundEvents []BackgroundEvent
}

func New(registry *tool.Registry) *Executor {
	return &Executor{
		registry: registry,
		pending:  list.New(),
		active:   map[pipeline.CallId]*activePipeline{},
	}
}

// SetFilters installs the compiled per-tool approval filters the
// executor consults for calls whose Decision the Agent left unset. It
// mirrors Agent.SetTools' late-binding pattern, since filters are loaded
// from config after construction.
func (e *Executor) SetFilters(filters map[string]*tool.CompiledFilter) { e.filters = filters }

// Enqueue admits a new ToolCall at the back of the pending FIFO.
func (e *Executor) Enqueue(call ToolCall) {
	e.pending.PushBack(call)
}

// PendingCount reports how many calls have not yet been started.
func (e *Executor) PendingCount() int { return e.pending.Len() }

// ActiveCount reports how many calls are mid-pipeline (including
// finished-but-unretrieved background calls).
func (e *Executor) ActiveCount() int { return len(e.active) }

// startNext promotes one pending call into the active map, provided the
// registry has a matching tool. An unknown tool name fails immediately
// with a single Outcome rather than being silently dropped.
func (e *Executor) startNext() bool {
	front := e.pending.Front()
	if front == nil {
		return false
	}
	e.pending.Remove(front)
	call := front.Value.(ToolCall)

	t, ok := e.registry.Lookup(call.Name)
	if !ok {
		e.finished = append(e.finished, Outcome{CallId: call.CallId, Content: "unknown tool: " + call.Name, IsError: true})
		return true
	}

	pl := t.Compose(call.Params)
	pctx := pipeline.NewContext(call.CallId, call.Params)
	e.active[call.CallId] = &activePipeline{
		call:    call,
		stages:  pl.Stages(),
		finally: pl.FinallyStages(),
		pctx:    pctx,
	}
	return true
}

// Delegated is a pipeline parked on a delegated Effect awaiting
// application-level resolution.
type Delegated struct {
	CallId pipeline.CallId
	Effect any
}

// Tick advances every active pipeline by at most one stage, and starts as
// many pending calls as have no reason to wait. It returns the Outcomes
// produced by calls that emitted a StepDelta this tick (terminal Outcomes
// flow instead through TakeFinished, so both background and foreground
// calls terminate through the same Finally-aware path) and any delegated
// effects that now need application-level resolution.
func (e *Executor) Tick(ctx context.Context) ([]Outcome, []Delegated) {
	for e.startNext() {
	}

	var outcomes []Outcome
	var delegated []Delegated

	for callID, ap := range e.active {
		if ap.call.Background && !ap.startedNotified && !ap.approvalPending() {
			e.backgroundEvents = append(e.backgroundEvents, BackgroundEvent{
				Kind: BackgroundStarted, CallId: callID, AgentId: ap.call.AgentId, Name: ap.call.Name,
			})
			ap.startedNotified = true
		}

		if ap.approvalCh != nil || ap.delegateCh != nil {
			continue // parked; resolved externally via Approve/Deny or ResolveDelegate
		}
		if ap.done {
			continue // background call finished; waits for TakeResult
		}
		if ap.index >= len(ap.stages) {
			delete(e.active, callID)
			continue
		}
		stage := ap.stages[ap.index]
		if stage.IsApprovalGate {
			e.tryPassGate(ctx, callID, ap)
			continue
		}
		step := stage.Handler.Call(ctx, ap.pctx)
		switch step.Kind {
		case pipeline.StepContinue:
			ap.index++
		case pipeline.StepDelta:
			outcomes = append(outcomes, Outcome{CallId: callID, Content: step.Content})
			ap.index++
		case pipeline.StepOutput:
			e.finishActive(ctx, callID, pipeline.FinallySuccess, step.Content, step.IsError)
		case pipeline.StepError:
			e.finishActive(ctx, callID, pipeline.FinallyError, step.Content, true)
		case pipeline.StepAwaitApproval:
			e.tryPassGate(ctx, callID, ap)
		case pipeline.StepDelegate:
			delegated = append(delegated, Delegated{CallId: callID, Effect: step.Effect})
			ap.delegateCh = make(chan pipeline.Step, 1)
		}
	}

	return outcomes, delegated
}

// tryPassGate consults the call's Decision (set by the Agent from its own
// filters) and, if still unset, the Executor's own filters, per the
// polling policy: auto-approve or auto-deny immediately when a filter
// matches, otherwise park on a responder and let the approval gate stand.
func (e *Executor) tryPassGate(ctx context.Context, callID pipeline.CallId, ap *activePipeline) {
	decision := ap.call.Decision
	if decision == tool.DecisionUnset {
		if cf, ok := e.filters[ap.call.Name]; ok {
			switch cf.Evaluate(ap.call.Params) {
			case tool.FilterAllow:
				decision = tool.DecisionApproved
			case tool.FilterDeny:
				decision = tool.DecisionDenied
			}
		}
	}

	switch decision {
	case tool.DecisionApproved:
		ap.approvalCh = nil
		ap.index++
	case tool.DecisionDenied, tool.DecisionCancelled:
		e.finishActive(ctx, callID, pipeline.FinallyDenied, "Denied by user", true)
	default:
		if ap.approvalCh == nil {
			ap.approvalCh = make(chan bool, 1)
		}
	}
}

// finishActive runs a terminated pipeline's Finally handlers and either
// removes it (background == false) or parks its result for later
// retrieval (background == true), emitting BackgroundCompleted exactly
// once. It is the single place every exit path funnels through, which is
// what guarantees Finally coverage on every exit.
func (e *Executor) finishActive(ctx context.Context, callID pipeline.CallId, outcome pipeline.FinallyOutcome, content string, isError bool) {
	ap, ok := e.active[callID]
	if !ok {
		return
	}
	ap.approvalCh = nil
	ap.delegateCh = nil

	ap.pctx.Outcome = outcome
	for _, h := range ap.finally {
		step := h.Call(ctx, ap.pctx)
		if step.Kind == pipeline.StepOutput || step.Kind == pipeline.StepError {
			content = step.Content
		}
	}

	if ap.call.Background {
		ap.done = true
		ap.result = &Outcome{CallId: callID, Content: content, IsError: isError}
		if !ap.completedNotified {
			e.backgroundEvents = append(e.backgroundEvents, BackgroundEvent{
				Kind: BackgroundCompleted, CallId: callID, AgentId: ap.call.AgentId, Name: ap.call.Name,
			})
			ap.completedNotified = true
		}
		return
	}

	delete(e.active, callID)
	e.finished = append(e.finished, Outcome{CallId: callID, Content: content, IsError: isError})
}

// Approve resolves the approval gate for callID. If approved is false the
// pipeline is torn down immediately with a "Denied by user" Outcome.
func (e *Executor) Approve(ctx context.Context, callID pipeline.CallId, approved bool) {
	ap, ok := e.active[callID]
	if !ok || ap.approvalCh == nil {
		return
	}
	if !approved {
		e.finishActive(ctx, callID, pipeline.FinallyDenied, "Denied by user", true)
		return
	}
	ap.approvalCh = nil
	ap.index++
}

// ResolveDelegate resumes a pipeline parked on StepDelegate. A delegated
// effect that fails always terminates the pipeline. Otherwise, whether
// its result becomes the pipeline's own Outcome depends on position: a
// delegate stage that is the last stage in the pipeline (spawn_agent has
// no Post stages after its Delegate) has its resolved value become the
// tool's output directly; a delegate stage with Post stages still ahead
// of it (edit_file's IDE reload, followed by the stage that emits the
// actual edit summary) is resumed as a plain advance, since its own
// resolved value isn't the tool's final answer.
func (e *Executor) ResolveDelegate(ctx context.Context, callID pipeline.CallId, resumed pipeline.Step) {
	ap, ok := e.active[callID]
	if !ok || ap.delegateCh == nil {
		return
	}
	ap.delegateCh = nil

	if resumed.Kind == pipeline.StepError {
		e.finishActive(ctx, callID, pipeline.FinallyError, resumed.Content, true)
		return
	}

	if ap.index+1 >= len(ap.stages) {
		e.finishActive(ctx, callID, pipeline.FinallySuccess, resumed.Content, resumed.IsError)
		return
	}

	ap.index++
}

// PendingApprovals returns the CallIds of active pipelines currently
// parked on an approval gate, letting a caller that wants to auto-approve
// everything (a sub-agent's own executor, driven with no interactive
// user attached) find them without polling Tick in a loop.
func (e *Executor) PendingApprovals() []pipeline.CallId {
	var ids []pipeline.CallId
	for id, ap := range e.active {
		if ap.approvalCh != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// TakeFinished drains and returns outcomes recorded outside the normal
// Tick path (unknown-tool failures, denied approvals, and every
// non-background pipeline that reached a terminal state this tick).
func (e *Executor) TakeFinished() []Outcome {
	out := e.finished
	e.finished = nil
	return out
}

// TakeBackgroundEvents drains and returns every BackgroundStarted and
// BackgroundCompleted event recorded since the last call.
func (e *Executor) TakeBackgroundEvents() []BackgroundEvent {
	out := e.backgroundEvents
	e.backgroundEvents = nil
	return out
}

// ListTasks reports every background ToolCall the executor still knows
// about, whether still running or finished-but-unretrieved.
func (e *Executor) ListTasks() []TaskSnapshot {
	var out []TaskSnapshot
	for id, ap := range e.active {
		if !ap.call.Background {
			continue
		}
		status := TaskRunning
		if ap.done {
			if ap.result.IsError {
				status = TaskError
			} else {
				status = TaskComplete
			}
		}
		out = append(out, TaskSnapshot{CallId: id, Name: ap.call.Name, Status: status})
	}
	return out
}

// TakeResult retrieves and removes a finished background call's result.
// It reports false if callID names no background call, or one still
// running.
func (e *Executor) TakeResult(callID pipeline.CallId) (Outcome, bool) {
	ap, ok := e.active[callID]
	if !ok || !ap.call.Background || !ap.done {
		return Outcome{}, false
	}
	result := *ap.result
	delete(e.active, callID)
	return result, true
}

// Cancel drops a call, whether pending or active. An active call runs its
// Finally handlers and produces an error Outcome; a pending call is
// simply dropped, since it never started.
func (e *Executor) Cancel(ctx context.Context, callID pipeline.CallId) {
	if _, ok := e.active[callID]; ok {
		e.finishActive(ctx, callID, pipeline.FinallyCancelled, "cancelled by user", true)
		return
	}
	for el := e.pending.Front(); el != nil; el = el.Next() {
		if el.Value.(ToolCall).CallId == callID {
			e.pending.Remove(el)
			return
		}
	}
}

// CancelAll drops every pending call and short-circuits every active
// pipeline to Finally with an error Outcome, per the top-level
// cancellation contract: a user-level cancel that isn't scoped to one
// call tears down the whole executor's in-flight work.
func (e *Executor) CancelAll(ctx context.Context) {
	e.pending.Init()
	for callID := range e.active {
		if e.active[callID].done {
			continue
		}
		e.finishActive(ctx, callID, pipeline.FinallyCancelled, "cancelled by user", true)
	}
}
