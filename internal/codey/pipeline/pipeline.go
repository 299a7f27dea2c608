// Package pipeline implements the composable tool execution pipeline: a
// declarative sequence of stages (pre-checks, an optional approval gate,
// the tool's own effect, and post-processing) that a Handler advances one
// Step at a time.
package pipeline

import "context"

// CallId identifies one tool invocation for the lifetime of the pipeline
// that services it.
type CallId string

// Handler produces effects for a single stage of a Pipeline. Handlers are
// stateless: they receive the shared Context and return the next Step.
type Handler interface {
	Call(ctx context.Context, pc *Context) Step
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, pc *Context) Step

func (f HandlerFunc) Call(ctx context.Context, pc *Context) Step { return f(ctx, pc) }

// StepKind discriminates the variants of Step.
type StepKind int

const (
	// StepContinue advances to the next stage without producing output.
	StepContinue StepKind = iota
	// StepDelta emits a streaming chunk of output; the pipeline continues.
	StepDelta
	// StepOutput finishes the pipeline successfully with a final result.
	StepOutput
	// StepAwaitApproval suspends the pipeline until an external decision
	// (approve/deny) is delivered.
	StepAwaitApproval
	// StepDelegate hands an Effect to the caller (the tool Executor) for
	// out-of-pipeline resolution, e.g. an IDE round-trip.
	StepDelegate
	// StepError fails the pipeline with a message.
	StepError
)

// Step is the result of running one Handler.
type Step struct {
	Kind    StepKind
	Content string // for StepDelta / StepOutput / StepError
	IsError bool   // set on StepOutput to mark a tool-level (not pipeline-level) failure
	Effect  any    // for StepDelegate: an effect.Effect value, kept as `any` to avoid an import cycle
}

func Continue() Step             { return Step{Kind: StepContinue} }
func Delta(content string) Step  { return Step{Kind: StepDelta, Content: content} }
func Output(content string) Step { return Step{Kind: StepOutput, Content: content} }
func OutputError(content string) Step {
	return Step{Kind: StepOutput, Content: content, IsError: true}
}
func AwaitApproval() Step       { return Step{Kind: StepAwaitApproval} }
func Delegate(effect any) Step  { return Step{Kind: StepDelegate, Effect: effect} }
func Error(message string) Step { return Step{Kind: StepError, Content: message} }

// FinallyOutcome tells a Finally Handler how its pipeline ended. Handlers
// may still emit a final Output (e.g. a cleanup note) but cannot turn a
// non-Success outcome into a successful one.
type FinallyOutcome int

const (
	FinallySuccess FinallyOutcome = iota
	FinallyError
	FinallyDenied
	FinallyCancelled
)

func (o FinallyOutcome) String() string {
	switch o {
	case FinallyError:
		return "error"
	case FinallyDenied:
		return "denied"
	case FinallyCancelled:
		return "cancelled"
	default:
		return "success"
	}
}

// Context carries parameters and scratch data between the stages of a
// single pipeline run. Handlers use Store/Get to pass values forward, e.g.
// a validation stage that resolved a path for the stage that uses it.
type Context struct {
	CallId CallId
	Params map[string]any
	data   map[string]any

	// Outcome is only meaningful while a Finally Handler is running; it
	// reports why the pipeline is terminating.
	Outcome FinallyOutcome
}

func NewContext(callID CallId, params map[string]any) *Context {
	return &Context{CallId: callID, Params: params, data: map[string]any{}}
}

func (c *Context) ParamString(key string) (string, bool) {
	v, ok := c.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Context) Store(key string, value any) { c.data[key] = value }

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Stage is one element of a flattened Pipeline: either a plain handler or
// the approval checkpoint.
type Stage struct {
	Handler        Handler
	IsApprovalGate bool
}

// Pipeline is the flattened stage sequence a ToolCall runs through:
// pre-checks, then (if RequiresApproval) an approval gate, then the
// tool's own execute stages, then post-processing.
type Pipeline struct {
	pre              []Handler
	requiresApproval bool
	execute          []Handler
	post             []Handler
	finally          []Handler
	flattened        []Stage
}

// New starts an empty pipeline builder.
func New() *Pipeline { return &Pipeline{} }

func (p *Pipeline) Pre(h Handler) *Pipeline { p.pre = append(p.pre, h); return p }

func (p *Pipeline) PreAll(hs ...Handler) *Pipeline { p.pre = append(p.pre, hs...); return p }

func (p *Pipeline) RequireApproval() *Pipeline { p.requiresApproval = true; return p }

func (p *Pipeline) Then(h Handler) *Pipeline { p.execute = append(p.execute, h); return p }

func (p *Pipeline) ThenAll(hs ...Handler) *Pipeline { p.execute = append(p.execute, hs...); return p }

func (p *Pipeline) Post(h Handler) *Pipeline { p.post = append(p.post, h); return p }

func (p *Pipeline) PostAll(hs ...Handler) *Pipeline { p.post = append(p.post, hs...); return p }

// Finally registers a cleanup Handler run on every exit path the pipeline
// can take (success, error, denial, cancellation), regardless of which
// normal stage it short-circuited from. Finally Handlers are not part of
// the flattened Stages() sequence — the executor invokes them directly
// once a pipeline reaches a terminal state.
func (p *Pipeline) Finally(h Handler) *Pipeline { p.finally = append(p.finally, h); return p }

// FinallyStages returns the registered cleanup Handlers, run in
// registration order.
func (p *Pipeline) FinallyStages() []Handler { return p.finally }

// ErrorPipeline builds a single-stage pipeline that immediately fails,
// used when parameter parsing fails before any stage can run.
func ErrorPipeline(message string) *Pipeline {
	return New().Then(HandlerFunc(func(_ context.Context, _ *Context) Step {
		return Error(message)
	}))
}

// Flatten assembles pre, the approval gate (if requested), execute, and
// post into a single ordered Stage slice. Flatten is idempotent and is
// called lazily by Stages() so callers never need to invoke it directly.
func (p *Pipeline) Flatten() []Stage {
	if p.flattened != nil {
		return p.flattened
	}
	stages := make([]Stage, 0, len(p.pre)+len(p.execute)+len(p.post)+1)
	for _, h := range p.pre {
		stages = append(stages, Stage{Handler: h})
	}
	if p.requiresApproval {
		stages = append(stages, Stage{IsApprovalGate: true})
	}
	for _, h := range p.execute {
		stages = append(stages, Stage{Handler: h})
	}
	for _, h := range p.post {
		stages = append(stages, Stage{Handler: h})
	}
	p.flattened = stages
	return stages
}

// Stages returns the flattened stage sequence.
func (p *Pipeline) Stages() []Stage { return p.Flatten() }
