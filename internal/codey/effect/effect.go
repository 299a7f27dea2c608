// Package effect models the effects a tool pipeline can delegate to the
// surrounding application: IDE round-trips, approval prompts, background
// task queries, and sub-agent spawning. These are distinct from the
// pipeline package's Step.Delegate payload only in that they are the
// concrete, application-resolvable variants — the pipeline package stays
// generic over `any` to avoid importing this package.
package effect

// Kind discriminates the Effect variants.
type Kind int

const (
	KindAwaitApproval Kind = iota
	KindIdeOpen
	KindIdeShowPreview
	KindIdeShowDiffPreview
	KindIdeReloadBuffer
	KindIdeClosePreview
	KindIdeCheckUnsavedEdits
	KindListBackgroundTasks
	KindGetBackgroundTask
	KindSpawnAgent
	KindListAgents
	KindGetAgent
	KindNotify
)

// Effect is a tagged union of the application-resolvable side effects a
// tool handler can request. Only the fields relevant to Kind are set.
type Effect struct {
	Kind Kind

	// Approval / spawn annotation
	Name       string
	Params     map[string]any
	Background bool

	// IDE
	Path    string
	Line    *int
	Column  *int
	Preview any // forwarded as-is as the IDE request's "preview" param

	// Background tasks
	TaskId string

	// SpawnAgent / GetAgent
	Task    string
	Context string
	Label   string

	// Notify
	Message string
}

// Resource names an exclusive slot an Effect must hold before it may be
// polled to completion. At most one PendingEffect holding a given
// Resource may be "in flight" (acknowledged) at a time.
type Resource int

const (
	// ResourceNone means the effect does not compete for exclusivity.
	ResourceNone Resource = iota
	ResourceApprovalSlot
	ResourceIdePreview
)

// Resource returns the exclusive resource this effect's kind contends
// for, or ResourceNone if it doesn't need exclusivity.
func (e Effect) Resource() Resource {
	switch e.Kind {
	case KindAwaitApproval:
		return ResourceApprovalSlot
	case KindIdeShowPreview, KindIdeShowDiffPreview, KindIdeClosePreview:
		return ResourceIdePreview
	default:
		return ResourceNone
	}
}

// IsApproval reports whether this effect is an approval request.
func (e Effect) IsApproval() bool { return e.Kind == KindAwaitApproval }
