package effect

import "container/list"

// Result is what a one-shot responder yields once an effect's caller
// (the app, the IDE bridge, or the user) resolves it.
type Result struct {
	Value string
	Err   error
}

// Responder is a one-shot channel the resolver polls without draining
// destructively — the value is only taken once a non-blocking receive
// succeeds, so a lost race with another goroutine on the same channel is
// always safe: nothing observes a partial receive.
type Responder <-chan Result

// PendingEffect is one outstanding Effect awaiting external resolution.
type PendingEffect struct {
	CallId       string
	AgentId      int
	Effect       Effect
	Responder    Responder
	Acknowledged bool
}

func (p *PendingEffect) Resource() Resource { return p.Effect.Resource() }

// Poll performs a single non-blocking receive on the responder. It never
// removes PendingEffect from any queue — the caller (Resolver) does that
// only once Poll reports ready, so a goroutine that loses the race to
// observe readiness leaves the PendingEffect untouched for the next poll.
func (p *PendingEffect) Poll() (Result, bool) {
	select {
	case r, ok := <-p.Responder:
		if !ok {
			return Result{}, false
		}
		return r, true
	default:
		return Result{}, false
	}
}

// Resolver holds the FIFO of outstanding effects and resolves them
// respecting resource exclusivity: at most one effect per Resource may be
// "acknowledged" (claimed, in flight) at a time, and approval requests
// are given priority in claiming the ApprovalSlot so only one approval
// prompt is ever shown to the user concurrently.
type Resolver struct {
	pending *list.List // of *PendingEffect
}

func NewResolver() *Resolver { return &Resolver{pending: list.New()} }

func (r *Resolver) Push(pe *PendingEffect) { r.pending.PushBack(pe) }

// Requeue puts an effect back at the front, used when a poll yields no
// result yet but the caller wants to try a different entry first.
func (r *Resolver) Requeue(pe *PendingEffect) { r.pending.PushFront(pe) }

func (r *Resolver) Len() int { return r.pending.Len() }

// heldResources returns the set of Resources currently claimed by an
// acknowledged PendingEffect.
func (r *Resolver) heldResources() map[Resource]bool {
	held := map[Resource]bool{}
	for e := r.pending.Front(); e != nil; e = e.Next() {
		pe := e.Value.(*PendingEffect)
		if pe.Acknowledged && pe.Resource() != ResourceNone {
			held[pe.Resource()] = true
		}
	}
	return held
}

// NextPollable returns the earliest queue entry that may be polled right
// now: its resource (if any) must not already be held by another
// acknowledged entry ahead of it. Approval requests are inspected first —
// if none is acknowledged yet, the earliest approval effect claims the
// slot immediately, ensuring only one approval prompt is outstanding.
func (r *Resolver) NextPollable() *PendingEffect {
	held := r.heldResources()

	if !held[ResourceApprovalSlot] {
		for e := r.pending.Front(); e != nil; e = e.Next() {
			pe := e.Value.(*PendingEffect)
			if pe.Resource() == ResourceApprovalSlot && !pe.Acknowledged {
				pe.Acknowledged = true
				held[ResourceApprovalSlot] = true
				break
			}
		}
	}

	for e := r.pending.Front(); e != nil; e = e.Next() {
		pe := e.Value.(*PendingEffect)
		res := pe.Resource()
		if res == ResourceNone {
			return pe
		}
		if pe.Acknowledged {
			return pe
		}
		if !held[res] {
			pe.Acknowledged = true
			held[res] = true
			return pe
		}
	}
	return nil
}

// Remove drops a PendingEffect from the queue once it has been resolved.
func (r *Resolver) Remove(target *PendingEffect) {
	for e := r.pending.Front(); e != nil; e = e.Next() {
		if e.Value.(*PendingEffect) == target {
			r.pending.Remove(e)
			return
		}
	}
}

// PollOnce scans for the next pollable effect and, if its responder has
// produced a value, removes it from the queue and returns it alongside
// the result. Returns ok=false if nothing is ready this tick.
func (r *Resolver) PollOnce() (*PendingEffect, Result, bool) {
	pe := r.NextPollable()
	if pe == nil {
		return nil, Result{}, false
	}
	res, ready := pe.Poll()
	if !ready {
		return nil, Result{}, false
	}
	r.Remove(pe)
	return pe, res, true
}
