// Package ackobserver implements the tri-state handle (spec.md C3)
// that links one unit of sent data to the outcome the loss-recovery
// module eventually reports for it.
package ackobserver

import "sync/atomic"

// State is the lifecycle of one Observer.
type State int32

const (
	Wait State = iota
	Acked
	Lost
)

func (s State) String() string {
	switch s {
	case Wait:
		return "wait"
	case Acked:
		return "acked"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Observer is a shared, lock-free tri-state. The transmit path hands
// one handle to the loss-recovery collaborator and keeps a second
// handle in a resend.Registry; either side only ever reads it, except
// loss-recovery's on_ack/on_lost callbacks, which transition it via
// SetAcked/SetLost.
type Observer struct {
	state atomic.Int32
}

// New returns a fresh Observer in the Wait state. Prefer Pool.Get over
// calling New directly so observers are reused from the process-wide
// freelist described in spec.md section 9.
func New() *Observer {
	o := &Observer{}
	o.state.Store(int32(Wait))
	return o
}

// SetAcked transitions the observer to Acked. It is idempotent: a late
// ACK arriving for an already-Lost (spuriously declared lost, RFC 9002)
// fragment is permitted and simply confirms it.
func (o *Observer) SetAcked() { o.state.Store(int32(Acked)) }

// SetLost transitions the observer to Lost. Safe to call even if the
// state is already Acked or Lost; loss-recovery transitions a given
// observer to Lost at most once by construction, but the resend
// registry only ever reads via IsLost/IsAcked, so no race is possible
// from double-delivery here.
func (o *Observer) SetLost() { o.state.Store(int32(Lost)) }

// State returns the current state.
func (o *Observer) State() State { return State(o.state.Load()) }

// IsAcked reports whether the observer has transitioned to Acked.
func (o *Observer) IsAcked() bool { return o.State() == Acked }

// IsLost reports whether the observer has transitioned to Lost.
func (o *Observer) IsLost() bool { return o.State() == Lost }

// NotConfirmed reports whether the observer is still Wait.
func (o *Observer) NotConfirmed() bool { return o.State() == Wait }

// Confirm resets the observer back to Wait so it can be recycled by
// Pool; callers must only do this once they know no collaborator still
// holds a reference to the old transmission this observer tracked.
func (o *Observer) Confirm() { o.state.Store(int32(Wait)) }
