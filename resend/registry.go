// Package resend implements the generic retransmission set described
// in spec.md C4: a registry of (fragment, ACK observer) pairs that
// knows how to sweep itself, dropping ACKed entries and re-emitting
// Lost ones through a caller-supplied send callback.
package resend

import (
	"errors"

	"github.com/hashicorp/go-multierror"
	"github.com/luoxk/qcore/ackobserver"
)

// Outcome is the result of one SendFunc invocation during Retransmit.
type Outcome int

const (
	// OutcomeOK means the fragment was re-emitted; delete the entry.
	OutcomeOK Outcome = iota
	// OutcomeNoCapacity means the current packet has no room left;
	// stop the sweep, keep the entry for next time.
	OutcomeNoCapacity
	// OutcomeNotInIOState means the underlying stream/session isn't in
	// a state that can accept this retransmission right now (e.g. it
	// was reset); keep the entry but re-arm its observer so a future
	// ACK/Lost notification is still tracked correctly.
	OutcomeNotInIOState
	// OutcomeFatal means something unrecoverable happened; the entry
	// is dropped and the error recorded.
	OutcomeFatal
)

// SendFunc attempts to re-emit fragment f, returning an Outcome and
// (for OutcomeFatal) the causing error. saveNew lets the callback
// splice a new fragment into the registry when it had to split f (the
// tail that didn't fit) — the new entry is appended after the current
// sweep position so it is not revisited in the same Retransmit call.
type SendFunc[F any] func(f F, saveNew func(F, *ackobserver.Observer)) (Outcome, error)

type entry[F any] struct {
	frag     F
	observer *ackobserver.Observer
}

// Registry holds fragments of type F, each linked to the ACK observer
// that determines its fate. F is typically frame.StreamFrame,
// frame.CryptoFrame, or a small domain-specific fragment type (e.g.
// connid's issued-CID record).
type Registry[F any] struct {
	entries []entry[F]
	pending []entry[F]
}

// New returns an empty Registry.
func New[F any]() *Registry[F] {
	return &Registry[F]{}
}

// Add registers a fragment under the given observer. The observer is
// typically also handed to the loss-recovery collaborator for the
// packet the fragment was just written into.
func (r *Registry[F]) Add(frag F, o *ackobserver.Observer) {
	r.entries = append(r.entries, entry[F]{frag: frag, observer: o})
}

// Len reports the number of fragments still outstanding.
func (r *Registry[F]) Len() int { return len(r.entries) }

// Retransmit sweeps the registry once: ACKed entries are removed
// silently, Lost entries are passed to send, and entries still Wait
// are left untouched. It stops early on the first OutcomeNoCapacity
// (the packet being built has no more room), preserving every entry
// from that point on, including the one that didn't fit. All
// OutcomeFatal errors encountered during the sweep are aggregated and
// returned together once the sweep finishes (or is cut short by
// no-capacity) rather than aborting on the first one, so a single bad
// fragment cannot mask the fact that other, healthy fragments were
// still retransmitted in the same pass.
func (r *Registry[F]) Retransmit(send SendFunc[F]) error {
	var errs error
	kept := r.entries[:0]
	r.pending = r.pending[:0]
	stop := false
	for _, e := range r.entries {
		if stop {
			kept = append(kept, e)
			continue
		}
		switch e.observer.State() {
		case ackobserver.Acked:
			continue // drop, nothing more to do
		case ackobserver.Lost:
			outcome, err := send(e.frag, func(newFrag F, newObs *ackobserver.Observer) {
				r.pending = append(r.pending, entry[F]{frag: newFrag, observer: newObs})
			})
			switch outcome {
			case OutcomeOK:
				// dropped
			case OutcomeNoCapacity:
				kept = append(kept, e)
				stop = true
			case OutcomeNotInIOState:
				e.observer.Confirm()
				kept = append(kept, e)
			case OutcomeFatal:
				errs = multierror.Append(errs, err)
			}
		default: // Wait
			kept = append(kept, e)
		}
	}
	kept = append(kept, r.pending...)
	r.entries = kept
	r.pending = nil
	return errs
}

// ErrNotFound reports that no matching entry exists. No Registry
// method in this package returns it.
var ErrNotFound = errors.New("resend: entry not found")
