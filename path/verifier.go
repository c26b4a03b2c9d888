// Package path implements the path-validation state machine of
// spec.md C10: PATH_CHALLENGE/PATH_RESPONSE probing, migration, and
// implicit validation.
package path

import (
	"time"

	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/packet"
)

// ID identifies a network path (typically the 4-tuple or an index into
// the UDP collaborator's connection table); qcore treats it opaquely.
type ID string

type probe struct {
	path      ID
	challenge [8]byte
	obs       *ackobserver.Observer
	timer     iface.Timer
	expired   bool
}

// Verifier tracks probes and validation state across paths.
type Verifier struct {
	rand    iface.Random
	clock   iface.Clock
	timeout time.Duration

	probes    []*probe
	validated map[ID]bool
	active    ID

	// pendingResponses queues PATH_RESPONSE frames to send for
	// PATH_CHALLENGEs the peer sent us, keyed by the path they arrived
	// on.
	pendingResponses map[ID][][8]byte
}

// NewVerifier returns a Verifier for the connection's initial active
// path, using rnd for challenge data and clock/timeout to garbage
// collect dead probes.
func NewVerifier(rnd iface.Random, clock iface.Clock, timeout time.Duration, initialActive ID) *Verifier {
	return &Verifier{
		rand:             rnd,
		clock:            clock,
		timeout:          timeout,
		validated:        map[ID]bool{initialActive: true},
		active:           initialActive,
		pendingResponses: make(map[ID][][8]byte),
	}
}

// ActivePath returns the currently active path.
func (v *Verifier) ActivePath() ID { return v.active }

// IsValidated reports whether p has completed path validation.
func (v *Verifier) IsValidated(p ID) bool { return v.validated[p] }

// QueueProbe enqueues a new PATH_CHALLENGE probe for p. A second probe
// may be queued before an earlier one times out, to cope with loss.
func (v *Verifier) QueueProbe(p ID, pool *ackobserver.Pool) error {
	var challenge [8]byte
	if err := v.rand.GenRandom("path_challenge", challenge[:]); err != nil {
		return err
	}
	pr := &probe{path: p, challenge: challenge, obs: pool.Get()}
	pr.timer = v.clock.AfterFunc(v.timeout, func() {
		pr.expired = true
	})
	v.probes = append(v.probes, pr)
	return nil
}

// SendNext writes a pending PATH_CHALLENGE (priority: higher than
// application data, so callers should call this before filling the
// rest of the packet) for forPath, the path w is being built for, if a
// probe on it is still outstanding (unexpired and not yet answered).
// Before that it flushes any queued PATH_RESPONSE for forPath.
func (v *Verifier) SendNext(w *packet.Writer, forPath ID) {
	for _, resp := range v.pendingResponses[forPath] {
		if !w.Write(&frame.PathResponseFrame{Data: resp}) {
			return
		}
	}
	delete(v.pendingResponses, forPath)

	for _, pr := range v.probes {
		if pr.path != forPath || pr.expired || pr.obs.IsAcked() {
			continue
		}
		if pr.obs.NotConfirmed() {
			w.Write(&frame.PathChallengeFrame{Data: pr.challenge})
			return
		}
	}
}

// RecvPathChallenge queues a PATH_RESPONSE to send on the path the
// challenge arrived on.
func (v *Verifier) RecvPathChallenge(arrivedOn ID, f *frame.PathChallengeFrame) {
	v.pendingResponses[arrivedOn] = append(v.pendingResponses[arrivedOn], f.Data)
}

// RecvPathResponse marks arrivedOn validated if f's data matches an
// outstanding challenge expected on that path.
func (v *Verifier) RecvPathResponse(arrivedOn ID, f *frame.PathResponseFrame) {
	for _, pr := range v.probes {
		if pr.path == arrivedOn && pr.challenge == f.Data {
			v.validated[arrivedOn] = true
			pr.obs.SetAcked()
			return
		}
	}
}

// OnNonProbePacketReceived implements the migration/implicit-
// validation rule: a non-probing packet arriving on a validated,
// non-active path triggers migration; on a non-validated path it
// triggers implicit validation (a new probe).
func (v *Verifier) OnNonProbePacketReceived(arrivedOn ID, pool *ackobserver.Pool) error {
	if arrivedOn == v.active {
		return nil
	}
	if v.validated[arrivedOn] {
		v.active = arrivedOn
		return nil
	}
	return v.QueueProbe(arrivedOn, pool)
}

// GCDeadProbes removes probes whose timer has expired while still
// Lost or unconfirmed.
func (v *Verifier) GCDeadProbes() {
	kept := v.probes[:0]
	for _, pr := range v.probes {
		if pr.expired && (pr.obs.IsLost() || pr.obs.NotConfirmed()) {
			if pr.timer != nil {
				pr.timer.Stop()
			}
			continue
		}
		kept = append(kept, pr)
	}
	v.probes = kept
}
