// Package connid implements the two connection-ID sub-managers of
// spec.md C9: Issuer (local CIDs handed to the peer) and Acceptor
// (peer CIDs this side may address packets to), plus a tiny holder
// for the Initial/Retry CIDs that must never intermix with the issued
// set.
package connid

import (
	"encoding/binary"

	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/resend"
	"github.com/luoxk/qcore/transporterror"
)

// IssuedCID is one locally-issued connection ID record.
type IssuedCID struct {
	Seq        uint64
	CID        []byte
	ResetToken [16]byte
	Retired    bool
}

// Issuer maintains the local CIDs given to the peer (spec.md C9).
type Issuer struct {
	rand    iface.Random
	cidLen  int
	nextSeq uint64
	active  []*IssuedCID
	limit   uint64 // active_connection_id_limit advertised by the peer
	resend  *resend.Registry[frame.NewConnectionIDFrame]
}

// NewIssuer returns an Issuer generating cidLen-byte CIDs, bounded by
// the peer's active_connection_id_limit.
func NewIssuer(rnd iface.Random, cidLen int, activeConnectionIDLimit uint64) *Issuer {
	return &Issuer{
		rand:   rnd,
		cidLen: cidLen,
		limit:  activeConnectionIDLimit,
		resend: resend.New[frame.NewConnectionIDFrame](),
	}
}

// SetLimit updates the peer's active_connection_id_limit once learned
// from its transport parameters; a later TopUp call issues CIDs up to
// the new ceiling. A lower value only takes effect for future TopUp
// calls — already-issued CIDs are never retracted by this call alone.
func (is *Issuer) SetLimit(limit uint64) { is.limit = limit }

// Issue generates and records one new CID, returning the
// NEW_CONNECTION_ID frame to send for it.
func (is *Issuer) Issue(pool *ackobserver.Pool) (*frame.NewConnectionIDFrame, error) {
	cid := make([]byte, is.cidLen)
	if err := is.rand.GenRandom("connection_id", cid); err != nil {
		return nil, err
	}
	var token [16]byte
	if err := is.rand.GenRandom("stateless_reset_token", token[:]); err != nil {
		return nil, err
	}
	seq := is.nextSeq
	is.nextSeq++
	rec := &IssuedCID{Seq: seq, CID: cid, ResetToken: token}
	is.active = append(is.active, rec)

	f := &frame.NewConnectionIDFrame{
		SequenceNumber:      seq,
		RetirePriorTo:       0,
		ConnectionID:        cid,
		StatelessResetToken: token,
	}
	is.resend.Add(*f, pool.Get())
	return f, nil
}

// TopUp issues new CIDs until the number of non-retired active CIDs
// reaches active_connection_id_limit.
func (is *Issuer) TopUp(pool *ackobserver.Pool) ([]*frame.NewConnectionIDFrame, error) {
	var out []*frame.NewConnectionIDFrame
	for uint64(is.activeCount()) < is.limit {
		f, err := is.Issue(pool)
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (is *Issuer) activeCount() int {
	n := 0
	for _, r := range is.active {
		if !r.Retired {
			n++
		}
	}
	return n
}

// RecvRetireConnectionID processes a peer RETIRE_CONNECTION_ID frame:
// validates the referenced sequence exists and marks it retired.
func (is *Issuer) RecvRetireConnectionID(f *frame.RetireConnectionIDFrame) error {
	for _, r := range is.active {
		if r.Seq == f.SequenceNumber {
			r.Retired = true
			return nil
		}
	}
	return transporterror.New(transporterror.ProtocolViolation, "RETIRE_CONNECTION_ID for unknown sequence")
}

// RetransmitLost re-emits any lost NEW_CONNECTION_ID frames.
func (is *Issuer) RetransmitLost(w interface{ Write(frame.Frame) bool }) error {
	return is.resend.Retransmit(func(f frame.NewConnectionIDFrame, saveNew func(frame.NewConnectionIDFrame, *ackobserver.Observer)) (resend.Outcome, error) {
		ff := f
		if !w.Write(&ff) {
			return resend.OutcomeNoCapacity, nil
		}
		return resend.OutcomeOK, nil
	})
}

// AcceptedCID is one peer-supplied connection ID this side may
// address outgoing packets to.
type AcceptedCID struct {
	Seq             uint64
	CID             []byte
	ResetToken      [16]byte
	packetsSentWith int
	rotateAt        int
}

// Acceptor mirrors Issuer for peer-supplied CIDs (spec.md C9).
type Acceptor struct {
	rand          iface.Random
	cids          []*AcceptedCID
	retirePriorTo uint64
	maxPacketPerID int
	packetPerID    int
}

// NewAcceptor returns an Acceptor that rotates an active CID after a
// random number of packets within [packetPerID, maxPacketPerID].
func NewAcceptor(rnd iface.Random, packetPerID, maxPacketPerID int) *Acceptor {
	return &Acceptor{rand: rnd, packetPerID: packetPerID, maxPacketPerID: maxPacketPerID}
}

// RecvNewConnectionID records a peer-issued CID.
func (a *Acceptor) RecvNewConnectionID(f *frame.NewConnectionIDFrame) error {
	if f.RetirePriorTo < a.retirePriorTo {
		// Monotonicity already enforced by frame.Parse for
		// RetirePriorTo > SequenceNumber; here we additionally reject
		// a regression against our already-observed retirePriorTo.
		return transporterror.New(transporterror.ProtocolViolation, "retire_prior_to went backwards")
	}
	a.retirePriorTo = f.RetirePriorTo
	a.cids = append(a.cids, &AcceptedCID{Seq: f.SequenceNumber, CID: f.ConnectionID, ResetToken: f.StatelessResetToken})
	return a.pruneRetired()
}

// pruneRetired drops CIDs below retirePriorTo, refusing to leave fewer
// than one usable CID (spec.md C9).
func (a *Acceptor) pruneRetired() error {
	var kept []*AcceptedCID
	for _, c := range a.cids {
		if c.Seq < a.retirePriorTo {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 && len(a.cids) > 0 {
		return transporterror.New(transporterror.ProtocolViolation, "retire_prior_to would leave zero usable CIDs")
	}
	a.cids = kept
	return nil
}

// Current returns the CID currently in use for outgoing packets,
// rotating to a fresh one if the current one has exceeded its
// randomly chosen packet budget.
func (a *Acceptor) Current() (*AcceptedCID, error) {
	if len(a.cids) == 0 {
		return nil, transporterror.New(transporterror.ConnectionIDLimitError, "no CIDs available")
	}
	c := a.cids[0]
	if c.rotateAt == 0 {
		c.rotateAt = a.packetPerID
		if a.maxPacketPerID > a.packetPerID {
			jitter, err := a.rotationJitter(a.maxPacketPerID - a.packetPerID + 1)
			if err != nil {
				return nil, err
			}
			c.rotateAt += jitter
		}
	}
	if c.packetsSentWith >= c.rotateAt && len(a.cids) > 1 {
		a.cids = append(a.cids[1:], c)
		return a.Current()
	}
	return c, nil
}

// rotationJitter draws a uniform value in [0, n) from a.rand, the same
// collaborator-supplied randomness source every other random draw in
// this package goes through, rather than stdlib math/rand, so tests
// can make CID rotation deterministic.
func (a *Acceptor) rotationJitter(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var buf [8]byte
	if err := a.rand.GenRandom("cid_rotation_jitter", buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(n)), nil
}

// OnPacketSent records that a packet was sent using CID c's sequence.
func (a *Acceptor) OnPacketSent(c *AcceptedCID) { c.packetsSentWith++ }

// InitialHolder threads the Initial/Retry CIDs separately from the
// issued/accepted sets (spec.md C9: "so that the Initial packet's DCID
// ... does not intermix with the issued set").
type InitialHolder struct {
	OriginalDestinationCID []byte
	InitialSourceCID       []byte
	RetrySourceCID         []byte
}
