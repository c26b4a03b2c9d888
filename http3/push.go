package http3

import "github.com/luoxk/qcore/transporterror"

// PushController is the supplemental PUSH_PROMISE/CANCEL_PUSH
// bookkeeping pulled in from original_source's fnet/http3/stream.h:
// it tracks the advertised MAX_PUSH_ID and rejects a push id above it.
type PushController struct {
	maxPushID     uint64
	haveMaxPushID bool
	cancelled     map[uint64]bool
	nextPushID    uint64
}

// NewPushController returns an empty PushController.
func NewPushController() *PushController {
	return &PushController{cancelled: make(map[uint64]bool)}
}

// OnMaxPushID processes a received MAX_PUSH_ID frame. A MAX_PUSH_ID
// with a value lower than a previously advertised one is H3_ID_ERROR
// (the limit may only increase).
func (p *PushController) OnMaxPushID(id uint64) error {
	if p.haveMaxPushID && id < p.maxPushID {
		return transporterror.New(H3IDError, "MAX_PUSH_ID decreased")
	}
	p.maxPushID = id
	p.haveMaxPushID = true
	return nil
}

// OnCancelPush records that the peer cancelled push id.
func (p *PushController) OnCancelPush(id uint64) {
	p.cancelled[id] = true
}

// IsCancelled reports whether id was cancelled by the peer.
func (p *PushController) IsCancelled(id uint64) bool { return p.cancelled[id] }

// AllocatePushID reserves the next push ID for an outgoing
// PUSH_PROMISE, rejecting with H3_ID_ERROR if it would exceed the
// peer's advertised MAX_PUSH_ID.
func (p *PushController) AllocatePushID() (uint64, error) {
	if !p.haveMaxPushID || p.nextPushID > p.maxPushID {
		return 0, transporterror.New(H3IDError, "push id would exceed advertised MAX_PUSH_ID")
	}
	id := p.nextPushID
	p.nextPushID++
	return id, nil
}
