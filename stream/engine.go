package stream

import (
	"github.com/luoxk/qcore/ackobserver"
	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/packet"
	"github.com/luoxk/qcore/resend"
	"github.com/luoxk/qcore/transporterror"
)

// SendOutcome is the result of one Engine.SendNext call.
type SendOutcome int

const (
	// SendOK means a STREAM frame was written (and, if the buffer
	// drained with FIN queued, the FIN bit was set).
	SendOK SendOutcome = iota
	// SendNoCapacity means the packet being built has no room for
	// even the minimal STREAM frame overhead.
	SendNoCapacity
	// SendBlockedByStream means the stream-level flow-control limit
	// was hit; the caller should schedule STREAM_DATA_BLOCKED.
	SendBlockedByStream
	// SendBlockedByConn means the connection-level flow-control limit
	// was hit; the caller should schedule DATA_BLOCKED.
	SendBlockedByConn
	// SendNothingToDo means the buffer is empty and no FIN is queued.
	SendNothingToDo
)

// Engine drives one stream's send and receive paths: segmentation and
// retransmission on send, reassembly and flow control on receive
// (spec.md C6).
type Engine struct {
	ID   uint64
	Send SendState
	Recv RecvState

	buf        WriteBuffer
	sentBytes  uint64
	sendLimit  *Limiter
	connSend   *Limiter
	resendReg  *resend.Registry[frame.StreamFrame]

	reasm      *Reassembler
	recvLimit  *Limiter
	connRecv   *Limiter

	// recvWindowAnchor is the stream receive limit last broadcast via
	// MAX_STREAM_DATA (or the initial limit, before any broadcast) —
	// the anchor Limiter.ShouldBroadcast measures "half the window
	// used" against.
	recvWindowAnchor uint64

	resetRequested bool
	resetAppErr    uint64
	resetWireSent  bool
	resetResendReg *resend.Registry[frame.ResetStreamFrame]

	stopSendingRequested bool
	stopSendingAppErr    uint64
	stopSendingWireSent  bool
	stopSendingResendReg *resend.Registry[frame.StopSendingFrame]
}

// NewEngine builds an Engine for streamID, with the given send buffer
// and per-stream/per-connection send and receive limiters.
func NewEngine(streamID uint64, buf WriteBuffer, streamSendLimit, connSend, streamRecvLimit, connRecv *Limiter) *Engine {
	return &Engine{
		ID:                   streamID,
		buf:                  buf,
		sendLimit:            streamSendLimit,
		connSend:             connSend,
		resendReg:            resend.New[frame.StreamFrame](),
		reasm:                NewReassembler(),
		recvLimit:            streamRecvLimit,
		connRecv:             connRecv,
		recvWindowAnchor:     streamRecvLimit.Limit(),
		resetResendReg:       resend.New[frame.ResetStreamFrame](),
		stopSendingResendReg: resend.New[frame.StopSendingFrame](),
	}
}

// SendNext implements the emission contract of spec.md §4.6: size and
// write at most one STREAM frame for this stream's pending data into
// w, charging the stream- and connection-level limiters atomically
// with the write.
func (e *Engine) SendNext(w *packet.Writer, pool *ackobserver.Pool) (SendOutcome, error) {
	if e.Send.IsReset() {
		return SendNothingToDo, nil
	}
	if e.Send == SendDataSent || e.Send == SendDataRecvd {
		// FIN has already gone out; lost copies are re-sent by RetransmitLost.
		return SendNothingToDo, nil
	}
	remain := e.buf.Remain()
	fin := e.buf.FinQueued() && remain == 0
	if remain == 0 && !fin {
		return SendNothingToDo, nil
	}

	overhead := frame.CalcStreamOverhead(e.ID, e.sentBytes)
	if uint64(w.Remain()) < overhead+1 {
		return SendNoCapacity, nil
	}

	fairness := e.buf.FairnessLimit()
	avail := remain
	if fairness > 0 && fairness < avail {
		avail = fairness
	}
	if sAvail := e.sendLimit.Avail(); sAvail < avail {
		avail = sAvail
	}
	if cAvail := e.connSend.Avail(); cAvail < avail {
		avail = cAvail
	}

	if avail == 0 && !fin {
		if e.sendLimit.Avail() == 0 {
			return SendBlockedByStream, nil
		}
		return SendBlockedByConn, nil
	}

	data := e.buf.Peek(avail)
	finBit := fin && avail == remain

	toFit := uint64(w.Remain())
	minLength := uint64(1)
	if finBit && avail == 0 {
		// A pure FIN carries no payload; don't demand one.
		minLength = 0
	}
	f, ok := frame.FitStreamNoLength(toFit, e.ID, e.sentBytes, data, finBit)
	if !ok {
		f, ok = frame.FitStreamWithLength(toFit, e.ID, e.sentBytes, data, finBit, minLength)
	}
	if !ok {
		return SendNoCapacity, nil
	}

	n := uint64(len(f.Data))
	e.sendLimit.Charge(n)
	e.connSend.Charge(n)
	if !w.Write(f) {
		return SendNoCapacity, nil
	}
	e.buf.ShiftFront(n)
	e.sentBytes += n
	e.Send.FirstByteWritten()

	obs := pool.Get()
	e.resendReg.Add(*f, obs)

	if f.Fin {
		if err := e.Send.FinEmitted(); err != nil {
			return SendOK, err
		}
	}
	return SendOK, nil
}

// RetransmitLost re-fits any Lost fragments back into w, splitting a
// fragment across packets when only part of it fits (the tail stays
// in the registry per spec.md §4.6's retransmission note).
func (e *Engine) RetransmitLost(w *packet.Writer, pool *ackobserver.Pool) error {
	return e.resendReg.Retransmit(func(f frame.StreamFrame, saveNew func(frame.StreamFrame, *ackobserver.Observer)) (resend.Outcome, error) {
		toFit := uint64(w.Remain())
		full, ok := frame.FitStreamWithLength(toFit, f.StreamID, f.Offset, f.Data, f.Fin, uint64(len(f.Data)))
		if ok && uint64(len(full.Data)) == uint64(len(f.Data)) {
			if !w.Write(full) {
				return resend.OutcomeNoCapacity, nil
			}
			return resend.OutcomeOK, nil
		}
		// Split: re-fit as much as currently fits, keep the tail.
		partial, ok := frame.FitStreamWithLength(toFit, f.StreamID, f.Offset, f.Data, false, 1)
		if !ok || len(partial.Data) == 0 {
			return resend.OutcomeNoCapacity, nil
		}
		if !w.Write(partial) {
			return resend.OutcomeNoCapacity, nil
		}
		sent := uint64(len(partial.Data))
		if sent < uint64(len(f.Data)) {
			tail := frame.StreamFrame{
				StreamID: f.StreamID,
				Offset:   f.Offset + sent,
				Data:     f.Data[sent:],
				Fin:      f.Fin,
			}
			saveNew(tail, pool.Get())
		}
		return resend.OutcomeOK, nil
	})
}

// MaybeAllAcked advances Send from DataSent to DataRecvd once FIN has
// been emitted and the resend registry holds no fragment. It marks no
// fragment Acked itself; the registry drops entries during
// RetransmitLost sweeps.
func (e *Engine) MaybeAllAcked() error {
	if e.resendReg.Len() == 0 && e.Send == SendDataSent {
		return e.Send.AllFramesAcked()
	}
	return nil
}

// RecvStreamFrame processes an incoming STREAM frame: validates
// against the stream- and connection-level receive limits, feeds the
// reassembler, and updates Recv per spec.md §4.5/§4.6.
func (e *Engine) RecvStreamFrame(f *frame.StreamFrame) error {
	if e.Recv.IsReset() {
		return nil
	}
	end := f.Offset + uint64(len(f.Data))
	if err := e.recvLimit.CheckReceive(end); err != nil {
		return err
	}
	if err := e.connRecv.CheckReceive(end); err != nil {
		return err
	}
	if f.Fin {
		if err := e.reasm.SetFinalSize(end); err != nil {
			return err
		}
		e.Recv.FrameWithFinArrives()
	}
	before := e.reasm.Cursor()
	if err := e.reasm.Insert(f.Offset, f.Data); err != nil {
		return err
	}
	if e.reasm.Cursor() > before {
		e.recvLimit.Charge(e.reasm.Cursor() - before)
		e.connRecv.Charge(e.reasm.Cursor() - before)
	}
	if e.reasm.ReadyToDeliver() {
		if err := e.Recv.ContiguousDelivered(); err != nil {
			return err
		}
		e.reasm.MarkDelivered()
	}
	return nil
}

// RecvCursor reports the receive side's contiguous-delivery cursor:
// bytes at and below this offset have been reassembled in order and
// are ready for the application to read.
func (e *Engine) RecvCursor() uint64 { return e.reasm.Cursor() }

// RecvResetStream processes an incoming RESET_STREAM frame.
func (e *Engine) RecvResetStream(f *frame.ResetStreamFrame) error {
	if _, known := e.reasm.FinalSize(); known {
		cur, _ := e.reasm.FinalSize()
		if cur != f.FinalSize {
			return transporterror.New(transporterror.FinalSizeError, "RESET_STREAM final size mismatch")
		}
	}
	if err := e.recvLimit.CheckReceive(f.FinalSize); err != nil {
		return err
	}
	e.Recv.ResetStreamArrives()
	return nil
}

// MaybeSendMaxStreamData checks whether this stream's receive window
// has been consumed past the "used >= limit - initial/2" threshold
// since the last broadcast and, if so, raises the window by
// windowSize and emits a MAX_STREAM_DATA frame advertising the new
// limit. Unlike STREAM frames, MAX_STREAM_DATA is not tracked in a
// resend.Registry: a later, larger window update supersedes a lost
// earlier one, so there is nothing to retransmit.
func (e *Engine) MaybeSendMaxStreamData(w *packet.Writer, windowSize uint64) (bool, error) {
	if e.Recv.IsReset() {
		return false, nil
	}
	if !e.recvLimit.ShouldBroadcast(e.recvWindowAnchor) {
		return false, nil
	}
	newLimit := e.recvLimit.Used() + windowSize
	f := &frame.MaxStreamDataFrame{StreamID: e.ID, MaximumStreamData: newLimit}
	if !w.Write(f) {
		return false, nil
	}
	e.recvLimit.Advance(newLimit)
	e.recvWindowAnchor = newLimit
	return true, nil
}

// RecvMaxStreamData processes an incoming MAX_STREAM_DATA frame,
// raising this stream's send credit. Reordered frames carrying a
// lower limit than already known are ignored by Limiter.Advance.
func (e *Engine) RecvMaxStreamData(f *frame.MaxStreamDataFrame) {
	e.sendLimit.Advance(f.MaximumStreamData)
}

// RequestReset marks the send side for reset with the given
// application error code. It is idempotent: a STOP_SENDING-triggered
// reset racing with an app-initiated one keeps whichever code was set
// first, per spec.md's "the local reset request wins ties" rule only
// applying when the app calls RequestReset before a peer STOP_SENDING
// is processed — OnStopSending only sets the code if none is set yet.
func (e *Engine) RequestReset(appErrorCode uint64) {
	if e.resetRequested {
		return
	}
	e.resetRequested = true
	e.resetAppErr = appErrorCode
	e.Send.AppRequestsReset()
}

// OnStopSending processes a peer STOP_SENDING: the stream must be
// reset with the peer-supplied error, unless the local app already
// requested a reset first (local reset wins ties).
func (e *Engine) OnStopSending(peerAppErrorCode uint64) {
	if e.resetRequested {
		return
	}
	e.RequestReset(peerAppErrorCode)
}

// PendingReset reports whether a RESET_STREAM needs to be (re-)sent,
// and the application error code to send it with.
func (e *Engine) PendingReset() (code uint64, pending bool) {
	return e.resetAppErr, e.Send == SendResetSent
}

// SendReset writes this stream's queued RESET_STREAM frame, exactly
// the way SendNext writes STREAM frames: built fresh, handed to w, and
// registered under a pooled ACK observer so RetransmitReset can re-emit
// it if loss recovery later reports it Lost. A no-op once the frame
// has already gone out once or no reset is pending.
func (e *Engine) SendReset(w *packet.Writer, pool *ackobserver.Pool) (bool, error) {
	code, pending := e.PendingReset()
	if !pending || e.resetWireSent {
		return false, nil
	}
	f := &frame.ResetStreamFrame{StreamID: e.ID, ApplicationErrorCode: code, FinalSize: e.sentBytes}
	if !w.Write(f) {
		return false, nil
	}
	e.resetWireSent = true
	e.resetResendReg.Add(*f, pool.Get())
	return true, nil
}

// RetransmitReset re-emits the RESET_STREAM frame if its ACK observer
// reports Lost, and keeps the re-emitted copy in the registry under a
// fresh observer.
func (e *Engine) RetransmitReset(w *packet.Writer) error {
	return e.resetResendReg.Retransmit(func(f frame.ResetStreamFrame, saveNew func(frame.ResetStreamFrame, *ackobserver.Observer)) (resend.Outcome, error) {
		ff := f
		if !w.Write(&ff) {
			return resend.OutcomeNoCapacity, nil
		}
		saveNew(ff, ackobserver.New())
		return resend.OutcomeOK, nil
	})
}

// MaybeResetAcked transitions ResetSent -> ResetRecvd once the
// RESET_STREAM frame has gone out and RetransmitReset's most recent
// sweep found no outstanding (Wait or Lost) copy left in the registry —
// the registry only drops an entry once its observer reports Acked.
func (e *Engine) MaybeResetAcked() error {
	if e.Send == SendResetSent && e.resetWireSent && e.resetResendReg.Len() == 0 {
		return e.Send.ResetAcked()
	}
	return nil
}

// RequestStopSending marks the receive side as wanting the peer to stop
// sending on this stream, with the given application error code. It is
// idempotent: only the first call's code is used.
func (e *Engine) RequestStopSending(appErrorCode uint64) {
	if e.stopSendingRequested {
		return
	}
	e.stopSendingRequested = true
	e.stopSendingAppErr = appErrorCode
}

// SendStopSending writes this stream's queued STOP_SENDING frame,
// mirroring SendReset: built fresh, handed to w, and registered under
// a pooled ACK observer so RetransmitStopSending can re-emit it if
// lost. A no-op once the frame has already gone out once or none is
// requested.
func (e *Engine) SendStopSending(w *packet.Writer, pool *ackobserver.Pool) (bool, error) {
	if !e.stopSendingRequested || e.stopSendingWireSent {
		return false, nil
	}
	f := &frame.StopSendingFrame{StreamID: e.ID, ApplicationErrorCode: e.stopSendingAppErr}
	if !w.Write(f) {
		return false, nil
	}
	e.stopSendingWireSent = true
	e.stopSendingResendReg.Add(*f, pool.Get())
	return true, nil
}

// RetransmitStopSending re-emits the STOP_SENDING frame if its ACK
// observer reports Lost. Unlike RESET_STREAM, no Engine state depends
// on STOP_SENDING's own acknowledgement — what matters is the peer's
// resulting RESET_STREAM, handled by RecvResetStream.
func (e *Engine) RetransmitStopSending(w *packet.Writer) error {
	return e.stopSendingResendReg.Retransmit(func(f frame.StopSendingFrame, saveNew func(frame.StopSendingFrame, *ackobserver.Observer)) (resend.Outcome, error) {
		ff := f
		if !w.Write(&ff) {
			return resend.OutcomeNoCapacity, nil
		}
		return resend.OutcomeOK, nil
	})
}
