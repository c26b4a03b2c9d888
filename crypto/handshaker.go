// Package crypto drives the CRYPTO-stream side of the TLS 1.3
// handshake (spec.md C7): one mini append-only/ordered stream per
// encryption level, feeding the external TLS engine strictly in
// order, plus the HANDSHAKE_DONE lifecycle.
package crypto

import (
	"context"

	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/stream"
	"github.com/luoxk/qcore/transporterror"
)

// LevelStream is one encryption level's CRYPTO stream: a send-side
// append-only buffer with a send_offset cursor, and a receive-side
// reassembler reusing stream.Reassembler generically — the original
// implementation's comment that CRYPTO uses "the same ordered-
// fragment machinery" as stream receive, minus flow control, since
// CRYPTO has no flow-control limit of its own.
type LevelStream struct {
	level iface.EncLevel

	sendBuf    []byte
	sendOffset uint64

	recv *stream.Reassembler
	// delivered tracks how much of recv's contiguous prefix has
	// already been handed to the TLS engine, so out-of-order arrivals
	// that fill a gap trigger exactly one ProvideData call per newly
	// available span.
	delivered uint64
}

func newLevelStream(level iface.EncLevel) *LevelStream {
	return &LevelStream{level: level, recv: stream.NewReassembler()}
}

// QueueSend appends bytes to be sent on this level's CRYPTO stream.
func (ls *LevelStream) QueueSend(data []byte) {
	ls.sendBuf = append(ls.sendBuf, data...)
}

// SendNext builds at most one CRYPTO frame carrying up to maxLen bytes
// of pending send data, or returns ok=false if nothing is pending.
func (ls *LevelStream) SendNext(maxLen uint64) (*frame.CryptoFrame, bool) {
	pending := uint64(len(ls.sendBuf)) - ls.sendOffset
	if pending == 0 {
		return nil, false
	}
	n := pending
	if n > maxLen {
		n = maxLen
	}
	if n == 0 {
		return nil, false
	}
	f := &frame.CryptoFrame{Offset: ls.sendOffset, Data: ls.sendBuf[ls.sendOffset : ls.sendOffset+n]}
	ls.sendOffset += n
	return f, true
}

// Handshaker owns one LevelStream per encryption level and drives the
// TLS engine plus the HANDSHAKE_DONE lifecycle (spec.md §4.7).
type Handshaker struct {
	levels map[iface.EncLevel]*LevelStream
	// sideBuf retains every byte ever received per level so a
	// gap-closing frame can still hand the TLS engine a correct
	// contiguous span.
	sideBuf map[iface.EncLevel][]byte

	tls iface.TLSEngine

	isServer bool

	handshakeDonePending bool // server: HANDSHAKE_DONE queued but not yet ACKed
	handshakeDoneSent    bool
	handshakeDoneAcked   bool
	handshakeDoneObs     bool // set once on_complete fires, guards single emission

	clientSawDone bool
}

// NewHandshaker returns a Handshaker driving tls, for a server or
// client depending on isServer.
func NewHandshaker(tls iface.TLSEngine, isServer bool) *Handshaker {
	h := &Handshaker{
		levels:   make(map[iface.EncLevel]*LevelStream),
		sideBuf:  make(map[iface.EncLevel][]byte),
		tls:      tls,
		isServer: isServer,
	}
	for _, l := range []iface.EncLevel{iface.EncInitial, iface.EncHandshake, iface.EncApplication} {
		h.levels[l] = newLevelStream(l)
	}
	return h
}

// Level returns the LevelStream for l, creating it if this is the
// first reference (covers iface.Enc0RTT, not pre-allocated above).
func (h *Handshaker) Level(l iface.EncLevel) *LevelStream {
	ls, ok := h.levels[l]
	if !ok {
		ls = newLevelStream(l)
		h.levels[l] = ls
	}
	return ls
}

// RecvCrypto processes an incoming CRYPTO frame at level l: buffers
// out-of-order data, and on in-order delivery invokes the TLS engine's
// ProvideData followed by Accept/Connect. A TLS "would block" result
// is not an error.
func (h *Handshaker) RecvCrypto(ctx context.Context, l iface.EncLevel, f *frame.CryptoFrame) error {
	ls := h.Level(l)

	// Grow the side buffer to at least offset+len(data), then copy in
	// (handles both in-order and out-of-order arrival uniformly).
	end := f.Offset + uint64(len(f.Data))
	buf := h.sideBuf[l]
	if uint64(len(buf)) < end {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[f.Offset:end], f.Data)
	h.sideBuf[l] = buf

	before := ls.recv.Cursor()
	if err := ls.recv.Insert(f.Offset, f.Data); err != nil {
		return err
	}
	after := ls.recv.Cursor()
	if after <= before {
		return nil // still waiting on an earlier gap
	}

	newly := buf[before:after]
	ls.delivered = after
	if err := h.tls.ProvideData(l, newly); err != nil {
		return err
	}
	var err error
	if h.isServer {
		err = h.tls.Accept(ctx)
	} else {
		err = h.tls.Connect(ctx)
	}
	if err != nil && err != iface.ErrWouldBlock {
		return err
	}

	if h.tls.HandshakeComplete() && h.isServer && !h.handshakeDoneObs {
		h.handshakeDoneObs = true
		h.handshakeDonePending = true
	}
	return nil
}

// PendingHandshakeDone reports whether the server has a HANDSHAKE_DONE
// frame queued for its next OneRTT packet.
func (h *Handshaker) PendingHandshakeDone() bool {
	return h.isServer && h.handshakeDonePending && !h.handshakeDoneSent
}

// OnHandshakeDoneSent records that HANDSHAKE_DONE was written into a
// OneRTT packet; the caller still tracks its ACK observer separately
// and calls OnHandshakeDoneAcked once it resolves.
func (h *Handshaker) OnHandshakeDoneSent() {
	h.handshakeDoneSent = true
}

// OnHandshakeDoneAcked marks HANDSHAKE_DONE confirmed.
func (h *Handshaker) OnHandshakeDoneAcked() {
	h.handshakeDoneAcked = true
	h.handshakeDonePending = false
}

// RecvHandshakeDone processes a client's receipt of HANDSHAKE_DONE. A
// server receiving one, or a client receiving one outside the
// Application space, is a protocol violation — encLevelOK must be
// checked by the caller (the Application encryption level) before
// calling this, but this guards the is-client invariant regardless.
func (h *Handshaker) RecvHandshakeDone() error {
	if h.isServer {
		return transporterror.New(transporterror.ProtocolViolation, "server received HANDSHAKE_DONE")
	}
	h.clientSawDone = true
	return nil
}

// HandshakeComplete mirrors the TLS engine's own signal.
func (h *Handshaker) HandshakeComplete() bool { return h.tls.HandshakeComplete() }

// HandshakeConfirmed implements spec.md §4.7's derivation:
// handshake_complete for servers, handshake_done for clients.
func (h *Handshaker) HandshakeConfirmed() bool {
	if h.isServer {
		return h.tls.HandshakeComplete()
	}
	return h.clientSawDone
}
