// Package packet implements the bounded frame writer and per-packet
// frame-category bookkeeping a QUIC sender needs when assembling the
// body of one packet (spec.md C2). It never touches packet numbers,
// header protection, or AEAD sealing — those stay with the loss
// recovery / UDP I/O collaborators named in spec.md section 6.
package packet

import (
	"github.com/luoxk/qcore/frame"
)

// Categories is a bitmask of frame categories relevant to the loss
// recovery module's packet bookkeeping.
type Categories uint32

const (
	AckEliciting Categories = 1 << iota
	PathProbing
	ContainsCrypto
	ContainsStreamFIN
	ContainsPing
	ContainsHandshakeDone
	ContainsAck
)

// isAckEliciting reports whether f makes a packet ack-eliciting;
// PADDING, ACK and CONNECTION_CLOSE never do on their own.
func isAckEliciting(f frame.Frame) bool {
	switch f.(type) {
	case *frame.PaddingFrame, *frame.AckFrame, *frame.ConnectionCloseFrame:
		return false
	default:
		return true
	}
}

func isPathProbing(f frame.Frame) bool {
	switch f.(type) {
	case *frame.PathChallengeFrame, *frame.PathResponseFrame, *frame.PaddingFrame,
		*frame.NewConnectionIDFrame:
		return true
	default:
		return false
	}
}

func categorize(f frame.Frame) Categories {
	var c Categories
	if isAckEliciting(f) {
		c |= AckEliciting
	}
	if isPathProbing(f) {
		c |= PathProbing
	}
	switch sf := f.(type) {
	case *frame.CryptoFrame:
		c |= ContainsCrypto
	case *frame.StreamFrame:
		if sf.Fin {
			c |= ContainsStreamFIN
		}
	case *frame.PingFrame:
		c |= ContainsPing
	case *frame.HandshakeDoneFrame:
		c |= ContainsHandshakeDone
	case *frame.AckFrame:
		c |= ContainsAck
	}
	return c
}

// Writer accumulates frames into a bounded byte buffer, tracking the
// aggregate Categories bitmask of everything written so far so the
// caller can hand it to the loss-recovery module alongside the set of
// ACK observers for this packet.
type Writer struct {
	buf        []byte
	limit       int
	categories Categories
}

// NewWriter wraps buf (reused across calls by the caller, typically
// sized to the path MTU) bounding writes to limit bytes.
func NewWriter(buf []byte, limit int) *Writer {
	return &Writer{buf: buf[:0], limit: limit}
}

// Remain reports how many more bytes can be written before Write
// starts returning false.
func (w *Writer) Remain() int {
	return w.limit - len(w.buf)
}

// Write appends f's wire encoding if it fits within the remaining
// budget, recording its category bits on success. It reports whether
// the frame was written.
func (w *Writer) Write(f frame.Frame) bool {
	need := int(f.Len(true))
	if need > w.Remain() {
		return false
	}
	w.buf = f.Append(w.buf)
	w.categories |= categorize(f)
	return true
}

// Bytes returns the packet body assembled so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Categories returns the aggregate frame-category bitmask for
// everything written so far.
func (w *Writer) Categories() Categories { return w.categories }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }
