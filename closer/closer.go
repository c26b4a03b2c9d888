// Package closer implements the connection close/drain state machine
// of spec.md C11.
package closer

import (
	"time"

	"github.com/luoxk/qcore/frame"
	"github.com/luoxk/qcore/internal/iface"
	"github.com/luoxk/qcore/packet"
	"github.com/luoxk/qcore/transporterror"
)

// PacketType distinguishes which packet number space a close is being
// built for, since an app-code close in Initial/Handshake must be
// sanitized (RFC 9000 §10.2.3).
type PacketType int

const (
	PacketInitial PacketType = iota
	PacketHandshake
	PacketOneRTT
)

// Closer is the small three-bit state machine from spec.md C11.
type Closer struct {
	sent         bool
	received     bool
	shouldResend bool

	err *transporterror.QUICError

	savedPayload []byte
}

// New returns a Closer with no error recorded yet.
func New() *Closer { return &Closer{} }

// OnError records the initiating error if none has been recorded yet
// (first error wins; subsequent calls are ignored so a Runtime error
// produced while processing the peer's own CONNECTION_CLOSE doesn't
// overwrite the original cause).
func (c *Closer) OnError(err *transporterror.QUICError) {
	if c.err == nil {
		c.err = err
	}
}

// Err returns the recorded error, if any.
func (c *Closer) Err() *transporterror.QUICError { return c.err }

// Closing reports whether OnError has been called.
func (c *Closer) Closing() bool { return c.err != nil }

// Send produces the CONNECTION_CLOSE frame appropriate for pt and
// writes it into w. App-code closes in Handshake/Initial are
// sanitized to APPLICATION_ERROR with an empty reason per RFC 9000
// §10.2.3, since peers in those spaces may not understand the
// application's error space.
func (c *Closer) Send(w *packet.Writer, pt PacketType) bool {
	if c.err == nil {
		return false
	}
	code := c.err.Code
	isApp := c.err.IsApp
	reason := c.err.Message
	if isApp && pt != PacketOneRTT {
		code = transporterror.ApplicationError
		isApp = false
		reason = ""
	}
	f := &frame.ConnectionCloseFrame{
		IsApp:        isApp,
		ErrorCode:    uint64(code),
		FrameType:    c.err.FrameType,
		ReasonPhrase: []byte(reason),
	}
	if !w.Write(f) {
		return false
	}
	c.sent = true
	return true
}

// OnClosePacketSent preserves the exact encoded packet bytes so it can
// be re-emitted byte-for-byte on subsequent peer packets, per RFC 9000
// §10.2's idempotent-close requirement.
func (c *Closer) OnClosePacketSent(encoded []byte) {
	c.savedPayload = append([]byte(nil), encoded...)
}

// OnPeerPacketReceived processes the receipt of another valid QUIC
// packet addressed to this (closed) connection's CIDs while draining:
// it arms should_resend so the next tick re-emits the saved close.
func (c *Closer) OnPeerPacketReceived() {
	c.received = true
	if c.savedPayload != nil {
		c.shouldResend = true
	}
}

// TakeResend reports and clears should_resend; callers write
// SavedPayload() to the wire exactly once per arming.
func (c *Closer) TakeResend() bool {
	v := c.shouldResend
	c.shouldResend = false
	return v
}

// SavedPayload returns the exact encoded close packet recorded by
// OnClosePacketSent.
func (c *Closer) SavedPayload() []byte { return c.savedPayload }

// DrainLoop is the I/O-loop-facing handle returned by
// ExposeClosedContext: it carries the saved payload and a deadline
// timer, and the loop is expected to call Tick on every incoming UDP
// datagram plus once more when the timer fires.
type DrainLoop struct {
	closer   *Closer
	deadline time.Time
	timer    iface.Timer
	done     bool
}

// ExposeClosedContext hands the saved close payload and a deadline
// timer to the I/O loop, starting the drain period (spec.md C11).
func (c *Closer) ExposeClosedContext(clock iface.Clock, deadline time.Duration) *DrainLoop {
	dl := &DrainLoop{closer: c, deadline: clock.Now().Add(deadline)}
	dl.timer = clock.AfterFunc(deadline, func() { dl.done = true })
	return dl
}

// OnIncomingPacket should be called for every UDP datagram received
// while draining; validOnClosedCIDs tells it whether the packet
// addressed this connection's CIDs and parsed as a valid QUIC packet.
func (dl *DrainLoop) OnIncomingPacket(validOnClosedCIDs bool) {
	if validOnClosedCIDs {
		dl.closer.OnPeerPacketReceived()
	}
}

// Tick is called once per I/O loop iteration: if should_resend is set,
// it returns the saved payload to write once; if the deadline has
// passed, it reports done=true and the loop should terminate the
// drain.
func (dl *DrainLoop) Tick() (payload []byte, done bool) {
	if dl.done {
		return nil, true
	}
	if dl.closer.TakeResend() {
		return dl.closer.SavedPayload(), false
	}
	return nil, false
}

// Done reports whether the drain deadline has elapsed.
func (dl *DrainLoop) Done() bool { return dl.done }
