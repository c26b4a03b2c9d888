package frame

import (
	"bytes"

	"github.com/luoxk/qcore/varint"
)

// PaddingFrame is a single zero byte; a run of them is typically
// emitted together by packet.PadForHeaderProtection.
type PaddingFrame struct{}

func (f *PaddingFrame) Parse(r *bytes.Reader) error { return nil }
func (f *PaddingFrame) Append(b []byte) []byte      { return varint.Append(b, uint64(TypePadding)) }
func (f *PaddingFrame) Len(bool) uint64              { return 1 }

// PingFrame carries no payload; it exists purely to be ack-eliciting.
type PingFrame struct{}

func (f *PingFrame) Parse(r *bytes.Reader) error { return nil }
func (f *PingFrame) Append(b []byte) []byte      { return varint.Append(b, uint64(TypePing)) }
func (f *PingFrame) Len(bool) uint64              { return 1 }

// HandshakeDoneFrame signals that the handshake is confirmed; only the
// server ever sends it, and only in the Application (OneRTT) space.
type HandshakeDoneFrame struct{}

func (f *HandshakeDoneFrame) Parse(r *bytes.Reader) error { return nil }
func (f *HandshakeDoneFrame) Append(b []byte) []byte {
	return varint.Append(b, uint64(TypeHandshakeDone))
}
func (f *HandshakeDoneFrame) Len(bool) uint64 { return 1 }
